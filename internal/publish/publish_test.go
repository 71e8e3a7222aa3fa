package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
)

type fakeS3 struct {
	objects map[string]string
	headErr error
	putErr  error
	puts    []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]string)}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = string(body)
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func newTestPublisher(client Client) *Publisher {
	return New(client, Config{Bucket: "assets", Prefix: "bundles/"}, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestPublish_UploadsUnderDigestKey(t *testing.T) {
	client := newFakeS3()
	p := newTestPublisher(client)

	obj, err := p.Publish(context.Background(), "var a = 1;\n")
	require.NoError(t, err)

	digest := files.Digest("var a = 1;\n")
	assert.Equal(t, "bundles/"+digest+".js", obj.Key)
	assert.Equal(t, digest, obj.Digest)
	assert.False(t, obj.Existed)
	assert.Equal(t, "var a = 1;\n", client.objects[obj.Key])

	require.Len(t, client.puts, 1)
	assert.Equal(t, "assets", aws.ToString(client.puts[0].Bucket))
	assert.Equal(t, digest, client.puts[0].Metadata["digest"])
}

func TestPublish_SkipsExisting(t *testing.T) {
	client := newFakeS3()
	p := newTestPublisher(client)

	_, err := p.Publish(context.Background(), "x")
	require.NoError(t, err)
	obj, err := p.Publish(context.Background(), "x")
	require.NoError(t, err)

	assert.True(t, obj.Existed)
	assert.Len(t, client.puts, 1)
}

func TestPublish_Errors(t *testing.T) {
	t.Run("head fails", func(t *testing.T) {
		client := newFakeS3()
		client.headErr = fmt.Errorf("access denied")
		_, err := newTestPublisher(client).Publish(context.Background(), "x")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "A170"))
		assert.Empty(t, client.puts)
	})

	t.Run("put fails", func(t *testing.T) {
		client := newFakeS3()
		client.putErr = fmt.Errorf("slow down")
		_, err := newTestPublisher(client).Publish(context.Background(), "x")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "A170"))
		assert.Contains(t, err.Error(), "slow down")
	})
}
