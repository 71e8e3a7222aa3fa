// Package publish uploads built bundles to S3 under content-addressed keys.
//
// A bundle is stored at <prefix><digest>.js, where digest is the same
// content digest the registry uses, so publishing unchanged content is a
// no-op.
package publish

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/metrics"
)

// Client is the subset of the S3 API the publisher uses.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds S3 settings.
type Config struct {
	Bucket string
	Prefix string
	Region string
}

// Object describes a published bundle.
type Object struct {
	Bucket string
	Key    string
	Digest string

	// Existed is true when the object was already present and no upload
	// happened.
	Existed bool
}

// Publisher uploads bundles.
type Publisher struct {
	client  Client
	bucket  string
	prefix  string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Options configures a Publisher.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New creates a Publisher for an existing client.
func New(client Client, cfg Config, opts Options) *Publisher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		metrics: opts.Metrics,
		logger:  logger.With("component", "publish"),
	}
}

// NewFromEnv creates a Publisher using the default AWS credential chain.
func NewFromEnv(ctx context.Context, cfg Config, opts Options) (*Publisher, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.New("A170").WithDetail("load aws config").Wrap(err)
	}
	return New(s3.NewFromConfig(awsCfg), cfg, opts), nil
}

// Key returns the object key for content.
func (p *Publisher) Key(content string) string {
	return p.prefix + files.Digest(content) + ".js"
}

// Publish uploads content unless an object with the same key exists.
func (p *Publisher) Publish(ctx context.Context, content string) (*Object, error) {
	obj := &Object{
		Bucket: p.bucket,
		Key:    p.Key(content),
		Digest: files.Digest(content),
	}

	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(obj.Key),
	})
	if err == nil {
		obj.Existed = true
		p.metrics.AssetPublished("existed")
		p.logger.Debug("bundle already published", "bucket", p.bucket, "key", obj.Key)
		return obj, nil
	}
	if !isNotFound(err) {
		p.metrics.AssetPublished("error")
		return nil, errors.New("A170").WithDetail(obj.Key).Wrap(err)
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(obj.Key),
		Body:         strings.NewReader(content),
		ContentType:  aws.String("application/javascript; charset=utf-8"),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
		Metadata: map[string]string{
			"digest": obj.Digest,
		},
	})
	if err != nil {
		p.metrics.AssetPublished("error")
		return nil, errors.New("A170").WithDetail(obj.Key).Wrap(err)
	}

	p.metrics.AssetPublished("uploaded")
	p.logger.Info("bundle published", "bucket", p.bucket, "key", obj.Key, "bytes", len(content))
	return obj, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if stderrors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return stderrors.As(err, &nsk)
}
