package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/filesync"
)

type fakeReader struct {
	reads chan string
}

func (f *fakeReader) Read(_ context.Context, filename string) (string, error) {
	f.reads <- filename
	return "", nil
}

func newTestDisk(fs afero.Fs) (*diskMirror, *fakeReader) {
	r := &fakeReader{reads: make(chan string, 8)}
	return &diskMirror{
		mirror:  r,
		fs:      fs,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending: make(map[string]filesync.Change),
		signal:  make(chan struct{}, 1),
	}, r
}

func TestDiskMirror_Apply(t *testing.T) {
	fs := afero.NewMemMapFs()
	d, r := newTestDisk(fs)
	ctx := context.Background()

	err := d.apply(ctx, filesync.Change{
		Action: files.ActionCreated,
		Entry:  filesync.Entry{Filename: "/src/app.js", Content: "x()", Loaded: true},
	})
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, "/src/app.js")
	require.NoError(t, err)
	assert.Equal(t, "x()", string(data))

	err = d.apply(ctx, filesync.Change{
		Action: files.ActionCreated,
		Entry:  filesync.Entry{Filename: "/style.css"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/style.css", <-r.reads)
	exists, _ := afero.Exists(fs, "/style.css")
	assert.False(t, exists)

	err = d.apply(ctx, filesync.Change{
		Action: files.ActionRemoved,
		Entry:  filesync.Entry{Filename: "/src/app.js"},
	})
	require.NoError(t, err)
	exists, _ = afero.Exists(fs, "/src/app.js")
	assert.False(t, exists)

	err = d.apply(ctx, filesync.Change{
		Action: files.ActionRemoved,
		Entry:  filesync.Entry{Filename: "/missing.js"},
	})
	assert.NoError(t, err)
}

func TestDiskMirror_QueueKeepsLatest(t *testing.T) {
	fs := afero.NewMemMapFs()
	d, _ := newTestDisk(fs)

	d.queue(filesync.Change{Action: files.ActionCreated, Entry: filesync.Entry{Filename: "/a.js", Content: "1", Loaded: true}})
	d.queue(filesync.Change{Action: files.ActionUpdated, Entry: filesync.Entry{Filename: "/a.js", Content: "2", Loaded: true}})
	d.queue(filesync.Change{Action: files.ActionCreated, Entry: filesync.Entry{Filename: "/b.js", Content: "b", Loaded: true}})

	assert.Equal(t, []string{"/a.js", "/b.js"}, d.order)
	assert.Equal(t, "2", d.pending["/a.js"].Entry.Content)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.run(ctx)

	assert.Eventually(t, func() bool {
		data, err := afero.ReadFile(fs, "/a.js")
		if err != nil || string(data) != "2" {
			return false
		}
		exists, _ := afero.Exists(fs, "/b.js")
		return exists
	}, time.Second, 10*time.Millisecond)
}
