package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os/signal"
	"path"
	"sync"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/filesync"
)

func mirrorCmd(global *globalFlags) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "mirror [url]",
		Short: "Follow a running server's files",
		Long: `Connect to a server's sync socket and follow its files.

Changes are logged as they arrive. With --out every file is
fetched and written below the given directory.

Examples:
  assetsync mirror
  assetsync mirror ws://localhost:8000/socket --out ./copy`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			url := cfg.SocketURL()
			if len(args) == 1 {
				url = args[0]
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := filesync.NewMirror(filesync.MirrorOptions{Logger: logger})
			m.Online().Attach(func(online bool) {
				if online {
					success("Connected to %s", url)
				} else {
					warn("Disconnected")
				}
			}, nil)

			var disk *diskMirror
			if out != "" {
				fs := afero.NewBasePathFs(afero.NewOsFs(), out)
				disk = newDiskMirror(m, fs, logger)
				go disk.run(ctx)
			}
			m.Changes().Attach(func(c filesync.Change) {
				info("%-8s %s", c.Action, c.Entry.Filename)
				if disk != nil {
					disk.queue(c)
				}
			}, nil)

			info("Connecting to %s", url)
			if err := m.Run(ctx, url); err != nil && !stderrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write mirrored files below this directory")

	return cmd
}

// diskMirror writes mirror changes to a filesystem. Changes are queued and
// applied off the connection goroutine, since fetching content is itself a
// request on that connection.
type diskMirror struct {
	mirror interface {
		Read(ctx context.Context, filename string) (string, error)
	}
	fs     afero.Fs
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]filesync.Change
	order   []string
	signal  chan struct{}
}

func newDiskMirror(m *filesync.Mirror, fs afero.Fs, logger *slog.Logger) *diskMirror {
	return &diskMirror{
		mirror:  m,
		fs:      fs,
		logger:  logger.With("component", "disk"),
		pending: make(map[string]filesync.Change),
		signal:  make(chan struct{}, 1),
	}
}

// queue records c, replacing an older pending change to the same file.
func (d *diskMirror) queue(c filesync.Change) {
	d.mu.Lock()
	name := c.Entry.Filename
	if _, ok := d.pending[name]; !ok {
		d.order = append(d.order, name)
	}
	d.pending[name] = c
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *diskMirror) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.signal:
		}

		d.mu.Lock()
		batch := make([]filesync.Change, 0, len(d.order))
		for _, name := range d.order {
			batch = append(batch, d.pending[name])
		}
		d.pending = make(map[string]filesync.Change)
		d.order = nil
		d.mu.Unlock()

		for _, c := range batch {
			if err := d.apply(ctx, c); err != nil {
				d.logger.Warn("write failed", "file", c.Entry.Filename, "error", err)
			}
		}
	}
}

// apply writes a loaded entry, removes a deleted one and fetches the content
// of an announced one. The fetch produces a loaded update of its own.
func (d *diskMirror) apply(ctx context.Context, c filesync.Change) error {
	name := path.Clean("/" + c.Entry.Filename)
	switch {
	case c.Action == files.ActionRemoved:
		err := d.fs.Remove(name)
		if err != nil && !stderrors.Is(err, afero.ErrFileNotFound) {
			return err
		}
		return nil
	case c.Entry.Loaded:
		if err := d.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
			return err
		}
		return afero.WriteFile(d.fs, name, []byte(c.Entry.Content), 0o644)
	default:
		_, err := d.mirror.Read(ctx, c.Entry.Filename)
		return err
	}
}
