package filesync

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/assetsync/assetsync/internal/errors"
)

// EditorOpener returns an Open func that starts command with the filename
// appended as its last argument. The editor runs detached from the request.
func EditorOpener(command string, logger *slog.Logger) func(ctx context.Context, filename string) error {
	if logger == nil {
		logger = slog.Default()
	}
	fields := strings.Fields(command)

	return func(_ context.Context, filename string) error {
		if len(fields) == 0 {
			return errors.New("A162")
		}

		args := append(append([]string(nil), fields[1:]...), filename)
		cmd := exec.Command(fields[0], args...)
		if err := cmd.Start(); err != nil {
			return errors.New("A133").WithDetail(fields[0]).Wrap(err)
		}
		logger.Info("editor started", "command", fields[0], "file", filename, "pid", cmd.Process.Pid)

		go func() {
			if err := cmd.Wait(); err != nil {
				logger.Warn("editor exited with error", "command", fields[0], "file", filename, "error", err)
			}
		}()
		return nil
	}
}
