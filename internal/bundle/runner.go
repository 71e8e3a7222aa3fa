package bundle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	maxStderr = 64 << 10

	// stopTimeout bounds the wait after a canceled build is signalled.
	stopTimeout = 5 * time.Second
)

// Outcome is what a build process reported.
type Outcome struct {
	Messages []Message
	ExitCode int
	Stderr   string
}

// Runner runs one build process. The error is non-nil only when the process
// could not be run at all.
type Runner interface {
	Run(ctx context.Context, args []string) (Outcome, error)
}

// ExecRunner runs the build command as a child process.
type ExecRunner struct {
	// Command is the program and its leading arguments, e.g.
	// ["/usr/local/bin/assetsync", "build"].
	Command []string

	// Env is appended to the current environment.
	Env []string

	Logger *slog.Logger
}

// DefaultCommand runs the current executable's build subcommand.
func DefaultCommand() []string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return []string{exe, "build"}
}

// Run starts the process, collects its messages and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, args []string) (Outcome, error) {
	command := r.Command
	if len(command) == 0 {
		command = DefaultCommand()
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, command[0], append(append([]string(nil), command[1:]...), args...)...)
	cmd.Env = append(append(os.Environ(), r.Env...), IPCEnv+"=1")
	configureProcess(cmd)
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, err
	}
	if err := cmd.Start(); err != nil {
		return Outcome{}, err
	}
	logger.Debug("build process started", "pid", cmd.Process.Pid, "args", strings.Join(args, " "))

	var out Outcome
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), 256<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Debug("build output", "line", string(line))
			continue
		}
		out.Messages = append(out.Messages, msg)
	}

	err = cmd.Wait()
	out.Stderr = stderr.String()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case stderrors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return out, err
	}
	return out, nil
}

type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
