package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
const terminationGracePeriod = 5 * time.Second

// Transport supplies the byte streams to and from the bridge process.
// Abstracted so tests can drive a Client over in-memory pipes.
type Transport interface {
	// Start launches the process and returns its stdin writer and stdout reader.
	Start(ctx context.Context) (io.WriteCloser, io.Reader, error)
	// Stop terminates the process and releases its streams.
	Stop() error
}

// procTransport runs the bridge as a child process. Stderr is streamed to the
// logger line by line so bridge diagnostics land in our log.
type procTransport struct {
	command string
	args    []string
	logger  *slog.Logger

	cmd  *exec.Cmd
	done chan error
}

func newProcTransport(command string, args []string, logger *slog.Logger) *procTransport {
	return &procTransport{command: command, args: args, logger: logger}
}

func (t *procTransport) Start(ctx context.Context) (io.WriteCloser, io.Reader, error) {
	cmd := exec.Command(t.command, t.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	t.logger.Debug("starting bridge process", "command", t.command)
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start process: %w", err)
	}
	t.cmd = cmd

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			t.logger.Debug("bridge stderr", "line", scanner.Text())
		}
	}()

	t.done = make(chan error, 1)
	go func() {
		t.done <- cmd.Wait()
	}()

	return stdin, stdout, nil
}

// Stop terminates the process: SIGTERM, a grace period, then SIGKILL.
func (t *procTransport) Stop() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.logger.Debug("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-t.done:
		t.logger.Debug("bridge process exited after SIGTERM")
	case <-grace.C:
		t.logger.Warn("bridge process did not exit after SIGTERM, sending SIGKILL")
		if err := t.cmd.Process.Kill(); err != nil {
			t.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-t.done
	}
	return nil
}
