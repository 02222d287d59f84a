package control

import (
	"fmt"
	"io"
	"os/exec"
	"time"
)

// procTransport adapts a child tmux control-mode process to the
// io.ReadWriteCloser the session expects: reads come from the child's
// stdout, writes go to its stdin.
type procTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (t *procTransport) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *procTransport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

// Close closes the child's stdin, which makes tmux detach the control
// client, then reaps the process. A child that lingers past the grace
// period is killed.
func (t *procTransport) Close() error {
	_ = t.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		_ = t.cmd.Process.Kill()
		return <-done
	}
}

// SpawnTmux starts "tmux -CC" with the given extra arguments and
// returns a transport over its stdio.
func SpawnTmux(args ...string) (io.ReadWriteCloser, error) {
	cmd := exec.Command("tmux", append([]string{"-CC"}, args...)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("tmux stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("tmux stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tmux: %w", err)
	}
	return &procTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// Connect attaches to the named tmux session in control mode,
// creating it if needed, and returns a running session.
func Connect(sessionName string, opts Options) (*Session, error) {
	args := []string{"new-session", "-A"}
	if sessionName != "" {
		args = append(args, "-s", sessionName)
	}
	transport, err := SpawnTmux(args...)
	if err != nil {
		return nil, err
	}
	return NewSession(transport, opts), nil
}
