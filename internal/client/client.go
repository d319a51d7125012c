// Package client wraps the cec-client subprocess: it is both the line
// source (bus traffic on stdout) and the command sink (tx injections on
// stdin) for the watch loop.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// writeTimeout bounds a stdin write so a hung cec-client cannot
	// stall the watch loop.
	writeTimeout = 2 * time.Second
	// stopTimeout bounds the graceful shutdown before a kill.
	stopTimeout = 2 * time.Second
)

// Config contains settings for spawning cec-client.
type Config struct {
	// Binary is the executable name or path.
	Binary string
	// LogLevel is cec-client's -d value; 8 keeps output to TRAFFIC.
	LogLevel int
	// Device is an optional adapter path appended to the command line.
	Device string
}

// Client owns the cec-client process and its pipes.
type Client struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	lines chan string

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool

	linesRead    atomic.Uint64
	commandsSent atomic.Uint64
}

// Stats contains transport counters for health reporting.
type Stats struct {
	Running      bool
	LinesRead    uint64
	CommandsSent uint64
}

// New creates a client; the process is not spawned until Start.
func New(cfg Config) *Client {
	return &Client{
		cfg:   cfg,
		lines: make(chan string, 64),
	}
}

// args builds the cec-client command line.
func (c *Client) args() []string {
	a := []string{"-d", strconv.Itoa(c.cfg.LogLevel)}
	if c.cfg.Device != "" {
		a = append(a, c.cfg.Device)
	}
	return a
}

// Start spawns cec-client and begins streaming its output.
func (c *Client) Start(ctx context.Context) error {
	if c.isActive.Load() {
		return fmt.Errorf("cec client already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.cmd = exec.CommandContext(c.ctx, c.cfg.Binary, c.args()...)

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	c.stdin = stdin

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	c.stdout = stdout

	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	c.stderr = stderr

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.cfg.Binary, err)
	}

	c.isActive.Store(true)

	slog.Info("cec client spawned",
		"binary", c.cfg.Binary,
		"args", c.args(),
		"pid", c.cmd.Process.Pid,
	)

	c.wg.Add(3)
	go c.readLines()
	go c.logStderr()
	go c.waitProcess()

	return nil
}

// Lines returns the stream of raw trace lines. The channel closes when
// cec-client's stdout ends, which the watch loop treats as end of
// input.
func (c *Client) Lines() <-chan string {
	return c.lines
}

// Send writes one command line to cec-client's stdin with a timeout.
// A write failure here means the injection channel is gone; callers
// treat it as fatal.
func (c *Client) Send(command string) error {
	if !c.isActive.Load() {
		return fmt.Errorf("cec client not active")
	}

	writeErr := make(chan error, 1)
	go func() {
		_, err := io.WriteString(c.stdin, command+"\n")
		writeErr <- err
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("failed to write command to cec-client: %w", err)
		}
		c.commandsSent.Add(1)
		return nil
	case <-time.After(writeTimeout):
		return fmt.Errorf("cec-client stdin write timeout")
	case <-c.ctx.Done():
		return fmt.Errorf("cec client stopping during write")
	}
}

// readLines streams stdout into the lines channel.
func (c *Client) readLines() {
	defer c.wg.Done()
	defer close(c.lines)

	scanner := bufio.NewScanner(c.stdout)
	for scanner.Scan() {
		line := scanner.Text()
		c.linesRead.Add(1)

		select {
		case c.lines <- line:
		case <-c.ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("error reading cec-client output", "error", err)
		return
	}
	slog.Debug("cec-client stdout closed")
}

// logStderr forwards cec-client's stderr to the log at debug level;
// libCEC is chatty there and none of it is actionable for us.
func (c *Client) logStderr() {
	defer c.wg.Done()

	scanner := bufio.NewScanner(c.stderr)
	for scanner.Scan() {
		slog.Debug("cec-client stderr", "log", scanner.Text())
	}
}

// waitProcess reaps the process so it cannot linger as a zombie.
func (c *Client) waitProcess() {
	defer c.wg.Done()

	if c.cmd == nil || c.cmd.Process == nil {
		return
	}

	err := c.cmd.Wait()
	if err != nil {
		select {
		case <-c.ctx.Done():
			slog.Debug("cec-client exited (shutdown)", "pid", c.cmd.Process.Pid)
		default:
			slog.Error("cec-client exited unexpectedly",
				"pid", c.cmd.Process.Pid,
				"error", err,
			)
		}
		return
	}
	slog.Info("cec-client exited cleanly", "pid", c.cmd.Process.Pid)
}

// Stop performs the graceful shutdown handshake: ask cec-client to
// quit, close its stdin, and kill it if it overstays the timeout.
func (c *Client) Stop() error {
	if !c.isActive.Load() {
		return nil
	}
	c.isActive.Store(false)

	slog.Info("stopping cec client")

	// Best-effort quit command before the pipes go away.
	if c.stdin != nil {
		if _, err := io.WriteString(c.stdin, "q\n"); err != nil {
			slog.Debug("failed to send quit command", "error", err)
		}
		c.stdin.Close()
	}

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("cec client stopped cleanly",
			"lines_read", c.linesRead.Load(),
			"commands_sent", c.commandsSent.Load(),
		)
	case <-time.After(stopTimeout):
		slog.Warn("cec client stop timeout, killing process")
		if c.cmd != nil && c.cmd.Process != nil {
			if err := c.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill cec-client", "error", err)
			}
		}
	}

	return nil
}

// Stats returns transport counters.
func (c *Client) Stats() Stats {
	return Stats{
		Running:      c.isActive.Load(),
		LinesRead:    c.linesRead.Load(),
		CommandsSent: c.commandsSent.Load(),
	}
}
