package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"multicompletion/logger"
)

const (
	daemonStartTimeout = 5 * time.Second
	daemonPollInterval = 100 * time.Millisecond
)

// Client relays the editor's stdio channel to the daemon socket
type Client struct {
	socketPath string
	args       args
}

func NewClient(a args) *Client {
	return &Client{
		socketPath: getSocketPath(),
		args:       a,
	}
}

// Connect relays stdin to the daemon and the daemon's replies to stdout
// until either side closes
func (c *Client) Connect() error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	go func() {
		io.Copy(conn, os.Stdin)
		conn.Close()
	}()

	_, err = io.Copy(os.Stdout, conn)
	return err
}

func (c *Client) EnsureDaemonRunning() error {
	if running, pid := isDaemonRunning(); running {
		logger.Debug("daemon already running with PID %d", pid)
		return nil
	}
	return c.startDaemon()
}

// daemonArgs forwards the client's flags to the spawned daemon
func (c *Client) daemonArgs() []string {
	cmd := []string{os.Args[0], "--daemon"}
	if c.args.Config != "" {
		cmd = append(cmd, "--config", c.args.Config)
	}
	if c.args.LogLevel != "" {
		cmd = append(cmd, "--log-level", c.args.LogLevel)
	}
	return cmd
}

func (c *Client) startDaemon() error {
	logger.Debug("starting daemon: %q", c.daemonArgs())

	_, err := os.StartProcess(os.Args[0], c.daemonArgs(), &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{nil, nil, nil},
	})
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	return c.waitForDaemon()
}

// waitForDaemon polls until the daemon accepts connections. The pid file is
// written before the socket listens, so a live pid alone is not enough.
func (c *Client) waitForDaemon() error {
	deadline := time.Now().Add(daemonStartTimeout)
	for time.Now().Before(deadline) {
		if running, _ := isDaemonRunning(); running {
			if conn, err := net.Dial("unix", c.socketPath); err == nil {
				conn.Close()
				logger.Debug("daemon started successfully")
				return nil
			}
		}
		time.Sleep(daemonPollInterval)
	}
	return fmt.Errorf("daemon failed to start within %s", daemonStartTimeout)
}
