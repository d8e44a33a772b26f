package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Process is a generator service started by the oracle.
type Process struct {
	Port    int
	cmd     *exec.Cmd
	logFile *os.File
}

type LaunchOpts struct {
	// Command is the service argv. A "{port}" argument is replaced by the
	// chosen port.
	Command      []string
	Addr         string
	EnvFile      string
	LogDir       string
	StartTimeout time.Duration
}

func FindFreePort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}

func (p *Process) Addr() string {
	return fmt.Sprintf("http://localhost:%d", p.Port)
}

// Launch starts the generator service and waits until its port accepts
// connections. The port comes from opts.Addr when it names one, otherwise a
// free port is picked.
func Launch(ctx context.Context, opts *LaunchOpts) (*Process, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("generator command is empty")
	}
	port, err := portOf(opts.Addr)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		if port, err = FindFreePort(); err != nil {
			return nil, err
		}
	}

	logDir := opts.LogDir
	if logDir == "" {
		logDir = os.TempDir()
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	logFile, err := os.Create(filepath.Join(logDir, fmt.Sprintf("generator-%d.log", port)))
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	args := make([]string, len(opts.Command))
	for i, a := range opts.Command {
		args[i] = strings.ReplaceAll(a, "{port}", strconv.Itoa(port))
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = os.Environ()
	if opts.EnvFile != "" {
		vars, err := godotenv.Read(opts.EnvFile)
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("reading generator env file: %w", err)
		}
		for k, v := range vars {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("starting generator: %w", err)
	}

	timeout := opts.StartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := waitForPort(ctx, port, timeout); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		logFile.Close()
		return nil, fmt.Errorf("generator did not start: %w", err)
	}
	return &Process{Port: port, cmd: cmd, logFile: logFile}, nil
}

func (p *Process) Stop() error {
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
	}
	if p.logFile != nil {
		return p.logFile.Close()
	}
	return nil
}

func portOf(addr string) (int, error) {
	if addr == "" {
		return 0, nil
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return 0, fmt.Errorf("parsing generator address: %w", err)
	}
	if u.Port() == "" {
		return 0, nil
	}
	return strconv.Atoi(u.Port())
}

func waitForPort(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("port %d not ready after %s", port, timeout)
}
