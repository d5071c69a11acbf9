package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"aide/internal/shared/logging"
)

const (
	protocolVersion = "2024-11-05"
	requestTimeout  = 30 * time.Second
	stopTimeout     = 5 * time.Second
)

// ServerConfig describes one external tool server to spawn.
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
}

// Client owns one server process and correlates JSON-RPC requests with
// responses over its stdio pipes.
type Client struct {
	config ServerConfig
	logger logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool

	nextID  atomic.Int64
	pending map[string]chan *response
	pmu     sync.Mutex
}

func NewClient(config ServerConfig, logger logging.Logger) *Client {
	return &Client{
		config:  config,
		logger:  logging.OrNop(logger),
		pending: make(map[string]chan *response),
	}
}

// Start spawns the server process and performs the initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("server %s already running", c.config.Name)
	}

	path, err := exec.LookPath(c.config.Command)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("server %s: %w", c.config.Name, err)
	}
	cmd := exec.Command(path, c.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start %s: %w", c.config.Name, err)
	}
	c.cmd = cmd
	c.stdin = stdin
	c.running = true
	c.mu.Unlock()

	c.logger.Info("mcp server %s started (pid %d)", c.config.Name, cmd.Process.Pid)
	go c.readLoop(stdout)
	go c.logStderr(stderr)

	if _, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "aide", "version": "1.0"},
	}); err != nil {
		_ = c.Stop()
		return fmt.Errorf("initialize %s: %w", c.config.Name, err)
	}
	return c.notify("notifications/initialized", nil)
}

// Stop closes stdin for a graceful exit and kills the process if it does
// not comply in time.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stdin := c.stdin
	cmd := c.cmd
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(stopTimeout):
		c.logger.Warn("mcp server %s did not exit, killing", c.config.Name)
		return cmd.Process.Kill()
	}
}

// ListTools queries the server's tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]toolDescriptor, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool and flattens the text content of the result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}
	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("tools/call result: %w", err)
	}
	var text string
	for _, item := range result.Content {
		if item.Type == "text" {
			if text != "" {
				text += "\n"
			}
			text += item.Text
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, text)
	}
	return text, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	ch := make(chan *response, 1)
	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	if err := c.send(request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: request timed out", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) notify(method string, params any) error {
	return c.send(request{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (c *Client) send(req request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.stdin == nil {
		return fmt.Errorf("server %s not running", c.config.Name)
	}
	_, err = c.stdin.Write(append(raw, '\n'))
	return err
}

// readLoop dispatches responses to waiting callers by request id.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Debug("mcp %s: unparseable line: %s", c.config.Name, line)
			continue
		}
		if resp.ID == "" {
			// Server-initiated notification; nothing listens for these.
			continue
		}
		c.pmu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pmu.Unlock()
		if ok {
			ch <- &resp
		}
	}
	c.mu.Lock()
	wasRunning := c.running
	c.running = false
	c.mu.Unlock()
	if wasRunning {
		c.logger.Warn("mcp server %s closed its stdout", c.config.Name)
	}
}

func (c *Client) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.logger.Debug("mcp %s stderr: %s", c.config.Name, scanner.Text())
	}
}
