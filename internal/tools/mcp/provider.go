package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"aide/internal/shared/logging"
	"aide/internal/tools"
)

// remoteTool adapts one server-side tool to the Tool interface under the
// name mcp__<server>__<tool>.
type remoteTool struct {
	client      *Client
	server      string
	remote      string
	description string
	schema      map[string]any
}

func (t *remoteTool) Name() string {
	return fmt.Sprintf("mcp__%s__%s", t.server, t.remote)
}

func (t *remoteTool) Description() string { return t.description }

func (t *remoteTool) Schema() map[string]any {
	if t.schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.schema
}

func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return t.client.CallTool(ctx, t.remote, args)
}

// Manager starts configured servers and keeps their tools registered.
type Manager struct {
	clients []*Client
	logger  logging.Logger
}

func NewManager(logger logging.Logger) *Manager {
	return &Manager{logger: logging.OrNop(logger)}
}

// LoadServerConfigs reads a mcp_servers.json file:
// {"servers": [{"name": ..., "command": ..., "args": [...], "env": {...}}]}.
// A missing file yields no servers.
func LoadServerConfigs(path string) ([]ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var file struct {
		Servers []ServerConfig `json:"servers"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Servers, nil
}

// StartAll spawns every server and registers its tools in the registry's
// dynamic tier. A server that fails to start is logged and skipped; the
// rest keep working.
func (m *Manager) StartAll(ctx context.Context, configs []ServerConfig, registry *tools.Registry) {
	for _, config := range configs {
		client := NewClient(config, m.logger)
		if err := client.Start(ctx); err != nil {
			m.logger.Error("mcp server %s unavailable: %v", config.Name, err)
			continue
		}
		descriptors, err := client.ListTools(ctx)
		if err != nil {
			m.logger.Error("mcp server %s tools/list: %v", config.Name, err)
			_ = client.Stop()
			continue
		}
		for _, d := range descriptors {
			registry.RegisterDynamic(&remoteTool{
				client:      client,
				server:      config.Name,
				remote:      d.Name,
				description: d.Description,
				schema:      d.InputSchema,
			})
		}
		m.logger.Info("mcp server %s registered %d tools", config.Name, len(descriptors))
		m.clients = append(m.clients, client)
	}
}

// StopAll shuts every running server down.
func (m *Manager) StopAll() {
	for _, client := range m.clients {
		if err := client.Stop(); err != nil {
			m.logger.Warn("stop mcp server: %v", err)
		}
	}
	m.clients = nil
}
