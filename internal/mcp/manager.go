package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gptsh/gptsh/internal/llm"
)

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Client *Client
}

// StatusUpdate is sent when a server's status changes.
type StatusUpdate struct {
	Name   string
	Status ServerStatus
	Error  error
}

// Manager owns MCP server lifecycle and implements the engine's tool
// invoker. Builtin servers are always available; configured servers
// come and go with their connections. One failed server never blocks
// the others.
type Manager struct {
	config   *Config
	builtins map[string]BuiltinServer
	clients  map[string]*Client
	statuses map[string]*ServerState
	mu       sync.RWMutex

	// Channel for status updates (optional, for UI notifications)
	statusChan chan StatusUpdate
}

// NewManager creates a manager with the default builtin servers.
func NewManager(cfg *Config) *Manager {
	m := &Manager{
		config:   cfg,
		builtins: make(map[string]BuiltinServer),
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
	}
	for _, b := range Builtins() {
		m.builtins[b.Name()] = b
	}
	return m
}

// SetStatusChannel sets a channel to receive status updates.
func (m *Manager) SetStatusChannel(ch chan StatusUpdate) {
	m.mu.Lock()
	m.statusChan = ch
	m.mu.Unlock()
}

func (m *Manager) sendStatus(name string, status ServerStatus, err error) {
	m.mu.RLock()
	ch := m.statusChan
	m.mu.RUnlock()
	if ch != nil {
		select {
		case ch <- StatusUpdate{Name: name, Status: status, Error: err}:
		default:
			// Don't block if channel is full
		}
	}
}

// StartAll connects every enabled configured server concurrently and
// waits for all attempts. A failed server is logged and marked failed;
// its tools are simply absent from the advertised list.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()
	if cfg == nil {
		return
	}

	var wg sync.WaitGroup
	for name, serverCfg := range cfg.Servers {
		if serverCfg.Disabled {
			continue
		}
		if err := serverCfg.Validate(); err != nil {
			slog.Warn("skipping invalid MCP server config", "server", name, "error", err)
			m.setState(name, StatusFailed, err, nil)
			continue
		}
		wg.Add(1)
		go func(name string, serverCfg ServerConfig) {
			defer wg.Done()
			m.startOne(ctx, name, serverCfg)
		}(name, serverCfg)
	}
	wg.Wait()
}

// Enable starts one server in the background (non-blocking).
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()
	if cfg == nil {
		return fmt.Errorf("no MCP configuration loaded")
	}
	serverCfg, ok := cfg.Servers[name]
	if !ok {
		return fmt.Errorf("unknown MCP server: %s", name)
	}

	m.mu.RLock()
	state, exists := m.statuses[name]
	running := exists && (state.Status == StatusStarting || state.Status == StatusReady)
	m.mu.RUnlock()
	if running {
		return nil
	}

	go m.startOne(ctx, name, serverCfg)
	return nil
}

func (m *Manager) startOne(ctx context.Context, name string, serverCfg ServerConfig) {
	client := NewClient(name, serverCfg)
	m.setState(name, StatusStarting, nil, client)
	m.sendStatus(name, StatusStarting, nil)

	err := client.Start(ctx)
	if err != nil {
		slog.Warn("MCP server failed to start", "server", name, "error", err)
		m.setState(name, StatusFailed, err, nil)
		m.sendStatus(name, StatusFailed, err)
		return
	}

	m.mu.Lock()
	m.clients[name] = client
	m.mu.Unlock()
	m.setState(name, StatusReady, nil, client)
	m.sendStatus(name, StatusReady, nil)
}

func (m *Manager) setState(name string, status ServerStatus, err error, client *Client) {
	m.mu.Lock()
	m.statuses[name] = &ServerState{Name: name, Status: status, Error: err, Client: client}
	m.mu.Unlock()
}

// Disable stops a configured server.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	delete(m.clients, name)
	if state, exists := m.statuses[name]; exists {
		state.Status = StatusStopped
		state.Error = nil
		state.Client = nil
	}
	m.mu.Unlock()

	m.sendStatus(name, StatusStopped, nil)
	if !ok {
		return nil
	}
	return client.Stop()
}

// StopAll stops all running configured servers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

// ServerStatusOf returns the current status of a server.
func (m *Manager) ServerStatusOf(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.builtins[name]; ok {
		return StatusReady, nil
	}
	state, ok := m.statuses[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.Status, state.Error
}

// States returns the state of all known servers for display, builtins
// first, sorted by name within each group.
func (m *Manager) States() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.builtins)+len(m.statuses))
	builtinNames := make([]string, 0, len(m.builtins))
	for name := range m.builtins {
		builtinNames = append(builtinNames, name)
	}
	sort.Strings(builtinNames)
	for _, name := range builtinNames {
		states = append(states, ServerState{Name: name, Status: StatusReady})
	}

	configured := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		configured = append(configured, name)
	}
	sort.Strings(configured)
	for _, name := range configured {
		s := m.statuses[name]
		states = append(states, ServerState{Name: s.Name, Status: s.Status, Error: s.Error})
	}
	return states
}

// Tools returns every advertised tool across builtin and ready
// servers, with names qualified as "server.tool". Order is stable so
// repeated requests advertise the same list.
func (m *Manager) Tools() []llm.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []llm.ToolSpec

	builtinNames := make([]string, 0, len(m.builtins))
	for name := range m.builtins {
		builtinNames = append(builtinNames, name)
	}
	sort.Strings(builtinNames)
	for _, name := range builtinNames {
		for _, tool := range m.builtins[name].Tools() {
			all = append(all, llm.ToolSpec{
				Name:        name + "." + tool.Name,
				Description: tool.Description,
				Schema:      tool.Schema,
			})
		}
	}

	configured := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		configured = append(configured, name)
	}
	sort.Strings(configured)
	for _, name := range configured {
		state := m.statuses[name]
		if state.Status != StatusReady || state.Client == nil {
			continue
		}
		for _, tool := range state.Client.Tools() {
			all = append(all, llm.ToolSpec{
				Name:        name + "." + tool.Name,
				Description: tool.Description,
				Schema:      tool.Schema,
			})
		}
	}
	return all
}

// Call routes a tool call to its server. Builtins shadow configured
// servers of the same name.
func (m *Manager) Call(ctx context.Context, server, tool string, args json.RawMessage) (string, error) {
	m.mu.RLock()
	builtin, isBuiltin := m.builtins[server]
	state, hasState := m.statuses[server]
	m.mu.RUnlock()

	if isBuiltin {
		return builtin.Call(ctx, tool, args)
	}

	if !hasState || state.Status != StatusReady || state.Client == nil {
		return "", fmt.Errorf("MCP server %s is not running", server)
	}
	return state.Client.CallTool(ctx, tool, args)
}
