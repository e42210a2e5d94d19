package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/relaybridge/relaybridge/pkg/api"
	"github.com/relaybridge/relaybridge/pkg/tools"
)

// qualifiedNameSep separates a server name from a tool's local name in a
// Registry's qualified tool names ("server_name::local_name").
const qualifiedNameSep = "::"

// Registry implements tools.ToolExecutor for MCP server tools. Unlike a
// lazily-discovering executor, a Registry is fully materialized at Load
// time: every configured server is connected and its tools enumerated
// before Load returns, so a bad server configuration fails startup rather
// than surfacing as a confusing runtime tool_result.
type Registry struct {
	mu sync.RWMutex

	// clients maps server name to MCPClient.
	clients map[string]*MCPClient

	// entries maps qualified tool name ("server::local") to its owning
	// server and definition.
	entries map[string]registryEntry
}

type registryEntry struct {
	serverName string
	localName  string
	def        api.ToolDefinition
}

// Ensure Registry implements tools.ToolExecutor at compile time.
var _ tools.ToolExecutor = (*Registry)(nil)

// Load connects to every configured MCP server and discovers its tools,
// returning a fully populated Registry. A referenced server that cannot be
// reached, or a single server reporting two tools under the same local
// name, fails the whole load: there is no partial registry.
func Load(ctx context.Context, servers []ServerConfig) (*Registry, error) {
	clients := make(map[string]*MCPClient, len(servers))
	entries := make(map[string]registryEntry)

	for _, cfg := range servers {
		client := NewMCPClient(cfg)
		if err := client.Connect(ctx); err != nil {
			return nil, api.NewToolFailure(api.ErrorKindConfigInvalid,
				fmt.Sprintf("connecting to MCP server %q: %v", cfg.Name, err))
		}

		defs, err := client.DiscoverTools(ctx)
		if err != nil {
			_ = client.Close()
			return nil, api.NewToolFailure(api.ErrorKindConfigInvalid,
				fmt.Sprintf("discovering tools from %q: %v", cfg.Name, err))
		}

		seen := make(map[string]bool, len(defs))
		for _, td := range defs {
			if seen[td.Name] {
				_ = client.Close()
				return nil, api.NewToolFailure(api.ErrorKindDuplicateTool,
					fmt.Sprintf("server %q reports tool %q more than once", cfg.Name, td.Name))
			}
			seen[td.Name] = true

			qualified := cfg.Name + qualifiedNameSep + td.Name
			qd := td
			qd.Name = qualified
			entries[qualified] = registryEntry{serverName: cfg.Name, localName: td.Name, def: qd}
		}

		clients[cfg.Name] = client
		slog.Info("loaded MCP server", "server", cfg.Name, "tools", len(defs))
	}

	return &Registry{clients: clients, entries: entries}, nil
}

// List returns every tool the registry knows about, under its qualified
// name, sorted for stable iteration.
func (r *Registry) List() []api.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]api.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Kind returns ToolKindMCP.
func (r *Registry) Kind() tools.ToolKind {
	return tools.ToolKindMCP
}

// CanExecute reports whether toolName (qualified or bare local name,
// provided exactly one server owns that local name) is known to the
// registry.
func (r *Registry) CanExecute(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolve(toolName)
	return ok
}

// Execute routes the call to its owning MCP server. Per-call deadlines
// are the caller's responsibility (ctx carries them); Execute never
// blocks past what ctx allows.
func (r *Registry) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.resolve(call.Name)
	r.mu.RUnlock()

	if !ok {
		return &tools.ToolResult{
			CallID:  call.ID,
			Output:  fmt.Sprintf("no MCP server provides tool %q", call.Name),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	client := r.clients[entry.serverName]
	r.mu.RUnlock()

	localCall := call
	localCall.Name = entry.localName
	return client.CallTool(ctx, localCall)
}

// resolve looks up a tool by its qualified name, falling back to bare
// local-name lookup when exactly one registered tool carries that local
// name. Must be called with r.mu held (read or write).
func (r *Registry) resolve(name string) (registryEntry, bool) {
	if e, ok := r.entries[name]; ok {
		return e, true
	}

	var match registryEntry
	count := 0
	for qualified, e := range r.entries {
		if e.localName == name || strings.HasSuffix(qualified, qualifiedNameSep+name) {
			match = e
			count++
		}
	}
	if count == 1 {
		return match, true
	}
	return registryEntry{}, false
}

// Close closes every MCP server connection the registry owns.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for name, client := range r.clients {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close MCP client", "server", name, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
