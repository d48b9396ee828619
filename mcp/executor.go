package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"parley/config"
	"parley/model"
)

// toolClient is the part of an MCP client the executor needs
type toolClient interface {
	Initialize(ctx context.Context, request mcptypes.InitializeRequest) (*mcptypes.InitializeResult, error)
	ListTools(ctx context.Context, request mcptypes.ListToolsRequest) (*mcptypes.ListToolsResult, error)
	CallTool(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error)
	Close() error
}

type plugin struct {
	id     string
	client toolClient
	cmd    *exec.Cmd
	tools  []mcptypes.Tool
}

// Executor runs tool calls against MCP servers started over stdio
type Executor struct {
	mu            sync.RWMutex
	plugins       map[string]*plugin
	maxToolOutput int
}

// NewExecutor creates an executor with no servers running. Tool output is
// truncated to maxToolOutput bytes when positive.
func NewExecutor(maxToolOutput int) *Executor {
	return &Executor{
		plugins:       make(map[string]*plugin),
		maxToolOutput: maxToolOutput,
	}
}

// Start launches a configured MCP server and lists its tools
func (e *Executor) Start(ctx context.Context, cfg config.PluginConfig) error {
	e.mu.RLock()
	_, running := e.plugins[cfg.ID]
	e.mu.RUnlock()
	if running {
		return fmt.Errorf("plugin %s already running", cfg.ID)
	}

	var capturedCmd *exec.Cmd
	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		capturedCmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		cfg.Command,
		pluginEnv(cfg.Env),
		cfg.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		return fmt.Errorf("failed to start plugin %s: %w", cfg.ID, err)
	}

	if err := e.attach(ctx, cfg.ID, mcpClient, capturedCmd); err != nil {
		mcpClient.Close()
		return err
	}

	if config.DebugLog != nil && capturedCmd != nil && capturedCmd.Process != nil {
		config.DebugLog.Printf("[MCP] Started plugin '%s' with PID %d", cfg.ID, capturedCmd.Process.Pid)
	}
	return nil
}

// attach initializes a connected client and registers its tools
func (e *Executor) attach(ctx context.Context, id string, c toolClient, cmd *exec.Cmd) error {
	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: "2025-06-18",
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "parley",
				Version: "1.0.0",
			},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize plugin %s: %w", id, err)
	}

	toolsResult, err := c.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools for %s: %w", id, err)
	}

	e.mu.Lock()
	e.plugins[id] = &plugin{id: id, client: c, cmd: cmd, tools: toolsResult.Tools}
	e.mu.Unlock()

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Plugin '%s' provides %d tools", id, len(toolsResult.Tools))
	}
	return nil
}

// StartAll launches every plugin, returning the first error after trying all
func (e *Executor) StartAll(ctx context.Context, plugins []config.PluginConfig) error {
	var firstErr error
	for _, p := range plugins {
		if err := e.Start(ctx, p); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[MCP] %v", err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Tools returns the specs of every tool of every running plugin, sorted by name
func (e *Executor) Tools() []model.ToolSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var specs []model.ToolSpec
	for id, p := range e.plugins {
		for _, t := range p.tools {
			specs = append(specs, ToolSpecFromMCP(id, t))
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Call runs one tool call and returns its flattened text result. A result the
// server flags as an error is returned as an error.
func (e *Executor) Call(ctx context.Context, call model.ToolCall) (string, error) {
	pluginID, toolName := ParseToolName(call.Name)

	e.mu.RLock()
	p, ok := e.plugins[pluginID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("plugin %s not running", pluginID)
	}

	args, err := ParseArguments(call.Arguments)
	if err != nil {
		return "", fmt.Errorf("%s: %w", call.Name, err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Calling %s with %d args", call.Name, len(args))
	}

	result, err := p.client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", call.Name, err)
	}

	text := ResultText(result, e.maxToolOutput)
	if result.IsError {
		return "", fmt.Errorf("%s reported an error: %s", call.Name, text)
	}
	return text, nil
}

// Stop closes one plugin's client and kills its process
func (e *Executor) Stop(ctx context.Context, pluginID string) error {
	e.mu.Lock()
	p, ok := e.plugins[pluginID]
	delete(e.plugins, pluginID)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %s not found", pluginID)
	}

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- p.client.Close()
	}()
	select {
	case <-closeDone:
	case <-closeCtx.Done():
	}

	if p.cmd != nil && p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[MCP] Stop: killing '%s': %v", pluginID, err)
		}
	}
	return nil
}

// Shutdown stops every plugin in parallel
func (e *Executor) Shutdown(ctx context.Context) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.plugins))
	for id := range e.plugins {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = e.Stop(ctx, id)
		}(id)
	}
	wg.Wait()
}

// pluginEnv starts from the current environment to keep PATH and friends
func pluginEnv(envMap map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, envMap[k]))
	}
	return env
}
