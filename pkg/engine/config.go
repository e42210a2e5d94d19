package engine

import (
	"time"

	"github.com/relaybridge/relaybridge/pkg/tools"
)

// defaultIterationCap bounds the tool-use loop when the config omits one.
// Nominal value from the orchestrator's design: enough for a handful of
// dependent tool calls without letting a misbehaving model spin forever.
const defaultIterationCap = 8

// defaultToolCallDeadline bounds a single registry.invoke call when the
// config omits one.
const defaultToolCallDeadline = 60 * time.Second

// Config holds configuration for the core engine.
type Config struct {
	// DefaultModel is used when the request omits the model field.
	// Empty string means a model is always required in the request.
	DefaultModel string

	// Executors are the tool executors the orchestrator's registry
	// dispatches calls to (MCP, sandbox, builtin). Read-mostly once the
	// engine is constructed; never mutated during a request.
	Executors []tools.ToolExecutor

	// IterationCap bounds how many driver turns one request may take
	// before the orchestrator gives up with IterationCapExceeded. Zero
	// means use defaultIterationCap.
	IterationCap int

	// ToolCallDeadline bounds a single tool invocation. Zero means use
	// defaultToolCallDeadline.
	ToolCallDeadline time.Duration
}

func (c Config) iterationCap() int {
	if c.IterationCap > 0 {
		return c.IterationCap
	}
	return defaultIterationCap
}

func (c Config) toolCallDeadline() time.Duration {
	if c.ToolCallDeadline > 0 {
		return c.ToolCallDeadline
	}
	return defaultToolCallDeadline
}
