// Package ports defines the thin abstract interfaces (C9) the core
// consumes but never implements against a concrete backend: LLM,
// Embedding, Vector Store, and Sandbox. Every port is implementable
// without reference to framework internals, per spec §4.9.
package ports

import "context"

// Role is a chat message role on the LLM wire interface.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a single tool invocation requested by the LLM.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition is the JSON-Schema-backed description of a callable
// tool, as presented to the LLM port.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema draft-2020-12
}

// Message is one entry in the ordered chat history sent to the LLM.
// Tool invocations are assistant messages annotated with ToolCalls;
// observations are user-role messages carrying ToolResults.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResultMessage
}

// ToolResultMessage carries a normalised tool outcome back to the LLM as
// an observation.
type ToolResultMessage struct {
	CallID  string
	Content string
	IsError bool
}

// ChatRequest is the input to LLMPort.Chat.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the normalised output of LLMPort.Chat.
type ChatResponse struct {
	Content    string
	Reasoning  string
	ToolCalls  []ToolCall
	StopReason string
	Usage      TokenUsage
}

// TokenUsage reports token accounting for one chat call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMPort is the chat interface every LLM provider adapter implements.
// It has no embedding method; embeddings come from EmbeddingPort.
type LLMPort interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Model() string
}

// EmbeddingPort turns text into vectors for semantic memory retrieval.
type EmbeddingPort interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// VectorMatch is one hit from VectorStorePort.Search.
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// VectorStorePort is the L4 long-term memory backend.
type VectorStorePort interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// VectorRecord is a full stored entry, returned only by stores that
// implement VectorEnumerator.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// VectorEnumerator is an optional capability a VectorStorePort
// implementation may provide to support whole-collection operations like
// L4 cluster compression (§4.4). A store that only implements
// VectorStorePort still works; compression degrades to a no-op for it.
type VectorEnumerator interface {
	All(ctx context.Context) ([]VectorRecord, error)
}

// ToolSpec describes a tool an agent asks the sandbox to mint at
// runtime, via a create_tool tool the embedder registers (this module
// ships none).
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Source      string // sandbox-specific implementation payload (e.g. script body)
}

// SandboxPort lets an agent create and execute tools dynamically,
// consumed by an embedder-registered create_tool tool (§4.6); no such
// tool is built into this module.
type SandboxPort interface {
	CreateTool(ctx context.Context, spec ToolSpec) error
	ListTools(ctx context.Context) ([]ToolSpec, error)
	Execute(ctx context.Context, toolName string, args map[string]any) (string, error)
}
