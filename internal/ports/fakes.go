package ports

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// FakeLLM is a canned, scenario-based LLM port used in tests and as a
// runnable demo default when no real provider is configured, in the
// spirit of the teacher's mockClient.
type FakeLLM struct {
	mu        sync.Mutex
	Scenarios []FakeScenario
	calls     int
}

// FakeScenario matches a ChatRequest (by a predicate over the last user
// message) to a canned response.
type FakeScenario struct {
	Match    func(req ChatRequest) bool
	Response ChatResponse
}

// NewFakeLLM builds a FakeLLM with the given scenarios, tried in order;
// if none match, a default "Mock LLM response" reply with no tool calls
// is returned so a loop under test always terminates.
func NewFakeLLM(scenarios ...FakeScenario) *FakeLLM {
	return &FakeLLM{Scenarios: scenarios}
}

func (f *FakeLLM) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	for _, s := range f.Scenarios {
		if s.Match(req) {
			resp := s.Response
			if resp.Usage == (TokenUsage{}) {
				resp.Usage = TokenUsage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
			}
			if resp.StopReason == "" {
				resp.StopReason = "stop"
			}
			return &resp, nil
		}
	}
	return &ChatResponse{
		Content:    "Mock LLM response",
		StopReason: "stop",
		Usage:      TokenUsage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

func (f *FakeLLM) Model() string { return "fake" }

// Calls reports how many times Chat has been invoked, for assertions on
// iteration counts.
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastUserContent returns the content of the last user-role message in
// req, the common predicate basis for FakeScenario.Match.
func LastUserContent(req ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

// FakeEmbedder produces a deterministic, low-dimensional bag-of-words
// embedding so cosine similarity in tests behaves meaningfully without
// depending on a real embedding model.
type FakeEmbedder struct {
	dims int
}

func NewFakeEmbedder(dims int) *FakeEmbedder {
	if dims <= 0 {
		dims = 32
	}
	return &FakeEmbedder{dims: dims}
}

func (e *FakeEmbedder) Dimensions() int { return e.dims }

func (e *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := hashString(word)
		v[int(h%uint32(e.dims))]++
	}
	normalize(v)
	return v, nil
}

func (e *FakeEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

// InMemoryVectorStore is a minimal VectorStorePort backed by a map and
// brute-force cosine search; sufficient for tests and small deployments,
// and a drop-in replacement target for chromem-go in production.
type InMemoryVectorStore struct {
	mu    sync.RWMutex
	items map[string]storedVector
}

type storedVector struct {
	vector   []float32
	metadata map[string]any
}

func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{items: make(map[string]storedVector)}
}

func (s *InMemoryVectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = storedVector{vector: vector, metadata: metadata}
	return nil
}

func (s *InMemoryVectorStore) Search(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]VectorMatch, 0, len(s.items))
	for id, sv := range s.items {
		matches = append(matches, VectorMatch{ID: id, Score: cosine(vector, sv.vector), Metadata: sv.metadata})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

// All implements VectorEnumerator.
func (s *InMemoryVectorStore) All(ctx context.Context) ([]VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VectorRecord, 0, len(s.items))
	for id, sv := range s.items {
		out = append(out, VectorRecord{ID: id, Vector: sv.vector, Metadata: sv.metadata})
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// FakeSandbox is an in-memory SandboxPort: created tools simply echo
// their spec when executed, sufficient for exercising SandboxPort
// plumbing in tests.
type FakeSandbox struct {
	mu    sync.Mutex
	tools map[string]ToolSpec
}

func NewFakeSandbox() *FakeSandbox {
	return &FakeSandbox{tools: make(map[string]ToolSpec)}
}

func (s *FakeSandbox) CreateTool(ctx context.Context, spec ToolSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[spec.Name] = spec
	return nil
}

func (s *FakeSandbox) ListTools(ctx context.Context) ([]ToolSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolSpec, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	return out, nil
}

func (s *FakeSandbox) Execute(ctx context.Context, toolName string, args map[string]any) (string, error) {
	s.mu.Lock()
	spec, ok := s.tools[toolName]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("sandbox: unknown dynamic tool %q", toolName)
	}
	return fmt.Sprintf("executed %s with args %v", spec.Name, args), nil
}
