// Package embedderkit is the glue an embedder uses to assemble a
// runnable fractal runtime: it wires the bus, tool registry, memory
// stack, orchestrator, and LLM port together behind one Runtime value,
// shared by the demo cmd/fractalctl CLI and cmd/fractalserver HTTP/WS
// surface so neither duplicates the wiring.
package embedderkit

import (
	"context"
	"fmt"
	"os"
	"sync"

	"fractal/internal/agentnode"
	"fractal/internal/bus"
	"fractal/internal/config"
	"fractal/internal/llmclient"
	"fractal/internal/logging"
	"fractal/internal/memory"
	"fractal/internal/orchestrator"
	"fractal/internal/ports"
	"fractal/internal/skill"
	"fractal/internal/task"
	"fractal/internal/telemetry"
	"fractal/internal/tool"
	"fractal/internal/tool/builtin"
	"fractal/internal/vectorstore"
)

// Options configures a new Runtime.
type Options struct {
	ConfigPath   string
	APIKey       string
	BaseURL      string
	Model        string
	SkillsDir    string
	SandboxRoot  string
	FakeLLM      bool
	TavilyKey    string
	Exporter     string
	OTLPEndpoint string
	ServiceName  string
	Verbose      bool
}

// Runtime bundles the long-lived pieces a run needs: the bus, tool
// registry, a directory of per-agent config/memory for the shared
// caller-aware tools, and the LLM port every node shares.
type Runtime struct {
	Bus      bus.Bus
	Registry *tool.Registry
	Skills   *skill.Registry
	Limits   config.RuntimeLimits
	LLM      ports.LLMPort
	Log      logging.Logger
	Shutdown func(context.Context) error

	store    *vectorstore.ChromemStore
	embedder ports.EmbeddingPort
	exec     *tool.Executor

	callersMu sync.Mutex
	callers   map[string]callerInfo
}

type callerInfo struct {
	cfg config.AgentConfig
	mem *memory.Manager
}

// New builds a Runtime from opts.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	minLevel := logging.LevelInfo
	if opts.Verbose {
		minLevel = logging.LevelDebug
	}
	log := logging.NewWriterLogger(os.Stderr, "fractal", minLevel)

	limits, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading runtime limits: %w", err)
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "fractal"
	}
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Exporter:    telemetry.Exporter(opts.Exporter),
		Endpoint:    opts.OTLPEndpoint,
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	b := bus.New(bus.WithLogger(log.With("bus")))

	registry := tool.NewRegistry(log.With("tools"))
	sandboxRoot := opts.SandboxRoot
	if sandboxRoot == "" {
		sandboxRoot = "."
	}
	registry.Register(builtin.NewReadFile(builtin.FileConfig{Root: sandboxRoot}))
	registry.Register(builtin.NewWriteFile(builtin.FileConfig{Root: sandboxRoot}))
	registry.Register(builtin.NewPatchFile(builtin.FileConfig{Root: sandboxRoot}))
	registry.Register(builtin.NewWebSearch(builtin.WebSearchConfig{TavilyAPIKey: opts.TavilyKey}))

	var skills *skill.Registry
	if opts.SkillsDir != "" {
		skills, err = skill.Load(opts.SkillsDir)
		if err != nil {
			return nil, fmt.Errorf("loading skills: %w", err)
		}
	} else {
		skills = skill.NewRegistry()
	}

	var llm ports.LLMPort
	if opts.FakeLLM || opts.APIKey == "" {
		llm = ports.NewFakeLLM()
		log.Info("no API key supplied; using the fake in-memory LLM")
	} else {
		llm = llmclient.New(llmclient.Config{APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model}, log.With("llm"))
	}

	store, err := vectorstore.New(vectorstore.Config{})
	if err != nil {
		return nil, fmt.Errorf("building vector store: %w", err)
	}

	rt := &Runtime{
		Bus: b, Registry: registry, Skills: skills, Limits: limits,
		LLM: llm, Log: log, Shutdown: shutdown,
		store: store, embedder: ports.NewFakeEmbedder(limits.EmbeddingDim),
		callers: make(map[string]callerInfo),
	}
	rt.exec = tool.NewExecutor(rt.Registry, tool.WithExecutorLogger(log.With("executor")))
	rt.registerSharedTools()
	rt.registerLifecycleAcks()

	newChild := func(childID string, cfg config.AgentConfig, projection memory.Projection) *agentnode.Node {
		childMem := rt.newMemoryManager(childID)
		childMem.SeedProjection("", projection)
		rt.registerCaller(childID, cfg, childMem)
		child := agentnode.New(childID, cfg, rt.LLM, childMem, rt.Registry, rt.exec, rt.Bus, agentnode.WithLogger(rt.Log.With(childID)))
		child.SystemPrompt = "You are a delegated sub-agent. Complete the assigned subtask and return a concise result."
		child.CriticalInstructions = "Return a direct, final answer; do not ask the user for clarification."
		return child
	}
	orchestrator.New(rt.Bus, rt.Registry, newChild, orchestrator.WithLogger(rt.Log.With("orchestrator")))

	return rt, nil
}

// nodeLifecycleActions are the fire-and-forget events agentnode.Node.emit
// publishes. Bus.Publish only notifies Subscribe-registered observers
// once a primary handler has accepted the task (spec §2's routing rule),
// so an embedder that wants to observe them — e.g. cmd/fractalserver
// streaming them to a client — needs a trivial primary handler installed
// for each; acking immediately is all any of them require.
var nodeLifecycleActions = []task.Action{
	task.ActionNodeStart, task.ActionNodeThinking, task.ActionNodeToolCall,
	task.ActionNodeToolResult, task.ActionNodeMessage, task.ActionNodeComplete,
	task.ActionNodeError, task.ActionNodePlanning,
}

func (rt *Runtime) registerLifecycleAcks() {
	for _, action := range nodeLifecycleActions {
		rt.Bus.RegisterHandler(action, func(ctx context.Context, t *task.Task) error {
			t.Complete(nil)
			return nil
		})
	}
}

// Subscribe forwards every node.* lifecycle event to fn, useful for an
// embedder streaming a run over its own transport (WebSocket, SSE).
func (rt *Runtime) Subscribe(fn func(ctx context.Context, t *task.Task)) {
	for _, action := range nodeLifecycleActions {
		rt.Bus.Subscribe(action, func(ctx context.Context, t *task.Task) error {
			fn(ctx, t)
			return nil
		})
	}
}

// registerSharedTools installs delegate_task and the three mandatory
// memory-query tools once: each dispatches to whichever agent's
// config/memory is attached to the calling context (agentnode.WithAgentID),
// so a single Registry entry serves every node in the run without ever
// being rebound, matching the registry's shared-immutable-after-init
// contract (spec §5).
func (rt *Runtime) registerSharedTools() {
	rt.Registry.Register(tool.Tool{
		Name:        "delegate_task",
		Description: "Delegate a subtask to a new child agent.",
		IsReadonly:  false,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subtask_description": map[string]any{"type": "string"},
				"timeout_ms":          map[string]any{"type": "integer"},
			},
			"required": []string{"subtask_description"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			_, info, ok := rt.callerFromContext(ctx)
			if !ok {
				return "", nil, fmt.Errorf("delegate_task: unknown calling agent")
			}
			parentTaskID, _ := agentnode.TaskIDFromContext(ctx)
			return orchestrator.DelegateToolHandler(rt.Bus, "orchestrator", parentTaskID, info.cfg, info.mem)(ctx, args)
		},
	})

	registerDispatchedMemoryTool := func(name, description string, build func(*memory.Manager) tool.Tool) {
		rt.Registry.Register(tool.Tool{
			Name:        name,
			Description: description,
			IsReadonly:  true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"top_k": map[string]any{"type": "integer"},
				},
				"required": []string{"query"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
				_, info, ok := rt.callerFromContext(ctx)
				if !ok {
					return "", nil, fmt.Errorf("%s: unknown calling agent", name)
				}
				return build(info.mem).Handler(ctx, args)
			},
		})
	}
	registerDispatchedMemoryTool("query_l2_memory", "Search the calling agent's L2 working memory.", memory.NewQueryL2Tool)
	registerDispatchedMemoryTool("query_l3_memory", "Search the calling agent's L3 compressed-summary memory.", memory.NewQueryL3Tool)
	registerDispatchedMemoryTool("search_l4_memory", "Search the calling agent's L4 long-term fact memory.", memory.NewSearchL4Tool)
}

func (rt *Runtime) callerFromContext(ctx context.Context) (string, callerInfo, bool) {
	id, ok := agentnode.AgentIDFromContext(ctx)
	if !ok {
		return "", callerInfo{}, false
	}
	rt.callersMu.Lock()
	defer rt.callersMu.Unlock()
	info, ok := rt.callers[id]
	return id, info, ok
}

func (rt *Runtime) registerCaller(id string, cfg config.AgentConfig, mem *memory.Manager) {
	rt.callersMu.Lock()
	defer rt.callersMu.Unlock()
	rt.callers[id] = callerInfo{cfg: cfg, mem: mem}
}

func (rt *Runtime) newMemoryManager(scope string) *memory.Manager {
	cfg := memory.DefaultConfig()
	cfg.L1Capacity, cfg.L2Capacity, cfg.L3Capacity, cfg.L4SoftCap = rt.Limits.L1Capacity, rt.Limits.L2Capacity, rt.Limits.L3Capacity, rt.Limits.L4SoftCap
	cfg.ImportanceDecayLambda = rt.Limits.ImportanceDecayLambda
	cfg.EmbeddingDim = rt.Limits.EmbeddingDim
	return memory.NewManager(
		memory.WithConfig(cfg),
		memory.WithEmbedding(rt.embedder),
		memory.WithVectorStore(rt.store),
		memory.WithLogger(rt.Log.With("memory."+scope)),
	)
}

func (rt *Runtime) enabledSkillNames() []string {
	out := make([]string, 0)
	for _, s := range rt.Skills.ListSkills() {
		out = append(out, s.SkillID)
	}
	return out
}

func (rt *Runtime) enabledToolNames() []string {
	out := make([]string, 0)
	for _, t := range rt.Registry.All() {
		out = append(out, t.Name)
	}
	return out
}

// NewRootNode builds a fresh root agent node identified by rootID, ready
// to run one task. Each call gets its own memory manager (registered
// under rootID in the shared caller directory), so concurrent runs
// (e.g. one per HTTP request in cmd/fractalserver) don't share memory;
// they do share the registry, executor, and the orchestrator's single
// delegation handler, which is registered once in New regardless of how
// many root nodes are later created.
func (rt *Runtime) NewRootNode(rootID string) *agentnode.Node {
	rootCfg := config.New(rt.enabledSkillNames(), rt.enabledToolNames(), rt.Limits)
	rootMem := rt.newMemoryManager(rootID)
	rt.registerCaller(rootID, rootCfg, rootMem)

	root := agentnode.New(rootID, rootCfg, rt.LLM, rootMem, rt.Registry, rt.exec, rt.Bus, agentnode.WithLogger(rt.Log.With(rootID)))
	root.SystemPrompt = "You are a fractal agent. Use delegate_task to break down work that benefits from a fresh sub-agent; otherwise answer directly."
	root.CriticalInstructions = "Always finish with a direct answer to the user's instruction."
	return root
}

// RunTask builds a fresh root node identified by rootID and drives
// instruction through its ReAct loop to completion.
func (rt *Runtime) RunTask(ctx context.Context, rootID, instruction string) *task.Task {
	root := rt.NewRootNode(rootID)
	t := task.New(task.ActionExecute, map[string]any{"content": instruction}, "embedder", rootID)
	return root.ExecuteTask(ctx, t)
}
