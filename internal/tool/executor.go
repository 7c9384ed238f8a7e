package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"

	fracerrors "fractal/internal/errors"
	"fractal/internal/logging"
)

const (
	defaultCacheTTL      = 300 * time.Second
	defaultCacheSize     = 2048
	defaultMaxParallel   = 8
)

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Executor runs tool batches per the spec's scheduling algorithm:
// contiguous read calls are grouped and launched in parallel; each write
// call is its own barrier-separated singleton. Observations are always
// returned in the original left-to-right call order. Read results are
// cached process-wide keyed by tool identity (§5); writes bypass and
// never invalidate the cache.
type Executor struct {
	registry *Registry
	log      logging.Logger

	cacheMu sync.Mutex
	cache   *lru.Cache[string, cacheEntry]
	cacheTTL time.Duration

	maxParallelReads int
	inflight         sync.Map // dedup key -> *inflightCall

	breakersMu sync.Mutex
	breakers   map[string]*fracerrors.CircuitBreaker
}

type inflightCall struct {
	done   chan struct{}
	result Result
}

// ExecutorOption configures an Executor at construction.
type ExecutorOption func(*Executor)

func WithCacheTTL(ttl time.Duration) ExecutorOption {
	return func(e *Executor) { e.cacheTTL = ttl }
}

func WithMaxParallelReads(n int) ExecutorOption {
	return func(e *Executor) { e.maxParallelReads = n }
}

func WithExecutorLogger(l logging.Logger) ExecutorOption {
	return func(e *Executor) { e.log = logging.OrNop(l) }
}

// NewExecutor builds an Executor over registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	cache, _ := lru.New[string, cacheEntry](defaultCacheSize)
	e := &Executor{
		registry:         registry,
		log:              logging.Nop,
		cache:            cache,
		cacheTTL:         defaultCacheTTL,
		maxParallelReads: defaultMaxParallel,
		breakers:         make(map[string]*fracerrors.CircuitBreaker),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RunBatch executes calls per the batch scheduling algorithm (§4.3) and
// returns one Result per call, in the same order as calls.
func (e *Executor) RunBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	groups := groupCalls(e.registry, calls)

	idx := 0
	for _, g := range groups {
		if g.isWrite {
			results[idx] = e.execute(ctx, g.calls[0])
			idx++
			continue
		}
		group := g.calls
		offsets := make([]int, len(group))
		for i := range group {
			offsets[i] = idx + i
		}
		idx += len(group)

		sem := make(chan struct{}, e.maxParallelReads)
		eg, gctx := errgroup.WithContext(ctx)
		for i, call := range group {
			i, call := i, call
			eg.Go(func() error {
				sem <- struct{}{}
				defer func() { <-sem }()
				results[offsets[i]] = e.execute(gctx, call)
				return nil
			})
		}
		_ = eg.Wait() // execute() never returns an error from the group itself; failures are encoded in Result
	}
	return results
}

// callGroup is a contiguous run of read calls, or a single write call,
// separated from neighboring groups by a barrier.
type callGroup struct {
	calls   []Call
	isWrite bool
}

// groupCalls walks calls left-to-right, collapsing contiguous read calls
// into a read-group and making each write call its own singleton group.
func groupCalls(registry *Registry, calls []Call) []callGroup {
	var groups []callGroup
	var currentReads []Call

	flush := func() {
		if len(currentReads) > 0 {
			groups = append(groups, callGroup{calls: currentReads})
			currentReads = nil
		}
	}

	for _, c := range calls {
		t, ok := registry.Get(c.Name)
		isWrite := ok && !t.IsReadonly
		if !ok {
			// Unknown tools can't be classified; treat as write so they
			// never run concurrently with anything else and fail fast
			// in isolation.
			isWrite = true
		}
		if isWrite {
			flush()
			groups = append(groups, callGroup{calls: []Call{c}, isWrite: true})
			continue
		}
		currentReads = append(currentReads, c)
	}
	flush()
	return groups
}

// execute runs a single call: dedup against in-flight identical calls,
// serve from cache for read tools, validate arguments, retry on
// transient failure, and always return a normalized Result.
func (e *Executor) execute(ctx context.Context, call Call) Result {
	key := dedupKey(call)

	if actual, loaded := e.claimOrWait(key); loaded {
		return actual
	}
	defer e.releaseInflight(key)

	t, ok := e.registry.Get(call.Name)
	if !ok {
		return e.finish(key, Result{
			OK: false, CallID: call.ID, ToolName: call.Name,
			ErrorKind: "tool_not_found", ErrorDetail: "no tool registered with this name",
			Suggestion: "check the tool name against the available tools list",
		})
	}

	if t.IsReadonly {
		if cached, ok := e.lookupCache(call); ok {
			cached.CallID = call.ID
			cached.FromCache = true
			return e.finish(key, cached)
		}
	}

	args := repairArguments(call.Arguments)
	if problems := ValidateArguments(t, args); len(problems) > 0 {
		return e.finish(key, Result{
			OK: false, CallID: call.ID, ToolName: call.Name,
			ErrorKind: "invalid_arguments", ErrorDetail: joinProblems(problems),
			Suggestion: "fix the listed fields and retry the call",
		})
	}

	result := e.invokeWithRetry(ctx, t, call, args)
	if t.IsReadonly && result.OK {
		e.storeCache(call, result)
	}
	return e.finish(key, result)
}

// breakerFor returns the tool-scoped circuit breaker, opening after 5
// consecutive failures and probing again after 30s, so a tool that is
// down doesn't burn a full retry budget on every subsequent call.
func (e *Executor) breakerFor(name string) *fracerrors.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	cb, ok := e.breakers[name]
	if !ok {
		cb = fracerrors.NewCircuitBreaker(name, fracerrors.DefaultCircuitBreakerConfig())
		e.breakers[name] = cb
	}
	return cb
}

func (e *Executor) invokeWithRetry(ctx context.Context, t Tool, call Call, args map[string]any) Result {
	cfg := fracerrors.DefaultRetryConfig()
	cfg.MaxAttempts = t.MaxRetries

	var value string
	var data any
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(t.TimeoutMs)*time.Millisecond)
	defer cancel()

	cb := e.breakerFor(t.Name)
	err := cb.Execute(callCtx, func(ctx context.Context) error {
		return fracerrors.RetryWithLog(ctx, cfg, func(ctx context.Context) error {
			v, d, err := e.safeInvoke(ctx, t, args)
			value, data = v, d
			return err
		}, e.log)
	})

	if err != nil {
		kind := "tool_error"
		switch {
		case callCtx.Err() == context.DeadlineExceeded:
			kind = "tool_timeout"
		case fracerrors.IsDegraded(err):
			kind = "circuit_open"
		}
		return Result{
			OK: false, CallID: call.ID, ToolName: call.Name,
			ErrorKind: kind, ErrorDetail: err.Error(),
			Suggestion: "the tool failed after retries; consider a different approach",
		}
	}
	return Result{OK: true, CallID: call.ID, ToolName: call.Name, Value: value, Data: data}
}

// safeInvoke recovers a panicking handler into an error Result rather
// than letting it escape into the agent loop.
func (e *Executor) safeInvoke(ctx context.Context, t Tool, args map[string]any) (v string, d any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tool %s panicked: %v", t.Name, r)
			err = &fracerrors.PermanentError{Message: "tool handler panicked"}
		}
	}()
	return t.Handler(ctx, args)
}

func (e *Executor) finish(key string, result Result) Result {
	if v, ok := e.inflight.Load(key); ok {
		call := v.(*inflightCall)
		call.result = result
		close(call.done)
	}
	return result
}

// claimOrWait implements intra-batch deduplication: the first caller for
// a given (tool_name, canonical_parameters) key executes it; callers that
// arrive while it is in flight await and reuse its result. Once it
// finishes the key is released, so a later call runs again (or, for a
// read tool, is served from the cache).
func (e *Executor) claimOrWait(key string) (Result, bool) {
	fresh := &inflightCall{done: make(chan struct{})}
	actual, loaded := e.inflight.LoadOrStore(key, fresh)
	if !loaded {
		return Result{}, false
	}
	existing := actual.(*inflightCall)
	<-existing.done
	return existing.result, true
}

func (e *Executor) releaseInflight(key string) {
	e.inflight.Delete(key)
}

func dedupKey(call Call) string {
	return hash(call.Name + "|" + call.CanonicalParameters())
}

func (e *Executor) lookupCache(call Call) (Result, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	entry, ok := e.cache.Get(dedupKey(call))
	if !ok || time.Now().After(entry.expires) {
		return Result{}, false
	}
	return entry.result, true
}

func (e *Executor) storeCache(call Call, result Result) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache.Add(dedupKey(call), cacheEntry{result: result, expires: time.Now().Add(e.cacheTTL)})
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// repairArguments attempts to fix malformed JSON-ish values an LLM may
// have produced for nested structures before schema validation, using
// jsonrepair with a conservative fallback. Well-formed arguments pass
// through unchanged.
func repairArguments(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && looksLikeBrokenJSON(s) {
			if repaired, err := jsonrepair.JSONRepair(s); err == nil {
				out[k] = repaired
				continue
			}
		}
		out[k] = v
	}
	return out
}

func looksLikeBrokenJSON(s string) bool {
	trimmed := len(s) > 0 && (s[0] == '{' || s[0] == '[')
	return trimmed
}

func joinProblems(problems []string) string {
	out := ""
	for i, p := range problems {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}
