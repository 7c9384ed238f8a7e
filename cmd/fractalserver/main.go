// Command fractalserver is a thin HTTP/WS embedder: it exposes the bus
// as an external-facing port without adding HTTP concerns to the core's
// API. POST /tasks starts a run; GET /stream/:session_id follows that
// run's node.* lifecycle as CloudEvents over a WebSocket, in the spirit
// of the teacher's own websocket control-plane gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fractal/internal/embedderkit"
	"fractal/internal/task"
	"fractal/internal/telemetry"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 45 * time.Second
	wsPingEvery = 15 * time.Second
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "listen address")
		configPath   = flag.String("config", "", "path to a YAML runtime-limits file")
		apiKey       = flag.String("api-key", "", "LLM provider API key (falls back to FRACTAL_LLM_API_KEY)")
		baseURL      = flag.String("base-url", "", "LLM provider base URL")
		model        = flag.String("model", "gpt-4o-mini", "model name")
		skillsDir    = flag.String("skills-dir", "", "directory of skill markdown files to load")
		sandboxRoot  = flag.String("workspace", ".", "root directory read_file/write_file/patch_file are sandboxed to")
		fakeLLM      = flag.Bool("fake-llm", false, "use a canned in-memory LLM instead of a real provider")
		tavilyKey    = flag.String("tavily-key", "", "Tavily search API key")
		exporter     = flag.String("trace-exporter", "", "tracing exporter: otlphttp, jaeger, zipkin, or empty to disable")
		otlpEndpoint = flag.String("trace-endpoint", "", "tracing collector endpoint")
		verbose      = flag.Bool("verbose", false, "verbose (debug-level) logging")
	)
	flag.Parse()

	ctx := context.Background()
	rt, err := embedderkit.New(ctx, embedderkit.Options{
		ConfigPath: *configPath, APIKey: *apiKey, BaseURL: *baseURL, Model: *model,
		SkillsDir: *skillsDir, SandboxRoot: *sandboxRoot, FakeLLM: *fakeLLM,
		TavilyKey: *tavilyKey, Exporter: *exporter, OTLPEndpoint: *otlpEndpoint,
		ServiceName: "fractalserver", Verbose: *verbose,
	})
	if err != nil {
		log.Fatalf("fractalserver: %v", err)
	}
	defer rt.Shutdown(ctx)

	srv := newServer(rt)
	rt.Subscribe(srv.onLifecycleEvent)

	router := gin.Default()
	router.Use(cors.Default())
	router.POST("/tasks", srv.handleCreateTask)
	router.GET("/stream/:session_id", srv.handleStream)

	log.Printf("fractalserver: listening on %s", *addr)
	if err := router.Run(*addr); err != nil {
		log.Fatalf("fractalserver: %v", err)
	}
}

// server fans out node.* lifecycle events, keyed by session ID, to
// whichever WebSocket client is following that run.
type server struct {
	rt *embedderkit.Runtime

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]chan task.CloudEvent
}

func newServer(rt *embedderkit.Runtime) *server {
	return &server{
		rt:       rt,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[string]chan task.CloudEvent),
	}
}

type createTaskRequest struct {
	Instruction string `json:"instruction" binding:"required"`
}

type createTaskResponse struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
}

// handleCreateTask starts a run in the background and returns the
// session ID a client follows via handleStream; it does not block on
// completion since a fractal run's delegation tree can run arbitrarily
// long.
func (s *server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := uuid.NewString()
	events := make(chan task.CloudEvent, 64)
	s.mu.Lock()
	s.sessions[sessionID] = events
	s.mu.Unlock()

	rootID := "root-" + sessionID
	go func() {
		ctx := context.Background()
		root := s.rt.NewRootNode(rootID)
		t := task.New(task.ActionExecute, map[string]any{"content": req.Instruction}, "fractalserver", rootID)
		t.SessionID = sessionID
		root.ExecuteTask(ctx, t)
		// Give handleStream a moment to drain the completion event before
		// the channel is torn down.
		time.AfterFunc(30*time.Second, func() { s.closeSession(sessionID) })
	}()

	c.JSON(http.StatusAccepted, createTaskResponse{
		SessionID: sessionID,
		StreamURL: fmt.Sprintf("/stream/%s", sessionID),
	})
}

func (s *server) closeSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.sessions[sessionID]; ok {
		delete(s.sessions, sessionID)
		close(ch)
	}
}

// onLifecycleEvent is registered once with the runtime's bus via
// rt.Subscribe; it routes each node.* task to its session's channel,
// rendering it as a CloudEvent with the active span's traceparent
// attached.
func (s *server) onLifecycleEvent(ctx context.Context, t *task.Task) {
	snap := t.Snapshot()
	if snap.SessionID == "" {
		return
	}
	s.mu.Lock()
	ch, ok := s.sessions[snap.SessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	ev := t.ToCloudEvent("fractalserver", telemetry.TraceParent(ctx))
	select {
	case ch <- ev:
	default:
		// Slow consumer: drop rather than block the node's ReAct loop.
	}
}

// handleStream upgrades to a WebSocket and forwards session_id's
// CloudEvents until the channel closes or the client disconnects,
// following the teacher's websocket gateway's read/write-loop split so a
// dead client is detected via ping/pong rather than a blocked write.
func (s *server) handleStream(c *gin.Context) {
	sessionID := c.Param("session_id")
	s.mu.Lock()
	ch, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session_id"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go discardReads(conn)

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == string(task.ActionNodeComplete) || ev.Type == string(task.ActionNodeError) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// discardReads drains client-sent frames (pongs included) so the
// connection's read deadline keeps advancing; this endpoint is
// server-to-client only.
func discardReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
