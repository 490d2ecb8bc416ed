// Package server exposes the turn boundary and the memory panel over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/engine"
	"github.com/hupe1980/memorymesh/logging"
	"github.com/hupe1980/memorymesh/memory"
	"github.com/hupe1980/memorymesh/runner"
)

// maxRequestBodySize bounds JSON request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Options configure a Handler.
type Options struct {
	// OriginPatterns are accepted websocket origins. Default "*".
	OriginPatterns []string
	// SearchDefault is used when a turn request does not opt in to search.
	SearchDefault bool
	Logger        logging.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	runner *runner.Runner
	memory *memory.Manager
	opts   Options
}

// New creates a Handler.
func New(r *runner.Runner, mem *memory.Manager, optFns ...func(o *Options)) *Handler {
	opts := Options{
		OriginPatterns: []string{"*"},
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Handler{runner: r, memory: mem, opts: opts}
}

// Routes builds the router.
//
//	POST   /v1/turns                               run a turn, respond with its final payload
//	GET    /v1/turns/stream                        websocket: send turn requests, receive events
//	DELETE /v1/turns/{run_id}                      cancel a running turn
//	GET    /v1/users/{user_id}/memories            list memories (?format=text for the panel)
//	DELETE /v1/users/{user_id}/memories/{memory_id}
//	GET    /healthz
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", h.HandleTurn)
		r.Get("/turns/stream", h.HandleStream)
		r.Delete("/turns/{run_id}", h.HandleCancel)

		r.Route("/users/{user_id}/memories", func(r chi.Router) {
			r.Get("/", h.HandleListMemories)
			r.Delete("/{memory_id}", h.HandleDeleteMemory)
		})
	})

	return r
}

// requestLogger logs one line per request through the handler's Logger.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.opts.Logger.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps runner and memory errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, runner.ErrInvalidRequest), errors.Is(err, memory.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, runner.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrThreadBusy):
		return http.StatusConflict
	case errors.Is(err, runner.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleTurn runs one turn and responds with its final payload. Timed out
// and failed turns still answer 200; the outcome is part of the payload.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req runner.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Streaming = false
	req.EnableSearch = req.EnableSearch || h.opts.SearchDefault

	final, err := h.runner.Run(r.Context(), req)
	if err != nil {
		h.opts.Logger.Warn("server.turn.rejected", "user_id", req.UserID, "error", err.Error())
		Error(w, statusFor(err), err.Error())
		return
	}
	JSON(w, http.StatusOK, final)
}

// HandleCancel cancels a running turn.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Cancel(chi.URLParam(r, "run_id")); err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memoriesResponse struct {
	UserID   string              `json:"user_id"`
	Memories []core.MemoryRecord `json:"memories"`
}

// HandleListMemories lists a user's memories, most recently updated first.
func (h *Handler) HandleListMemories(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	records, err := h.memory.List(r.Context(), userID)
	if err != nil {
		h.opts.Logger.Error("server.memories.list_failed", "user_id", userID, "error", err.Error())
		Error(w, statusFor(err), "failed to list memories")
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(memory.FormatPanel(records)))
		return
	}

	if records == nil {
		records = []core.MemoryRecord{}
	}
	JSON(w, http.StatusOK, memoriesResponse{UserID: userID, Memories: records})
}

// HandleDeleteMemory removes one memory. Deleting an absent key succeeds.
func (h *Handler) HandleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	memoryID := chi.URLParam(r, "memory_id")

	if err := h.memory.Delete(r.Context(), userID, memoryID); err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamMessage is a client frame on the turn stream.
type streamMessage struct {
	// Type is "turn" (default), "cancel" or "ping".
	Type string `json:"type,omitempty"`
	runner.TurnRequest
}

// streamReply is a server frame that is not a turn event.
type streamReply struct {
	Kind  string `json:"kind"`
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// HandleStream upgrades to a websocket. Clients send turn requests and
// receive every engine.Event of the turn as a JSON text frame. One turn runs
// at a time per connection; a running turn can be cancelled by run id.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.opts.Logger.Error("server.stream.accept_failed", "error", err.Error())
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "stream ended") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	incoming := make(chan streamMessage)
	go h.readLoop(ctx, ws, incoming)

	var events <-chan engine.Event
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-incoming:
			if !ok {
				return
			}
			switch msg.Type {
			case "ping":
				h.write(ctx, ws, streamReply{Kind: "pong"})
			case "cancel":
				if err := h.runner.Cancel(msg.RunID); err != nil {
					h.write(ctx, ws, streamReply{Kind: "error", RunID: msg.RunID, Error: err.Error()})
				}
			case "", "turn":
				if events != nil {
					h.write(ctx, ws, streamReply{Kind: "error", Error: "a turn is already running on this connection"})
					continue
				}
				req := msg.TurnRequest
				if req.RunID == "" {
					req.RunID = core.NewID()
				}
				req.EnableSearch = req.EnableSearch || h.opts.SearchDefault

				ch, err := h.runner.RunTurn(ctx, req)
				if err != nil {
					h.write(ctx, ws, streamReply{Kind: "error", RunID: req.RunID, Error: err.Error()})
					continue
				}
				events = ch
			default:
				h.write(ctx, ws, streamReply{Kind: "error", Error: "unknown message type " + msg.Type})
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			h.write(ctx, ws, ev)
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, out chan<- streamMessage) {
	defer close(out)
	for {
		var msg streamMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.opts.Logger.Warn("server.stream.read_failed", "error", err.Error())
			}
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v any) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, v); err != nil {
		h.opts.Logger.Debug("server.stream.write_failed", "error", err.Error())
	}
}
