// Package http exposes a ledger engine over HTTP: commands, views, status and
// a server-sent event stream of committed events.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/ledger"
	"github.com/aretw0/ledger/internal/logging"
	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/aretw0/ledger/pkg/view"
	"github.com/go-chi/chi/v5"
)

// MaxBodySize bounds a command request body.
const MaxBodySize = 1 << 20

// Engine is the part of *ledger.Engine the server needs.
type Engine interface {
	Execute(ctx context.Context, name string, args domain.Args) (any, error)
	Find(viewType domain.ViewType, id int64) (any, error)
	Select(viewType domain.ViewType, pred view.Predicate) ([]any, error)
	Status() ledger.Status
	Subscribe(eventType string, fn ledger.Subscriber) func()
}

// Server serves the HTTP API.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	logger  *slog.Logger
	metrics http.Handler
	router  chi.Router
	cancel  func()
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer builds the router and starts relaying engine events to SSE
// clients. Call Close to stop relaying.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		Engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(s.logger)
	s.cancel = engine.Subscribe(ledger.AllEvents, s.relay)

	r := chi.NewRouter()
	r.Post("/commands/{name}", s.ExecuteCommand)
	r.Get("/views/{view}", s.SelectViews)
	r.Get("/views/{view}/{id}", s.FindView)
	r.Get("/status", s.GetStatus)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/events", s.SubscribeEvents)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops relaying engine events.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) relay(_ context.Context, evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Warn("SSE: event not encodable", "type", evt.Type, "error", err)
		return
	}
	s.Streams.Broadcast(evt.Type, string(data))
}

type commandResponse struct {
	Command string `json:"command"`
	Result  any    `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ExecuteCommand handles POST /commands/{name}. The body is the JSON argument object.
func (s *Server) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > MaxBodySize {
		s.writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}

	args := domain.Args{}
	if len(strings.TrimSpace(string(body))) > 0 {
		if args, err = codec.UnmarshalArgs(body); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if args, err = codec.SanitizeArgs(args); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	result, err := s.Engine.Execute(r.Context(), name, args)
	if err != nil {
		s.logger.Debug("command rejected", "command", name, "error", err)
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, commandResponse{Command: name, Result: result})
}

// FindView handles GET /views/{view}/{id}.
func (s *Server) FindView(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id: %w", err))
		return
	}
	v, err := s.Engine.Find(domain.ViewType(chi.URLParam(r, "view")), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// SelectViews handles GET /views/{view}, returning every view ordered by id.
func (s *Server) SelectViews(w http.ResponseWriter, r *http.Request) {
	views, err := s.Engine.Select(domain.ViewType(chi.URLParam(r, "view")), nil)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

// GetStatus handles GET /status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Engine.Status())
}

// GetHealth handles GET /health. It reports 503 unless the engine is running.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	st := s.Engine.Status()
	code := http.StatusOK
	status := "ok"
	if st.State != domain.StateRunning {
		code = http.StatusServiceUnavailable
		status = string(st.State)
	}
	s.writeJSON(w, code, map[string]string{"status": status})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "ledger-http",
		"version": strings.TrimSpace(ledger.Version),
	})
}

// SubscribeEvents handles GET /events (SSE). The optional type query
// parameter filters by event type.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	topic := r.URL.Query().Get("type")
	if topic == "" {
		topic = ledger.AllEvents
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(topic)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE Client Disconnected", "type", topic)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

// statusFor maps the ledger error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownCommand),
		errors.Is(err, domain.ErrUnknownView),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrArgumentType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConditionFailed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotStarted),
		errors.Is(err, domain.ErrEngineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTransactionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// StreamManager fans event payloads out to SSE connections by topic.
// Subscribers of ledger.AllEvents receive every topic.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
	logger      *slog.Logger
}

// NewStreamManager creates an empty manager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a buffered channel for topic. The returned function
// unregisters and closes it.
func (sm *StreamManager) Subscribe(topic string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[topic]; !ok {
		sm.subscribers[topic] = make(map[chan<- string]struct{})
	}
	sm.subscribers[topic][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[topic]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(sm.subscribers, topic)
				}
			}
			close(ch)
		})
	}
}

// Broadcast delivers msg to topic and wildcard subscribers. Slow clients drop messages.
func (sm *StreamManager) Broadcast(topic string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sm.send(topic, msg)
	if topic != ledger.AllEvents {
		sm.send(ledger.AllEvents, msg)
	}
}

func (sm *StreamManager) send(topic, msg string) {
	for ch := range sm.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("SSE: Client buffer full, dropping message", "topic", topic)
		}
	}
}
