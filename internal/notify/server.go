package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"tessera.social/internal/audit"
	"tessera.social/internal/auth"
	"tessera.social/internal/httpx"
	"tessera.social/internal/ids"
	"tessera.social/internal/obs"
	"tessera.social/internal/validator"
)

const (
	maxMessageLength = 1000
	defaultHeartbeat = 25 * time.Second
)

// Server exposes the hub to authenticated clients.
type Server struct {
	hub       *Hub
	validator *validator.Validator
	version   string
	heartbeat time.Duration
	now       func() time.Time
	router    chi.Router
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// WithHeartbeat sets the interval of keep-alive comments on streams.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// NewServer wires routes around v and hub.
func NewServer(v *validator.Validator, hub *Hub, opts ...ServerOption) *Server {
	s := &Server{
		hub:       hub,
		validator: v,
		heartbeat: defaultHeartbeat,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		httpx.RequestID,
		httpx.Recover,
		httpx.Logging,
		httpx.SecurityHeaders,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteMessage(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteMessage(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", obs.Handler())
	r.Get("/notifications/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(s.validator.Middleware)
		r.With(validator.RequireAction(auth.ActionReadOwnIdentity)).Get("/whoami", s.handleWhoami)
		r.With(
			validator.RequireAction(auth.ActionPublishNotice),
			httpx.LimitBody(httpx.MaxBodyBytes),
		).Post("/notifications", s.handlePublish)
	})
	return r
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return obs.Instrument(s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "tessera-notifications",
		"version":     s.version,
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": identity})
}

type publishRequest struct {
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

type publishResponse struct {
	Notice    Notice `json:"notice"`
	Delivered int    `json:"delivered"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var req publishRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" || utf8.RuneCountInString(msg) > maxMessageLength {
		httpx.WriteError(w, r, fmt.Errorf("%w: message must be 1 to %d characters", auth.ErrValidation, maxMessageLength))
		return
	}
	n := Notice{
		ID:        ids.New(),
		From:      identity.ID,
		To:        strings.TrimSpace(req.To),
		Message:   msg,
		CreatedAt: s.now().UTC(),
	}
	delivered := s.hub.Publish(n)
	_ = audit.LogEvent(r.Context(), audit.EventNoticePublish, map[string]any{
		"notice_id": n.ID,
		"to":        n.To,
		"delivered": delivered,
	})
	httpx.WriteJSON(w, http.StatusAccepted, publishResponse{Notice: n, Delivered: delivered})
}

// handleStream authenticates once at connect time and then keeps the
// connection open. Later role or suspension changes do not close it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx, identity, err := s.validator.Handshake(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := s.hub.Subscribe(ctx, identity.ID)
	log := httpx.LoggerFrom(ctx)
	log.Debug().Str("user_id", identity.ID).Msg("stream opened")

	if err := writeEvent(w, "", "ready", map[string]any{"user": identity}); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Warn().Err(err).Msg("streaming unsupported")
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, n.ID, "notice", n); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, id, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var b strings.Builder
	if id != "" {
		b.WriteString("id: " + id + "\n")
	}
	b.WriteString("event: " + event + "\n")
	b.WriteString("data: ")
	b.Write(payload)
	b.WriteString("\n\n")
	_, err = w.Write([]byte(b.String()))
	return err
}
