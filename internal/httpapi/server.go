package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/murshid-dev/murshid/internal/config"
	"github.com/murshid-dev/murshid/internal/history"
	"github.com/murshid-dev/murshid/internal/observability"
	"github.com/murshid-dev/murshid/internal/turn"
)

// Orchestrator is the turn pipeline as the HTTP layer sees it.
type Orchestrator interface {
	HandleTurn(ctx context.Context, userID, sessionID, question string, chatHistory []history.Turn) (turn.Result, error)
	HandleAudioTurn(ctx context.Context, userID, sessionID, uploadPath string, chatHistory []history.Turn) (turn.Result, error)
	Transcribe(ctx context.Context, uploadPath string) string
	Translate(ctx context.Context, text string) (turn.Translation, error)
	AutoTitle(ctx context.Context, userID, sessionID string) (string, error)
}

// Authenticator extracts the caller's identity from a request.
// Credential checking lives outside this service.
type Authenticator interface {
	UserID(r *http.Request) string
}

// HeaderAuth reads the user identity from a request header, falling
// back to a shared anonymous identity.
type HeaderAuth struct {
	Header string
}

func (a HeaderAuth) UserID(r *http.Request) string {
	header := a.Header
	if header == "" {
		header = "X-User-ID"
	}
	if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
		return id
	}
	return "anonymous"
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	store        history.Store
	auth         Authenticator
	metrics      *observability.Metrics
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, store history.Store, auth Authenticator, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if auth == nil {
		auth = HeaderAuth{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		auth:         auth,
		metrics:      metrics,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; other sites must not
				// be able to drive a user's tutoring session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/chat/", s.handleChat)
	r.Post("/transcribe/", s.handleTranscribe)
	r.Post("/ask/", s.handleAsk)
	r.Post("/translate/", s.handleTranslate)
	r.Get("/v1/chat/ws", s.handleChatWS)

	r.Post("/sessions/new", s.handleCreateSession)
	r.Get("/sessions/", s.handleListSessions)
	r.Get("/sessions/{id}/history", s.handleSessionHistory)
	r.Post("/sessions/{id}/rename", s.handleRenameSession)
	r.Delete("/sessions/{id}/delete", s.handleDeleteSession)
	r.Post("/sessions/{id}/autosummary", s.handleAutoSummary)

	r.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.cfg.AudioDir))))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// respondTurnError maps pipeline failures onto HTTP statuses.
func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	s.logger.Error("turn failed", zap.Error(err))
	if errors.Is(err, turn.ErrCollaboratorTimeout) {
		respondError(w, http.StatusGatewayTimeout, "collaborator_timeout", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
