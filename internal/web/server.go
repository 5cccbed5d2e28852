package web

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/sleepwell/internal/memgame"
	"github.com/conorfennell/sleepwell/internal/reminder"
	"github.com/conorfennell/sleepwell/internal/storage"
	"github.com/conorfennell/sleepwell/internal/sync"
)

const maxBodyBytes = 1 << 16

// Server holds the dependencies for the HTTP server.
type Server struct {
	db        *storage.DB
	router    *http.ServeMux
	scheduler *reminder.Scheduler
	engine    *memgame.Engine
	syncOpts  sync.Options
	validate  *validator.Validate
	logger    *slog.Logger
}

// Deps holds the collaborators of a Server.
type Deps struct {
	DB        *storage.DB
	Scheduler *reminder.Scheduler
	Engine    *memgame.Engine
	Sync      sync.Options
	Logger    *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:        deps.DB,
		router:    http.NewServeMux(),
		scheduler: deps.Scheduler,
		engine:    deps.Engine,
		syncOpts:  deps.Sync,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface. Every mutating request is a
// user gesture and unlocks audible reminders.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.scheduler.MarkInteracted()
	}
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("/reminder", s.handleReminder())
	s.router.HandleFunc("/reminder/suggestion", s.handleApplySuggestion())
	s.router.HandleFunc("/reminder/interact", s.handleInteract())
	s.router.HandleFunc("/reminder/dismiss", s.handleDismiss())
	s.router.HandleFunc("/reminder/test", s.handleTestChime())

	s.router.HandleFunc("/game", s.handleGetGame())
	s.router.HandleFunc("/game/new", s.handleNewGame())
	s.router.HandleFunc("/game/flip/{position}", s.handleFlip())
	s.router.HandleFunc("/game/history", s.handleHistory())

	s.router.HandleFunc("/sources", s.handleSources())
	s.router.HandleFunc("/sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("/sync", s.handlePostSync())
}

type setReminderRequest struct {
	PreferredTime string `json:"preferred_time" validate:"required,datetime=15:04"`
}

// handleReminder reports the scheduler state on GET and saves a new
// preferred time on POST.
func (s *Server) handleReminder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, s.scheduler.Snapshot())
		case http.MethodPost:
			var req setReminderRequest
			if !s.decode(w, r, &req) {
				return
			}
			t, err := reminder.ParseTimeOfDay(req.PreferredTime)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if err := s.scheduler.SetPreferredTime(r.Context(), t); err != nil {
				s.logger.Warn("Failed to save reminder", "error", err)
				writeError(w, http.StatusBadGateway, "Failed to save reminder")
				return
			}
			writeJSON(w, http.StatusOK, s.scheduler.Snapshot())
		default:
			methodNotAllowed(w)
		}
	}
}

// handleApplySuggestion adopts the backend's suggested time.
func (s *Server) handleApplySuggestion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		err := s.scheduler.ApplySuggestion(r.Context())
		switch {
		case errors.Is(err, reminder.ErrNoSuggestion):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			s.logger.Warn("Failed to apply suggestion", "error", err)
			writeError(w, http.StatusBadGateway, "Failed to save reminder")
			return
		}
		writeJSON(w, http.StatusOK, s.scheduler.Snapshot())
	}
}

func (s *Server) handleInteract() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		// ServeHTTP has already set the latch.
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDismiss() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.scheduler.DismissAlert()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleTestChime() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.scheduler.TestChime(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleGetGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, s.engine.State())
	}
}

// handleNewGame deals a fresh deck from the synced items.
func (s *Server) handleNewGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		items, err := sync.LoadItems(s.db)
		if err != nil {
			s.logger.Error("Error loading items", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		s.engine.NewGame(items)
		writeJSON(w, http.StatusCreated, s.engine.State())
	}
}

type flipResponse struct {
	Accepted bool          `json:"accepted"`
	State    memgame.State `json:"state"`
}

// handleFlip turns a card. A rejected flip still returns the current state.
func (s *Server) handleFlip() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		position, err := strconv.Atoi(r.PathValue("position"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid position")
			return
		}
		accepted := s.engine.Flip(position)
		status := http.StatusOK
		if !accepted {
			status = http.StatusConflict
		}
		writeJSON(w, status, flipResponse{Accepted: accepted, State: s.engine.State()})
	}
}

// handleHistory lists recently completed sessions, newest first.
func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || s.validate.Var(n, "min=1,max=100") != nil {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
				return
			}
			limit = n
		}
		sessions, err := s.db.GetRecentSessions(r.Context(), limit)
		if err != nil {
			s.logger.Error("Error getting game sessions", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if sessions == nil {
			sessions = []memgame.Summary{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

type sourceView struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
}

type addSourceRequest struct {
	Path string `json:"path" validate:"required"`
}

// handleSources handles both GET and POST for the source list.
func (s *Server) handleSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.writeSources(w, http.StatusOK)
		case http.MethodPost:
			var req addSourceRequest
			if !s.decode(w, r, &req) {
				return
			}
			if _, err := sync.AddSource(s.db, req.Path); err != nil {
				s.logger.Error("Error inserting new source", "path", req.Path, "error", err)
				writeError(w, http.StatusInternalServerError, "Failed to add source")
				return
			}
			s.writeSources(w, http.StatusCreated)
		default:
			methodNotAllowed(w)
		}
	}
}

func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid source ID")
			return
		}
		if err := s.db.DeleteSource(id); err != nil {
			s.logger.Error("Error deleting source", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to delete source")
			return
		}
		s.writeSources(w, http.StatusOK)
	}
}

// handlePostSync runs a sync in the foreground and returns the updated sources.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := sync.RunSync(r.Context(), s.db, s.syncOpts); err != nil {
			s.logger.Error("Error running sync", "error", err)
			writeError(w, http.StatusInternalServerError, "Sync failed")
			return
		}
		s.writeSources(w, http.StatusOK)
	}
}

func (s *Server) writeSources(w http.ResponseWriter, status int) {
	sources, err := s.db.GetAllSources()
	if err != nil {
		s.logger.Error("Error getting sources", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	views := make([]sourceView, 0, len(sources))
	for _, src := range sources {
		views = append(views, sourceView{
			ID:          src.ID,
			Path:        src.Path,
			Type:        src.Type,
			LastScanned: nullTime(src.LastScanned),
		})
	}
	writeJSON(w, status, views)
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
