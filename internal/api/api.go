// Package api provides the admin HTTP interface over the operational store.
//
// # Endpoints
//
// Sites:
//   - GET    /api/v1/sites - List monitored sites
//   - POST   /api/v1/sites - Create site
//   - GET    /api/v1/sites/{id} - Get site details
//   - PUT    /api/v1/sites/{id} - Update site
//   - DELETE /api/v1/sites/{id} - Delete site
//   - GET    /api/v1/sites/{id}/history - Get recent probe snapshots
//
// Teams:
//   - GET    /api/v1/teams - List teams
//   - POST   /api/v1/teams - Create team
//   - GET    /api/v1/teams/{id} - Get team details
//   - PUT    /api/v1/teams/{id} - Update team
//   - DELETE /api/v1/teams/{id} - Delete team
//
// Users:
//   - GET  /api/v1/users - List users
//   - POST /api/v1/users - Upsert user by Telegram id
//
// Stats:
//   - GET /api/v1/stats/uptime?hours=N - Per-site availability aggregate
//
// Health:
//   - GET /api/v1/health - Health check
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pingtower/pingtower/internal/analytics"
	"github.com/pingtower/pingtower/internal/store"
	"github.com/pingtower/pingtower/pkg/types"
)

// UptimeReader serves the aggregate availability query. Nil disables the
// stats endpoint.
type UptimeReader interface {
	UptimeSince(ctx context.Context, since time.Time) ([]analytics.UptimeStat, error)
}

// Server is the admin HTTP API server.
type Server struct {
	store  *store.Store
	uptime UptimeReader
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates a new API server.
func NewServer(st *store.Store, uptime UptimeReader, logger *slog.Logger) *Server {
	s := &Server{
		store:  st,
		uptime: uptime,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/v1/sites", s.handleListSites)
	s.mux.HandleFunc("POST /api/v1/sites", s.handleCreateSite)
	s.mux.HandleFunc("GET /api/v1/sites/{id}", s.handleGetSite)
	s.mux.HandleFunc("PUT /api/v1/sites/{id}", s.handleUpdateSite)
	s.mux.HandleFunc("DELETE /api/v1/sites/{id}", s.handleDeleteSite)
	s.mux.HandleFunc("GET /api/v1/sites/{id}/history", s.handleSiteHistory)

	s.mux.HandleFunc("GET /api/v1/teams", s.handleListTeams)
	s.mux.HandleFunc("POST /api/v1/teams", s.handleCreateTeam)
	s.mux.HandleFunc("GET /api/v1/teams/{id}", s.handleGetTeam)
	s.mux.HandleFunc("PUT /api/v1/teams/{id}", s.handleUpdateTeam)
	s.mux.HandleFunc("DELETE /api/v1/teams/{id}", s.handleDeleteTeam)

	s.mux.HandleFunc("GET /api/v1/users", s.handleListUsers)
	s.mux.HandleFunc("POST /api/v1/users", s.handleUpsertUser)

	s.mux.HandleFunc("GET /api/v1/stats/uptime", s.handleUptime)
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SITES
// =============================================================================

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		s.logger.Error("listing sites", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}
	if sites == nil {
		sites = []types.Site{}
	}
	s.writeJSON(w, http.StatusOK, sites)
}

func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var site types.Site
	if err := s.readJSON(r, &site); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if site.PingInterval == 0 {
		site.PingInterval = 30
	}
	if err := site.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateSite(r.Context(), &site); err != nil {
		s.logger.Error("creating site", "url", site.URL, "error", err)
		s.writeError(w, http.StatusConflict, "failed to create site")
		return
	}
	s.writeJSON(w, http.StatusCreated, site)
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	site, err := s.store.GetSite(r.Context(), id)
	if err != nil {
		s.logger.Error("getting site", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get site")
		return
	}
	if site == nil {
		s.writeError(w, http.StatusNotFound, "site not found")
		return
	}
	s.writeJSON(w, http.StatusOK, site)
}

func (s *Server) handleUpdateSite(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var site types.Site
	if err := s.readJSON(r, &site); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	site.ID = id
	if err := site.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateSite(r.Context(), &site); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, site)
}

func (s *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSite(r.Context(), id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSiteHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	site, err := s.store.GetSite(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get site")
		return
	}
	if site == nil {
		s.writeError(w, http.StatusNotFound, "site not found")
		return
	}
	history := site.History
	if history == nil {
		history = []types.ProbeSnapshot{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

// =============================================================================
// TEAMS
// =============================================================================

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.ListTeams(r.Context())
	if err != nil {
		s.logger.Error("listing teams", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list teams")
		return
	}
	if teams == nil {
		teams = []types.Team{}
	}
	s.writeJSON(w, http.StatusOK, teams)
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var team types.Team
	if err := s.readJSON(r, &team); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if team.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.store.CreateTeam(r.Context(), &team); err != nil {
		s.logger.Error("creating team", "name", team.Name, "error", err)
		s.writeError(w, http.StatusConflict, "failed to create team")
		return
	}
	s.writeJSON(w, http.StatusCreated, team)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	team, err := s.store.GetTeam(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get team")
		return
	}
	if team == nil {
		s.writeError(w, http.StatusNotFound, "team not found")
		return
	}
	s.writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var team types.Team
	if err := s.readJSON(r, &team); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	team.ID = id
	if err := s.store.UpdateTeam(r.Context(), &team); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteTeam(r.Context(), id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// USERS
// =============================================================================

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []types.User{}
	}
	s.writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var user types.User
	if err := s.readJSON(r, &user); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if user.TGUserID == 0 {
		s.writeError(w, http.StatusBadRequest, "tg_user_id is required")
		return
	}
	if err := s.store.UpsertUser(r.Context(), &user); err != nil {
		s.logger.Error("upserting user", "tg_user_id", user.TGUserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to upsert user")
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// =============================================================================
// STATS
// =============================================================================

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	if s.uptime == nil {
		s.writeError(w, http.StatusNotImplemented, "analytics store not configured")
		return
	}
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid hours parameter")
			return
		}
		hours = parsed
	}
	stats, err := s.uptime.UptimeSince(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.logger.Error("uptime query", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query uptime")
		return
	}
	if stats == nil {
		stats = []analytics.UptimeStat{}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
