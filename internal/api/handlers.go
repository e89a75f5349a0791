package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/auth"
	"github.com/freebox-home/freebox-bridge/internal/freebox"
	"github.com/freebox-home/freebox-bridge/internal/models"
)

// ========== Auth handlers ==========

// HandleLogin handles user login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.auth.VerifyPassword(req.Password, user.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !user.IsActive {
		s.respondError(w, http.StatusForbidden, "account is disabled")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		log.Warn().Err(err).Str("username", user.Username).Msg("Failed to record login time")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleGetCurrentUser gets the authenticated user
func (s *RESTServer) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(claimsKey).(*auth.Claims)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	user, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

// ========== Gateway handlers ==========

// HandleGatewayInfo returns the gateway's system identity
func (s *RESTServer) HandleGatewayInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.client.Info(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// HandleGetPairing reports where the gateway pairing stands
func (s *RESTServer) HandleGetPairing(w http.ResponseWriter, r *http.Request) {
	status, err := s.client.Session().PairingStatus(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"session": s.client.Session().State(),
	})
}

// HandleStartPairing requests a new authorization from the gateway. The
// user then has to confirm on the gateway's front panel.
func (s *RESTServer) HandleStartPairing(w http.ResponseWriter, r *http.Request) {
	cred, err := s.client.Session().StartPairing(r.Context())
	if err != nil {
		s.respondGatewayError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":   models.PairingAwaitingConfirmation,
		"track_id": cred.TrackID,
		"message":  "confirm the pairing on the gateway's front panel",
	})
}

// HandleReboot asks the gateway to restart
func (s *RESTServer) HandleReboot(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(claimsKey).(*auth.Claims)
	if !ok || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	if err := s.client.Reboot(r.Context()); err != nil {
		s.respondGatewayError(w, err)
		return
	}

	log.Info().Str("username", claims.Username).Msg("Gateway reboot requested")
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
}

// ========== Snapshot handlers ==========

// HandleListSnapshots returns the latest snapshot of every category
func (s *RESTServer) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots := make([]models.Snapshot, 0, len(models.AllCategories))
	for _, cat := range models.AllCategories {
		if snap, ok := s.bus.Latest(cat); ok {
			snapshots = append(snapshots, snap)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
	})
}

// HandleGetSnapshot returns the latest snapshot of one category
func (s *RESTServer) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	cat := models.Category(chi.URLParam(r, "category"))
	if !cat.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown category")
		return
	}

	snap, ok := s.bus.Latest(cat)
	if !ok {
		s.respondError(w, http.StatusNotFound, "no snapshot yet")
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// ========== Command handlers ==========

// HandleDispatchCommand validates and issues a command. The response only
// means the gateway accepted the write; confirmation arrives with a later
// snapshot.
func (s *RESTServer) HandleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pc, err := s.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		var apiErr *freebox.APIError
		var authErr *freebox.AuthError
		switch {
		case errors.As(err, &authErr):
			s.respondError(w, http.StatusBadGateway, authErr.Error())
		case errors.As(err, &apiErr):
			s.respondError(w, http.StatusBadGateway, apiErr.Error())
		case freebox.IsTransient(err):
			s.respondError(w, http.StatusGatewayTimeout, err.Error())
		default:
			s.respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusAccepted, pc)
}

// HandleListPending lists commands awaiting confirmation
func (s *RESTServer) HandleListPending(w http.ResponseWriter, r *http.Request) {
	pending := s.pending.All()
	if pending == nil {
		pending = []models.PendingCommand{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
	})
}

// ========== Service handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"session": s.client.Session().State(),
		"time":    time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// respondGatewayError maps gateway failures onto HTTP statuses
func (s *RESTServer) respondGatewayError(w http.ResponseWriter, err error) {
	var authErr *freebox.AuthError
	switch {
	case errors.As(err, &authErr):
		s.respondError(w, http.StatusConflict, "not paired with gateway: "+authErr.Error())
	case freebox.IsTransient(err):
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.respondError(w, http.StatusBadGateway, err.Error())
	}
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
