package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lifequest/lifequest-hub/internal/application/command"
	"github.com/lifequest/lifequest-hub/internal/application/query"
	"github.com/lifequest/lifequest-hub/internal/domain/progression"
	"github.com/lifequest/lifequest-hub/internal/domain/shared"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/redis"
	"github.com/lifequest/lifequest-hub/internal/interface/http/handlers"
	"github.com/lifequest/lifequest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionResponse is the computed progression of the current data.
type ProgressionResponse struct {
	TotalXP       int                     `json:"total_xp"`
	Level         int                     `json:"level"`
	CurrentXP     int                     `json:"current_xp"`
	NextLevelXP   int                     `json:"next_level_xp"`
	OverflowXP    int                     `json:"overflow_xp,omitempty"`
	Percent       int                     `json:"percent"`
	XPToNextLevel int                     `json:"xp_to_next_level"`
	Rank          progression.Rank        `json:"rank"`
	Breakdown     *progression.Breakdown  `json:"breakdown,omitempty"`
	Failures      []query.SourceFailure   `json:"failures,omitempty"`
	Source        string                  `json:"source,omitempty"`
	SyncedAt      *time.Time              `json:"synced_at,omitempty"`
}

func newProgressionResponse(state progression.State) ProgressionResponse {
	return ProgressionResponse{
		TotalXP:       state.TotalXP,
		Level:         state.Level,
		CurrentXP:     state.CurrentXP,
		NextLevelXP:   state.NextLevelXP,
		OverflowXP:    state.OverflowXP,
		Percent:       state.Percent(),
		XPToNextLevel: state.XPToNextLevel(),
		Rank:          state.Rank,
	}
}

// SyncResponse is the outcome of a profile sync.
type SyncResponse struct {
	ProfileID    string `json:"profile_id"`
	Persisted    bool   `json:"persisted"`
	LevelChanged bool   `json:"level_changed"`
	RankChanged  bool   `json:"rank_changed"`
	ProgressionResponse
}

// TiersResponse is the whole level curve.
type TiersResponse struct {
	MaxLevel     int                   `json:"max_level"`
	XPToMaxLevel int                   `json:"xp_to_max_level"`
	Tiers        []progression.TierRow `json:"tiers"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgression handles GET /api/v1/progression.
// Computes from the current data without writing anything.
func (s *Server) handleGetProgression(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Calculator.Handle(r.Context(), query.ComputeTotalXPQuery{
		CorrelationID: handlers.RequestID(r.Context()),
	})
	if err != nil {
		logger.FromContext(r.Context()).Warn("failed to compute progression", logger.Err(err))
		writeJSONError(w, r, http.StatusServiceUnavailable, "computation_aborted", "Progression could not be computed")
		return
	}

	writeJSON(w, r, http.StatusOK, computedResponse(result))
}

// handleGetTiers handles GET /api/v1/progression/tiers.
func (s *Server) handleGetTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, TiersResponse{
		MaxLevel:     progression.MaxLevel,
		XPToMaxLevel: progression.XPToMaxLevel,
		Tiers:        progression.TierTable(),
	})
}

// handleGetProfileProgression handles GET /api/v1/profiles/{id}/progression.
// Serves the last synced snapshot and falls back to a fresh computation on a
// cache miss or cache failure.
func (s *Server) handleGetProfileProgression(w http.ResponseWriter, r *http.Request) {
	profileID := r.PathValue("id")
	if !validProfilePath(profileID) {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_profile_id", "Profile ID must be a UUID or \"default\"")
		return
	}
	log := logger.FromContext(r.Context()).With(logger.ProfileID(profileID))

	if s.deps.Progression != nil {
		snap, err := s.deps.Progression.GetProgression(r.Context(), profileID)
		switch {
		case err == nil:
			resp := newProgressionResponse(snap.State)
			resp.Source = "cache"
			resp.SyncedAt = &snap.SyncedAt
			writeJSON(w, r, http.StatusOK, resp)
			return
		case !errors.Is(err, redis.ErrCacheMiss):
			log.Warn("progression cache read failed", logger.Err(err))
		}
	}

	result, err := s.deps.Calculator.Handle(r.Context(), query.ComputeTotalXPQuery{
		CorrelationID: handlers.RequestID(r.Context()),
	})
	if err != nil {
		log.Warn("failed to compute progression", logger.Err(err))
		writeJSONError(w, r, http.StatusServiceUnavailable, "computation_aborted", "Progression could not be computed")
		return
	}

	writeJSON(w, r, http.StatusOK, computedResponse(result))
}

// validProfilePath accepts a uuid or the singleton alias.
func validProfilePath(id string) bool {
	if id == redis.SingletonKey {
		return true
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func computedResponse(result *query.ComputeTotalXPResult) ProgressionResponse {
	resp := newProgressionResponse(result.State())
	resp.Breakdown = &result.Breakdown
	resp.Failures = result.Failures
	resp.Source = "computed"
	return resp
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleSyncProfile handles POST /api/v1/profiles/{id}/sync.
// The id "default" addresses the singleton profile.
func (s *Server) handleSyncProfile(w http.ResponseWriter, r *http.Request) {
	profileID := r.PathValue("id")
	if profileID == redis.SingletonKey {
		profileID = ""
	}
	log := logger.FromContext(r.Context()).With(logger.ProfileID(profileID))

	result, err := s.deps.Syncer.Handle(r.Context(), command.SyncProfileCommand{
		ProfileID:     profileID,
		Reason:        "api",
		CorrelationID: handlers.RequestID(r.Context()),
	})

	var body *SyncResponse
	if result != nil {
		body = &SyncResponse{
			ProfileID:           result.ProfileID,
			Persisted:           result.Persisted,
			LevelChanged:        result.LevelChanged,
			RankChanged:         result.RankChanged,
			ProgressionResponse: newProgressionResponse(result.State),
		}
		body.Breakdown = &result.Breakdown
		body.Failures = result.Failures
		body.Source = "computed"
	}

	switch {
	case err == nil:
		log.Info("profile synced",
			logger.CharacterLevel(result.State.Level),
			logger.RankLetter(string(result.State.Rank)),
			logger.XPAmount(result.State.TotalXP),
		)
		writeJSON(w, r, http.StatusOK, body)
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_profile_id", "Profile ID must be a UUID")
	case errors.Is(err, shared.ErrProfileNotFound):
		writeJSONErrorData(w, r, http.StatusNotFound,
			&APIError{Code: "profile_not_found", Message: "No profile record to update"}, body)
	case errors.Is(err, shared.ErrProfileWriteFailed):
		log.Error("profile write failed", logger.Err(err))
		writeJSONErrorData(w, r, http.StatusBadGateway,
			&APIError{Code: "profile_write_failed", Message: "Progression was computed but could not be saved"}, body)
	default:
		log.Error("profile sync failed", logger.Err(err))
		writeJSONErrorData(w, r, http.StatusServiceUnavailable,
			&APIError{Code: "sync_failed", Message: "Profile sync could not complete"}, body)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD-CHANGED HOOK
// ══════════════════════════════════════════════════════════════════════════════

// RecordChangedRequest is sent by the CRUD layer after a write.
type RecordChangedRequest struct {
	Collection string `json:"collection" validate:"required,collection"`
	Action     string `json:"action" validate:"required,record_action"`
	RecordID   string `json:"record_id" validate:"omitempty,max=128"`
	ProfileID  string `json:"profile_id" validate:"omitempty,uuid"`
}

// handleRecordChanged handles POST /api/v1/records/changed.
// The sync runs in the background; the response never waits for it.
func (s *Server) handleRecordChanged(w http.ResponseWriter, r *http.Request) {
	var req RecordChangedRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "Request body must be a JSON object")
		return
	}

	if fields := s.validationErrors(req); fields != nil {
		writeJSONErrorData(w, r, http.StatusUnprocessableEntity,
			&APIError{Code: "validation_failed", Message: "Invalid record change", Fields: fields}, nil)
		return
	}

	eventType, _ := shared.RecordActionEventType(req.Action)
	event := shared.NewRecordChangedEvent(eventType, req.ProfileID, req.Collection, req.RecordID)
	event.Correlate(handlers.RequestID(r.Context()))

	if err := s.deps.Publisher.Publish(event); err != nil {
		logger.FromContext(r.Context()).Warn("failed to publish record change",
			logger.Collection(req.Collection),
			logger.RecordID(req.RecordID),
			logger.Err(err),
		)
	}

	writeJSON(w, r, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"event_type": string(eventType),
	})
}
