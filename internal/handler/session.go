package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/kidflix/watch-server-go/internal/audit"
	apperrors "github.com/kidflix/watch-server-go/internal/errors"
	"github.com/kidflix/watch-server-go/internal/middleware"
	"github.com/kidflix/watch-server-go/internal/model"
	"github.com/kidflix/watch-server-go/internal/repository"
	"github.com/kidflix/watch-server-go/internal/service"
	"github.com/kidflix/watch-server-go/internal/util"
)

type SessionHandler struct {
	watch    *service.WatchService
	profiles repository.ProfileRepository
	chips    repository.ChipRepository
}

func NewSessionHandler(
	watch *service.WatchService,
	profiles repository.ProfileRepository,
	chips repository.ChipRepository,
) *SessionHandler {
	return &SessionHandler{
		watch:    watch,
		profiles: profiles,
		chips:    chips,
	}
}

type startRequest struct {
	ProfileID *string `json:"profileId,omitempty"`
	VideoID   string  `json:"videoId"`
	NfcChipID *string `json:"nfcChipId,omitempty"`
}

type kioskStartRequest struct {
	ChipUID   string  `json:"nfcChipUid"`
	ProfileID *string `json:"profileId,omitempty"`
}

type heartbeatRequest struct {
	CurrentPositionSeconds *int `json:"currentPositionSeconds,omitempty"`
}

type endRequest struct {
	StoppedReason        string `json:"stoppedReason"`
	FinalPositionSeconds *int   `json:"finalPositionSeconds,omitempty"`
}

// POST /v1/sessions
//
// Authenticated start. Ownership of the profile is checked here, before the
// session core is invoked; the service itself only gates on the budget.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.VideoID == "" {
		writeError(w, apperrors.MissingRequired("videoId"))
		return
	}
	if !util.IsValidUUID(req.VideoID) {
		writeError(w, apperrors.InvalidInput("videoId", "must be a UUID"))
		return
	}
	if req.ProfileID != nil && !util.IsValidUUID(*req.ProfileID) {
		writeError(w, apperrors.InvalidInput("profileId", "must be a UUID"))
		return
	}

	account := middleware.GetAccount(ctx)
	if account == nil {
		writeError(w, apperrors.Unauthorized("Missing account"))
		return
	}

	if req.ProfileID != nil {
		profile, err := h.profiles.FindByID(ctx, *req.ProfileID)
		if err != nil {
			log.Error().Err(err).Msg("start session: profile lookup failed")
			writeError(w, err)
			return
		}
		if profile == nil {
			writeError(w, apperrors.NotFound("Profile"))
			return
		}
		if profile.AccountID != account.ID {
			writeError(w, apperrors.Forbidden("Profile does not belong to this account"))
			return
		}
	}

	result, err := h.watch.Start(ctx, service.StartParams{
		ProfileID: req.ProfileID,
		VideoID:   req.VideoID,
		NfcChipID: req.NfcChipID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// POST /kiosk/sessions
//
// Anonymous start driven by an NFC chip tap. The chip binding is the
// authorization context: a client-supplied profileId must match the chip's
// registered profile, and the video always comes from the chip.
func (h *SessionHandler) KioskStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req kioskStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.ChipUID == "" {
		writeError(w, apperrors.MissingRequired("nfcChipUid"))
		return
	}
	if req.ProfileID != nil && !util.IsValidUUID(*req.ProfileID) {
		writeError(w, apperrors.InvalidInput("profileId", "must be a UUID"))
		return
	}

	chip, err := h.chips.FindByUID(ctx, req.ChipUID)
	if err != nil {
		log.Error().Err(err).Msg("kiosk start: chip lookup failed")
		writeError(w, err)
		return
	}
	if chip == nil {
		log.Warn().Str("chipUid", util.MaskChipUID(req.ChipUID)).Msg("kiosk start: unknown chip")
		writeError(w, apperrors.NotFound("Chip"))
		return
	}

	if req.ProfileID != nil {
		if chip.ProfileID == nil || *chip.ProfileID != *req.ProfileID {
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventChipMismatch,
				ProfileID: *req.ProfileID,
				Details:   map[string]interface{}{"chipUid": util.MaskChipUID(req.ChipUID)},
			})
			writeError(w, apperrors.ChipMismatch())
			return
		}
	}

	result, err := h.watch.Start(ctx, service.StartParams{
		ProfileID: chip.ProfileID,
		VideoID:   chip.VideoID,
		NfcChipID: &chip.ID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// POST /v1/sessions/{sessionID}/heartbeat
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		writeError(w, apperrors.InvalidInput("sessionID", "must be a UUID"))
		return
	}

	var req heartbeatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.ValidationError("Invalid request body"))
			return
		}
	}

	result, err := h.watch.Heartbeat(r.Context(), sessionID, req.CurrentPositionSeconds)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/sessions/{sessionID}/end
//
// Idempotent: a second end (auto-stop racing the exit button, or the
// teardown beacon after a manual stop) returns the originally recorded
// duration with alreadyEnded set.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		writeError(w, apperrors.InvalidInput("sessionID", "must be a UUID"))
		return
	}

	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.StoppedReason == "" {
		writeError(w, apperrors.MissingRequired("stoppedReason"))
		return
	}
	if !util.IsValidEnum(req.StoppedReason, model.StoppedReasons) {
		writeError(w, apperrors.InvalidInput("stoppedReason", "unknown value"))
		return
	}

	result, err := h.watch.End(r.Context(), sessionID, model.StoppedReason(req.StoppedReason), req.FinalPositionSeconds)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
