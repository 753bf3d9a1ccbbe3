package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/kidflix/watch-server-go/internal/errors"
	"github.com/kidflix/watch-server-go/internal/middleware"
	"github.com/kidflix/watch-server-go/internal/repository"
	"github.com/kidflix/watch-server-go/internal/service"
	"github.com/kidflix/watch-server-go/internal/util"
)

// ProfileHandler exposes the read-only per-profile views: today's budget and
// the retained session history.
type ProfileHandler struct {
	watch    *service.WatchService
	profiles repository.ProfileRepository
}

func NewProfileHandler(watch *service.WatchService, profiles repository.ProfileRepository) *ProfileHandler {
	return &ProfileHandler{
		watch:    watch,
		profiles: profiles,
	}
}

func (h *ProfileHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{profileID}/budget", h.GetBudget)
	r.Get("/{profileID}/sessions", h.ListSessions)

	return r
}

// GET /v1/profiles/{profileID}/budget
func (h *ProfileHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	profileID, ok := h.ownedProfileID(w, r)
	if !ok {
		return
	}

	result, err := h.watch.QueryBudget(r.Context(), profileID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/profiles/{profileID}/sessions
func (h *ProfileHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	profileID, ok := h.ownedProfileID(w, r)
	if !ok {
		return
	}

	pagination := ParsePagination(r)
	sessions, total, err := h.watch.History(r.Context(), profileID, pagination.Limit, pagination.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
		"limit":    pagination.Limit,
		"offset":   pagination.Offset,
	})
}

// ownedProfileID validates the URL parameter and checks that the profile
// belongs to the authenticated account.
func (h *ProfileHandler) ownedProfileID(w http.ResponseWriter, r *http.Request) (string, bool) {
	profileID := chi.URLParam(r, "profileID")
	if !util.IsValidUUID(profileID) {
		writeError(w, apperrors.InvalidInput("profileID", "must be a UUID"))
		return "", false
	}

	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Missing account"))
		return "", false
	}

	profile, err := h.profiles.FindByID(r.Context(), profileID)
	if err != nil {
		writeError(w, err)
		return "", false
	}
	if profile == nil {
		writeError(w, apperrors.NotFound("Profile"))
		return "", false
	}
	if profile.AccountID != account.ID {
		writeError(w, apperrors.Forbidden("Profile does not belong to this account"))
		return "", false
	}

	return profileID, true
}
