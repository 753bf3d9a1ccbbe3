package service

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/kidflix/watch-server-go/internal/audit"
	"github.com/kidflix/watch-server-go/internal/database"
	apperrors "github.com/kidflix/watch-server-go/internal/errors"
	"github.com/kidflix/watch-server-go/internal/model"
	"github.com/kidflix/watch-server-go/internal/repository"
)

// TxRunner executes a function inside a database transaction. *database.DB
// satisfies it; tests substitute a pass-through.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type StartParams struct {
	ProfileID *string
	VideoID   string
	NfcChipID *string
}

type StartResult struct {
	SessionID        string    `json:"sessionId"`
	StartedAt        time.Time `json:"startedAt"`
	RemainingMinutes *int      `json:"remainingMinutes,omitempty"`
}

type HeartbeatResult struct {
	ElapsedSeconds   int  `json:"elapsedSeconds"`
	LimitReached     bool `json:"limitReached"`
	RemainingMinutes *int `json:"remainingMinutes,omitempty"`
}

type EndResult struct {
	DurationSeconds int                 `json:"durationSeconds"`
	StoppedReason   model.StoppedReason `json:"stoppedReason"`
	AlreadyEnded    bool                `json:"alreadyEnded"`
}

type BudgetResult struct {
	Date             string `json:"date"`
	TotalMinutes     int    `json:"totalMinutes"`
	LimitMinutes     int    `json:"limitMinutes"`
	RemainingMinutes int    `json:"remainingMinutes"`
}

// WatchService owns the watch session lifecycle: the start gate against the
// daily budget, heartbeat evaluation, and the idempotent terminal write that
// commits watched minutes. Minutes are committed only at termination; a
// session abandoned without a terminal call contributes nothing, which is a
// known limitation rather than something this service papers over.
type WatchService struct {
	tx       TxRunner
	sessions repository.WatchSessionRepository
	budgets  repository.DailyBudgetRepository
	profiles repository.ProfileRepository
	videos   repository.VideoRepository

	// videoDurations caches the immutable catalog durations consumed on
	// every heartbeat with a reported position.
	videoDurations *lru.Cache[string, int]

	positionTolerance int

	// now is swapped out in tests; elapsed time is always measured against
	// this clock, never against anything client-supplied.
	now func() time.Time
}

func NewWatchService(
	tx TxRunner,
	sessions repository.WatchSessionRepository,
	budgets repository.DailyBudgetRepository,
	profiles repository.ProfileRepository,
	videos repository.VideoRepository,
	positionTolerance int,
	videoCacheSize int,
) *WatchService {
	cache, err := lru.New[string, int](videoCacheSize)
	if err != nil {
		// Only fails for a non-positive size; config validation rejects that.
		panic(fmt.Sprintf("video cache: %v", err))
	}
	return &WatchService{
		tx:                tx,
		sessions:          sessions,
		budgets:           budgets,
		profiles:          profiles,
		videos:            videos,
		videoDurations:    cache,
		positionTolerance: positionTolerance,
		now:               time.Now,
	}
}

// Start opens a session. Shape validation and ownership checks have already
// happened in the handler; this gate only enforces the daily budget, and it
// does so before any row is inserted so that an exhausted budget never
// produces a session.
func (s *WatchService) Start(ctx context.Context, params StartParams) (*StartResult, error) {
	if _, err := s.videoDuration(ctx, params.VideoID); err != nil {
		return nil, err
	}

	var remaining *int
	if params.ProfileID != nil {
		profile, err := s.profiles.FindByID(ctx, *params.ProfileID)
		if err != nil {
			return nil, fmt.Errorf("find profile: %w", err)
		}
		if profile == nil {
			return nil, apperrors.NotFound("Profile")
		}

		left, err := s.remainingToday(ctx, profile)
		if err != nil {
			return nil, err
		}
		if left == 0 {
			audit.Log(audit.Event{
				Type:      audit.EventBudgetExhausted,
				ProfileID: profile.ID,
			})
			return nil, apperrors.BudgetExhausted(profile.ID)
		}
		remaining = &left
	}

	session, err := s.sessions.Create(ctx, model.CreateWatchSessionParams{
		ProfileID: params.ProfileID,
		VideoID:   params.VideoID,
		NfcChipID: params.NfcChipID,
		StartedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("videoId", session.VideoID).
		Msg("watch session started")
	audit.Log(audit.Event{
		Type:      audit.EventSessionStart,
		SessionID: session.ID,
		ProfileID: deref(params.ProfileID),
	})

	return &StartResult{
		SessionID:        session.ID,
		StartedAt:        session.StartedAt,
		RemainingMinutes: remaining,
	}, nil
}

// Heartbeat answers "should this session keep playing?". It reads the
// already-committed daily total and projects this session's own elapsed time
// on top; nothing is committed here, so the projection is consistent no
// matter how many sibling sessions terminate concurrently.
func (s *WatchService) Heartbeat(ctx context.Context, sessionID string, reportedPosition *int) (*HeartbeatResult, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if !session.Active() {
		// Expected under end-then-stray-heartbeat races.
		return nil, apperrors.SessionEnded()
	}

	if reportedPosition != nil {
		duration, err := s.videoDuration(ctx, session.VideoID)
		if err != nil {
			return nil, err
		}
		if !ValidatePosition(*reportedPosition, duration, s.positionTolerance) {
			audit.Log(audit.Event{
				Type:      audit.EventPositionRejected,
				SessionID: session.ID,
				ProfileID: deref(session.ProfileID),
				Details: map[string]interface{}{
					"position": *reportedPosition,
					"duration": duration,
				},
			})
			return nil, apperrors.InvalidPosition(*reportedPosition, duration)
		}
	}

	elapsed := int(s.now().Sub(session.StartedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	result := &HeartbeatResult{ElapsedSeconds: elapsed}

	if session.ProfileID != nil {
		profile, err := s.profiles.FindByID(ctx, *session.ProfileID)
		if err != nil {
			return nil, fmt.Errorf("find profile: %w", err)
		}
		if profile != nil {
			committed, err := s.budgets.GetTotal(ctx, profile.ID, model.WatchDate(s.now(), profile.Timezone))
			if err != nil {
				return nil, fmt.Errorf("get budget total: %w", err)
			}

			projected := committed + elapsed/60
			if projected >= profile.DailyLimitMinutes {
				zero := 0
				result.LimitReached = true
				result.RemainingMinutes = &zero
				audit.Log(audit.Event{
					Type:      audit.EventLimitReached,
					SessionID: session.ID,
					ProfileID: profile.ID,
					Details:   map[string]interface{}{"projectedMinutes": projected},
				})
			} else {
				left := profile.DailyLimitMinutes - projected
				result.RemainingMinutes = &left
			}
		}
	}

	return result, nil
}

// End performs the single terminal mutation. Racing callers are resolved by
// the conditional write in the ledger: the first one commits the duration and
// the budget minutes, every later one gets AlreadyEnded with the same values.
// The terminal write and the budget contribution run in one transaction, so a
// failed commit rolls the termination back and the client's retry lands both.
// finalPosition is informational only and never influences the duration.
func (s *WatchService) End(ctx context.Context, sessionID string, reason model.StoppedReason, finalPosition *int) (*EndResult, error) {
	var session *model.WatchSession
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		session, err = s.sessions.WithTx(tx).End(ctx, sessionID, reason)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		if session == nil || session.ProfileID == nil {
			return nil
		}
		return s.commitBudget(ctx, s.budgets.WithTx(tx), session)
	})
	if err != nil {
		return nil, err
	}

	if session == nil {
		// Lost the race, or the id never existed. Distinguish the two.
		existing, err := s.sessions.FindByID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("find session: %w", err)
		}
		if existing == nil {
			return nil, apperrors.NotFound("Session")
		}
		return &EndResult{
			DurationSeconds: derefInt(existing.DurationSeconds),
			StoppedReason:   derefReason(existing.StoppedReason),
			AlreadyEnded:    true,
		}, nil
	}

	duration := derefInt(session.DurationSeconds)

	logEvent := log.Info().
		Str("sessionId", session.ID).
		Str("reason", string(reason)).
		Int("durationSeconds", duration)
	if finalPosition != nil {
		logEvent = logEvent.Int("finalPositionSeconds", *finalPosition)
	}
	logEvent.Msg("watch session ended")
	audit.Log(audit.Event{
		Type:      audit.EventSessionEnd,
		SessionID: session.ID,
		ProfileID: deref(session.ProfileID),
		Details:   map[string]interface{}{"reason": string(reason), "durationSeconds": duration},
	})

	return &EndResult{
		DurationSeconds: duration,
		StoppedReason:   reason,
	}, nil
}

// commitBudget adds the session's watched minutes to the profile's day inside
// the terminating transaction. A commit failure rolls back the terminal write
// with it; the caller retries and both land together.
func (s *WatchService) commitBudget(ctx context.Context, budgets repository.DailyBudgetRepository, session *model.WatchSession) error {
	minutes := derefInt(session.DurationSeconds) / 60
	if minutes <= 0 {
		return nil
	}

	profile, err := s.profiles.FindByID(ctx, *session.ProfileID)
	if err != nil {
		return fmt.Errorf("find profile: %w", err)
	}
	if profile == nil {
		// Profile deleted mid-session: keep the termination, drop the minutes.
		log.Warn().
			Str("sessionId", session.ID).
			Str("profileId", *session.ProfileID).
			Msg("budget commit skipped: profile no longer exists")
		return nil
	}

	endedAt := s.now()
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	date := model.WatchDate(endedAt, profile.Timezone)

	total, err := budgets.Commit(ctx, profile.ID, date, profile.Timezone, minutes)
	if err != nil {
		return fmt.Errorf("commit budget: %w", err)
	}

	log.Info().
		Str("profileId", profile.ID).
		Str("date", date).
		Int("minutes", minutes).
		Int("totalMinutes", total).
		Msg("daily budget committed")
	return nil
}

// QueryBudget reports the committed total and remaining minutes for today.
func (s *WatchService) QueryBudget(ctx context.Context, profileID string) (*BudgetResult, error) {
	profile, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	if profile == nil {
		return nil, apperrors.NotFound("Profile")
	}

	date := model.WatchDate(s.now(), profile.Timezone)
	total, err := s.budgets.GetTotal(ctx, profile.ID, date)
	if err != nil {
		return nil, fmt.Errorf("get budget total: %w", err)
	}

	remaining := profile.DailyLimitMinutes - total
	if remaining < 0 {
		remaining = 0
	}

	return &BudgetResult{
		Date:             date,
		TotalMinutes:     total,
		LimitMinutes:     profile.DailyLimitMinutes,
		RemainingMinutes: remaining,
	}, nil
}

// History lists a profile's sessions, newest first.
func (s *WatchService) History(ctx context.Context, profileID string, limit, offset int) ([]model.WatchSession, int, error) {
	sessions, err := s.sessions.FindByProfileID(ctx, profileID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("find sessions: %w", err)
	}
	count, err := s.sessions.CountByProfileID(ctx, profileID)
	if err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, count, nil
}

func (s *WatchService) remainingToday(ctx context.Context, profile *model.Profile) (int, error) {
	date := model.WatchDate(s.now(), profile.Timezone)
	total, err := s.budgets.GetTotal(ctx, profile.ID, date)
	if err != nil {
		return 0, fmt.Errorf("get budget total: %w", err)
	}
	remaining := profile.DailyLimitMinutes - total
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *WatchService) videoDuration(ctx context.Context, videoID string) (int, error) {
	if duration, ok := s.videoDurations.Get(videoID); ok {
		return duration, nil
	}
	video, err := s.videos.FindByID(ctx, videoID)
	if err != nil {
		return 0, fmt.Errorf("find video: %w", err)
	}
	if video == nil {
		return 0, apperrors.NotFound("Video")
	}
	s.videoDurations.Add(videoID, video.DurationSeconds)
	return video.DurationSeconds, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

func derefReason(r *model.StoppedReason) model.StoppedReason {
	if r == nil {
		return ""
	}
	return *r
}
