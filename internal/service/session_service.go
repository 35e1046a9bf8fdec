package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/id"
	"github.com/CzarSimon/httputil/logger"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/talentsync/session-manager/internal/models"
	"github.com/talentsync/session-manager/internal/repository"
)

var log = logger.GetDefaultLogger("talentsync/service")

// Prometheus metrics.
var (
	sessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "The total number of created sessions",
		},
	)
	sessionsJoinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_joined_total",
			Help: "The total number of successful session joins",
		},
	)
)

// Number of sessions returned by list operations. A hard bound, not a
// page size.
const listLimit = 20

// SessionService manages the session lifecycle: creation, retrieval,
// join and termination.
type SessionService struct {
	MaxParticipants int
	SessionRepo     repository.SessionRepository
}

// Create persists a new active session hosted by the given user.
func (s *SessionService) Create(ctx context.Context, hostID string, req models.CreateSessionRequest) (models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SessionService.Create")
	defer span.Finish()

	if req.Problem == "" || req.Difficulty == "" {
		err := httputil.NewError("Problem or Difficulty is not provided", http.StatusBadRequest, nil)
		span.LogFields(tracelog.Error(err))
		return models.Session{}, err
	}

	if !models.ValidDifficulty(req.Difficulty) {
		err := httputil.NewError("Unrecognized difficulty "+req.Difficulty, http.StatusBadRequest, nil)
		span.LogFields(tracelog.Error(err))
		return models.Session{}, err
	}

	session := models.Session{
		ID:         id.New(),
		CallID:     models.NewCallID(),
		Problem:    req.Problem,
		Difficulty: strings.ToUpper(req.Difficulty),
		Status:     models.StatusActive,
		HostID:     hostID,
	}

	err := s.SessionRepo.Save(ctx, session)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Session{}, httputil.InternalServerError(err)
	}

	sessionsCreatedTotal.Inc()
	return s.find(ctx, span, session.ID)
}

// FindActive lists active sessions, newest first.
func (s *SessionService) FindActive(ctx context.Context) ([]models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SessionService.FindActive")
	defer span.Finish()

	sessions, err := s.SessionRepo.FindActive(ctx, listLimit)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return nil, httputil.InternalServerError(err)
	}

	return sessions, nil
}

// FindRecent lists completed sessions the user hosted or participated
// in, newest first.
func (s *SessionService) FindRecent(ctx context.Context, userID string) ([]models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SessionService.FindRecent")
	defer span.Finish()

	sessions, err := s.SessionRepo.FindCompletedByUser(ctx, userID, listLimit)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return nil, httputil.InternalServerError(err)
	}

	return sessions, nil
}

// Find fetches a single session with its host and participants.
func (s *SessionService) Find(ctx context.Context, sessionID string) (models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SessionService.Find")
	defer span.Finish()

	return s.find(ctx, span, sessionID)
}

// Join adds a user as a session participant. Capacity and duplicate
// checks happen in the store inside the participant insert itself, so
// two racing joins on the last slot cannot both succeed.
func (s *SessionService) Join(ctx context.Context, sessionID, userID string) (models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SessionService.Join")
	defer span.Finish()

	err := s.SessionRepo.AddParticipant(ctx, sessionID, userID, s.MaxParticipants)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Session{}, joinError(err)
	}

	sessionsJoinedTotal.Inc()
	return s.find(ctx, span, sessionID)
}

// End transitions a session to completed. Only the host may end a
// session and only once.
func (s *SessionService) End(ctx context.Context, sessionID, userID string) (models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.SessionService.End")
	defer span.Finish()

	err := s.SessionRepo.Complete(ctx, sessionID, userID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Session{}, endError(err)
	}

	return s.find(ctx, span, sessionID)
}

func (s *SessionService) find(ctx context.Context, span opentracing.Span, sessionID string) (models.Session, error) {
	session, err := s.SessionRepo.Find(ctx, sessionID)
	if errors.Is(err, repository.ErrNoSuchSession) {
		httpErr := httputil.NewError("Session not found", http.StatusNotFound, err)
		span.LogFields(tracelog.Error(httpErr))
		return models.Session{}, httpErr
	}
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Session{}, httputil.InternalServerError(err)
	}

	return session, nil
}

// joinError and endError translate repository refusals into boundary
// errors. The response message carries the specific refusal and the
// wrapped error keeps the repository sentinel reachable via errors.Is.
func joinError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNoSuchSession):
		return httputil.NewError("Session not found", http.StatusNotFound, err)
	case errors.Is(err, repository.ErrAlreadyJoined):
		return httputil.NewError("You have already joined this session", http.StatusConflict, err)
	case errors.Is(err, repository.ErrSessionFull):
		return httputil.NewError("Session is full", http.StatusConflict, err)
	case errors.Is(err, repository.ErrSessionCompleted):
		return httputil.NewError("Session is already completed", http.StatusConflict, err)
	default:
		return httputil.InternalServerError(err)
	}
}

func endError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNoSuchSession):
		return httputil.NewError("Session not found", http.StatusNotFound, err)
	case errors.Is(err, repository.ErrNotHost):
		return httputil.NewError("You are not a host", http.StatusForbidden, err)
	case errors.Is(err, repository.ErrSessionCompleted):
		return httputil.NewError("Session is already completed", http.StatusConflict, err)
	default:
		return httputil.InternalServerError(err)
	}
}
