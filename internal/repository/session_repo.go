package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/CzarSimon/httputil/dbutil"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/talentsync/session-manager/internal/models"
)

// SessionRepository persistance interface for sessions and their
// participant sets. AddParticipant and Complete are the two conditional
// mutations, everything else is convenience querying.
type SessionRepository interface {
	Save(ctx context.Context, session models.Session) error
	Find(ctx context.Context, id string) (models.Session, error)
	FindActive(ctx context.Context, limit int) ([]models.Session, error)
	FindCompletedByUser(ctx context.Context, userID string, limit int) ([]models.Session, error)
	AddParticipant(ctx context.Context, sessionID, userID string, capacity int) error
	Complete(ctx context.Context, sessionID, hostID string) error
}

// NewSessionRepository creates a new SQL SessionRepository.
func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepo{
		db: db,
	}
}

type sessionRepo struct {
	db *sql.DB
}

const insertSessionQuery = `
	INSERT INTO session(
			id,
			call_id,
			problem,
			difficulty,
			status,
			host_id,
			created_at,
			updated_at
		)
	VALUES
		(?, ?, ?, ?, ?, ?, ?, ?)`

func (r *sessionRepo) Save(ctx context.Context, session models.Session) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session_repo_save")
	defer span.Finish()

	now := getNow()
	_, err := r.db.ExecContext(
		ctx, insertSessionQuery,
		session.ID, session.CallID, session.Problem, session.Difficulty, session.Status, session.HostID, now, now,
	)
	if err != nil {
		err = fmt.Errorf("failed to insert row into database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}

func (r *sessionRepo) Find(ctx context.Context, id string) (models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session_repo_find")
	defer span.Finish()

	tx, err := r.db.Begin()
	if err != nil {
		err = fmt.Errorf("failed to create database transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return models.Session{}, err
	}
	defer dbutil.Rollback(tx)

	session, err := findSession(ctx, tx, id)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Session{}, err
	}

	err = attachUsers(ctx, tx, &session)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.Session{}, err
	}

	return session, nil
}

const findActiveQuery = `
	SELECT
		id,
		call_id,
		problem,
		difficulty,
		status,
		host_id,
		created_at,
		updated_at
	FROM session
	WHERE
		status = ?
	ORDER BY created_at DESC
	LIMIT ?`

// FindActive lists active sessions, newest first. The limit is a hard
// bound, there is no pagination beyond it.
func (r *sessionRepo) FindActive(ctx context.Context, limit int) ([]models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session_repo_find_active")
	defer span.Finish()

	tx, err := r.db.Begin()
	if err != nil {
		err = fmt.Errorf("failed to create database transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return nil, err
	}
	defer dbutil.Rollback(tx)

	sessions, err := findSessions(ctx, tx, findActiveQuery, models.StatusActive, limit)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return nil, err
	}

	return sessions, nil
}

const findCompletedByUserQuery = `
	SELECT
		s.id,
		s.call_id,
		s.problem,
		s.difficulty,
		s.status,
		s.host_id,
		s.created_at,
		s.updated_at
	FROM session s
	WHERE
		s.status = ?
		AND (
			s.host_id = ?
			OR EXISTS (
				SELECT 1 FROM participant p WHERE p.session_id = s.id AND p.user_id = ?
			)
		)
	ORDER BY s.created_at DESC
	LIMIT ?`

// FindCompletedByUser lists completed sessions that the user hosted or
// participated in, newest first.
func (r *sessionRepo) FindCompletedByUser(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session_repo_find_completed_by_user")
	defer span.Finish()

	tx, err := r.db.Begin()
	if err != nil {
		err = fmt.Errorf("failed to create database transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return nil, err
	}
	defer dbutil.Rollback(tx)

	sessions, err := findSessions(ctx, tx, findCompletedByUserQuery, models.StatusCompleted, userID, userID, limit)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return nil, err
	}

	return sessions, nil
}

const addParticipantQuery = `
	INSERT INTO participant(session_id, user_id, created_at)
	SELECT s.id, ?, ?
	FROM session s
	WHERE
		s.id = ?
		AND s.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM participant p WHERE p.session_id = s.id AND p.user_id = ?
		)
		AND (
			SELECT COUNT(*) FROM participant p WHERE p.session_id = s.id
		) < ?`

// AddParticipant records a user as a session participant. The insert is
// conditional on the current persisted state so that concurrent joins on
// the same session cannot overshoot the capacity, the database is the
// arbiter of who wins the last slot. When the insert changes nothing the
// refusal is classified into a typed error inside the same transaction.
func (r *sessionRepo) AddParticipant(ctx context.Context, sessionID, userID string, capacity int) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session_repo_add_participant")
	defer span.Finish()

	tx, err := r.db.Begin()
	if err != nil {
		err = fmt.Errorf("failed to create database transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}
	defer dbutil.Rollback(tx)

	res, err := tx.ExecContext(ctx, addParticipantQuery, userID, getNow(), sessionID, models.StatusActive, userID, capacity)
	if err != nil {
		err = fmt.Errorf("failed to insert row into database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to read number of affected rows %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	if rows == 1 {
		return tx.Commit()
	}

	err = classifyJoinRefusal(ctx, tx, sessionID, userID, capacity)
	span.LogFields(tracelog.Error(err))
	return err
}

// classifyJoinRefusal determines why a conditional participant insert
// changed no rows. The reads here only type the error, admission was
// already decided by the insert itself.
func classifyJoinRefusal(ctx context.Context, tx *sql.Tx, sessionID, userID string, capacity int) error {
	session, err := findSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}

	if session.Status == models.StatusCompleted {
		return ErrSessionCompleted
	}

	participants, err := findParticipants(ctx, tx, sessionID)
	if err != nil {
		return err
	}

	for _, p := range participants {
		if p.ID == userID {
			return ErrAlreadyJoined
		}
	}

	if len(participants) >= capacity {
		return ErrSessionFull
	}

	return fmt.Errorf("failed to add participant to session %s for an unknown reason", sessionID)
}

const completeSessionQuery = `
	UPDATE session
	SET
		status = ?,
		updated_at = ?
	WHERE
		id = ?
		AND host_id = ?
		AND status = ?`

// Complete transitions a session from active to completed. The update is
// conditional on the session still being active and hosted by the given
// user, a refusal is classified into a typed error.
func (r *sessionRepo) Complete(ctx context.Context, sessionID, hostID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session_repo_complete")
	defer span.Finish()

	tx, err := r.db.Begin()
	if err != nil {
		err = fmt.Errorf("failed to create database transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}
	defer dbutil.Rollback(tx)

	res, err := tx.ExecContext(ctx, completeSessionQuery, models.StatusCompleted, getNow(), sessionID, hostID, models.StatusActive)
	if err != nil {
		err = fmt.Errorf("failed to update row in database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to read number of affected rows %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	if rows == 1 {
		return tx.Commit()
	}

	err = classifyEndRefusal(ctx, tx, sessionID, hostID)
	span.LogFields(tracelog.Error(err))
	return err
}

func classifyEndRefusal(ctx context.Context, tx *sql.Tx, sessionID, hostID string) error {
	session, err := findSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}

	if session.HostID != hostID {
		return ErrNotHost
	}

	if session.Status == models.StatusCompleted {
		return ErrSessionCompleted
	}

	return fmt.Errorf("failed to complete session %s for an unknown reason", sessionID)
}

const findSessionQuery = `
	SELECT
		id,
		call_id,
		problem,
		difficulty,
		status,
		host_id,
		created_at,
		updated_at
	FROM session
	WHERE
		id = ?`

func findSession(ctx context.Context, tx *sql.Tx, id string) (models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "find_session")
	defer span.Finish()

	var s models.Session
	err := tx.QueryRowContext(ctx, findSessionQuery, id).Scan(
		&s.ID, &s.CallID, &s.Problem, &s.Difficulty, &s.Status, &s.HostID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return models.Session{}, ErrNoSuchSession
	}
	if err != nil {
		err = fmt.Errorf("failed to query database. %w", err)
		span.LogFields(tracelog.Error(err))
		return models.Session{}, err
	}

	return s, nil
}

func findSessions(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]models.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "find_sessions")
	defer span.Finish()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to query for sessions %w", err)
		span.LogFields(tracelog.Error(err))
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		err := rows.Scan(&s.ID, &s.CallID, &s.Problem, &s.Difficulty, &s.Status, &s.HostID, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			err = fmt.Errorf("failed to scan session %w", err)
			span.LogFields(tracelog.Error(err))
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("failed to read session rows %w", err)
		span.LogFields(tracelog.Error(err))
		return nil, err
	}

	for i := range sessions {
		err = attachUsers(ctx, tx, &sessions[i])
		if err != nil {
			span.LogFields(tracelog.Error(err))
			return nil, err
		}
	}

	return sessions, nil
}

const findParticipantsQuery = `
	SELECT
		u.id,
		u.provider_id,
		u.email,
		u.name,
		u.avatar,
		u.created_at,
		u.updated_at
	FROM participant p
	INNER JOIN app_user u ON u.id = p.user_id
	WHERE
		p.session_id = ?
	ORDER BY p.created_at`

func findParticipants(ctx context.Context, tx *sql.Tx, sessionID string) ([]models.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "find_participants")
	defer span.Finish()

	rows, err := tx.QueryContext(ctx, findParticipantsQuery, sessionID)
	if err != nil {
		err = fmt.Errorf("failed to query for participants %w", err)
		span.LogFields(tracelog.Error(err))
		return nil, err
	}
	defer rows.Close()

	participants := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		err := rows.Scan(&u.ID, &u.ProviderID, &u.Email, &u.Name, &u.Avatar, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			err = fmt.Errorf("failed to scan participant %w", err)
			span.LogFields(tracelog.Error(err))
			return nil, err
		}
		participants = append(participants, u)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("failed to read participant rows %w", err)
		span.LogFields(tracelog.Error(err))
		return nil, err
	}

	return participants, nil
}

// attachUsers enriches a session with its host and participant identities.
func attachUsers(ctx context.Context, tx *sql.Tx, session *models.Session) error {
	host, err := findUser(ctx, tx, session.HostID)
	if err != nil {
		return err
	}
	session.Host = host

	participants, err := findParticipants(ctx, tx, session.ID)
	if err != nil {
		return err
	}
	session.Participants = participants

	return nil
}

func getNow() time.Time {
	return time.Now().UTC()
}
