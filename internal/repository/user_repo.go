package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/CzarSimon/httputil/dbutil"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/talentsync/session-manager/internal/models"
)

// UserRepository persistance interface for users synchronized from the
// identity provider.
type UserRepository interface {
	Save(ctx context.Context, user models.User) (models.User, error)
	Find(ctx context.Context, id string) (models.User, error)
	FindByProviderID(ctx context.Context, providerID string) (models.User, error)
	Delete(ctx context.Context, providerID string) error
}

// NewUserRepository creates a new SQL UserRepository.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepo{
		db: db,
	}
}

type userRepo struct {
	db *sql.DB
}

const insertUserQuery = `
	INSERT INTO app_user(
			id,
			provider_id,
			email,
			name,
			avatar,
			created_at,
			updated_at
		)
	VALUES
		(?, ?, ?, ?, ?, ?, ?)`

const updateUserQuery = `
	UPDATE app_user
	SET
		email = ?,
		name = ?,
		avatar = ?,
		updated_at = ?
	WHERE
		provider_id = ?`

// Save upserts a user keyed by provider id. An existing row keeps its
// local id, only the provider-owned attributes change.
func (r *userRepo) Save(ctx context.Context, user models.User) (models.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "user_repo_save")
	defer span.Finish()

	tx, err := r.db.Begin()
	if err != nil {
		err = fmt.Errorf("failed to create database transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}
	defer dbutil.Rollback(tx)

	now := getNow()
	existing, err := findUserByProviderID(ctx, tx, user.ProviderID)
	if err == ErrNoSuchUser {
		_, err = tx.ExecContext(ctx, insertUserQuery, user.ID, user.ProviderID, user.Email, user.Name, user.Avatar, now, now)
	} else if err == nil {
		user.ID = existing.ID
		_, err = tx.ExecContext(ctx, updateUserQuery, user.Email, user.Name, user.Avatar, now, user.ProviderID)
	}
	if err != nil {
		err = fmt.Errorf("failed to save user %w", err)
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}

	stored, err := findUserByProviderID(ctx, tx, user.ProviderID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}

	err = tx.Commit()
	if err != nil {
		err = fmt.Errorf("failed to commit transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}

	return stored, nil
}

func (r *userRepo) Find(ctx context.Context, id string) (models.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "user_repo_find")
	defer span.Finish()

	tx, err := r.db.Begin()
	if err != nil {
		err = fmt.Errorf("failed to create database transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}
	defer dbutil.Rollback(tx)

	user, err := findUser(ctx, tx, id)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}

	return user, nil
}

func (r *userRepo) FindByProviderID(ctx context.Context, providerID string) (models.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "user_repo_find_by_provider_id")
	defer span.Finish()

	tx, err := r.db.Begin()
	if err != nil {
		err = fmt.Errorf("failed to create database transaction %w", err)
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}
	defer dbutil.Rollback(tx)

	user, err := findUserByProviderID(ctx, tx, providerID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}

	return user, nil
}

const deleteUserQuery = `
	DELETE FROM app_user
	WHERE
		provider_id = ?`

// Delete removes a user. Deleting an absent user is a no-op.
func (r *userRepo) Delete(ctx context.Context, providerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "user_repo_delete")
	defer span.Finish()

	_, err := r.db.ExecContext(ctx, deleteUserQuery, providerID)
	if err != nil {
		err = fmt.Errorf("failed to delete row from database. %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	return nil
}

const findUserQuery = `
	SELECT
		id,
		provider_id,
		email,
		name,
		avatar,
		created_at,
		updated_at
	FROM app_user
	WHERE
		id = ?`

func findUser(ctx context.Context, tx *sql.Tx, id string) (models.User, error) {
	var u models.User
	err := tx.QueryRowContext(ctx, findUserQuery, id).Scan(
		&u.ID, &u.ProviderID, &u.Email, &u.Name, &u.Avatar, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNoSuchUser
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to query database. %w", err)
	}

	return u, nil
}

const findUserByProviderIDQuery = `
	SELECT
		id,
		provider_id,
		email,
		name,
		avatar,
		created_at,
		updated_at
	FROM app_user
	WHERE
		provider_id = ?`

func findUserByProviderID(ctx context.Context, tx *sql.Tx, providerID string) (models.User, error) {
	var u models.User
	err := tx.QueryRowContext(ctx, findUserByProviderIDQuery, providerID).Scan(
		&u.ID, &u.ProviderID, &u.Email, &u.Name, &u.Avatar, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNoSuchUser
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to query database. %w", err)
	}

	return u, nil
}
