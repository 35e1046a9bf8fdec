package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/id"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/talentsync/session-manager/internal/models"
	"github.com/talentsync/session-manager/internal/repository"
)

// UserService keeps local user records in sync with the identity
// provider and resolves authenticated principals to local users.
type UserService struct {
	UserRepo repository.UserRepository
}

// Sync upserts a user from an identity provider event. Repeated events
// for the same provider id keep the original local id.
func (s *UserService) Sync(ctx context.Context, event models.UserSyncEvent) (models.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.UserService.Sync")
	defer span.Finish()

	if event.ProviderID == "" {
		err := httputil.NewError("providerId is not provided", http.StatusBadRequest, nil)
		span.LogFields(tracelog.Error(err))
		return models.User{}, err
	}

	user := models.User{
		ID:         id.New(),
		ProviderID: event.ProviderID,
		Email:      event.Email,
		Name:       event.Name,
		Avatar:     event.Avatar,
	}

	stored, err := s.UserRepo.Save(ctx, user)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.User{}, httputil.InternalServerError(err)
	}

	return stored, nil
}

// Delete removes the local record for a provider identity. Unknown
// identities are a no-op.
func (s *UserService) Delete(ctx context.Context, providerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.UserService.Delete")
	defer span.Finish()

	err := s.UserRepo.Delete(ctx, providerID)
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return httputil.InternalServerError(err)
	}

	return nil
}

// Resolve maps an authenticated principal to its local user. A verified
// token for an unknown user is still an authentication failure.
func (s *UserService) Resolve(ctx context.Context, providerID string) (models.User, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.UserService.Resolve")
	defer span.Finish()

	user, err := s.UserRepo.FindByProviderID(ctx, providerID)
	if errors.Is(err, repository.ErrNoSuchUser) {
		httpErr := httputil.NewError("User not found", http.StatusUnauthorized, err)
		span.LogFields(tracelog.Error(httpErr))
		return models.User{}, httpErr
	}
	if err != nil {
		span.LogFields(tracelog.Error(err))
		return models.User{}, httputil.InternalServerError(err)
	}

	return user, nil
}
