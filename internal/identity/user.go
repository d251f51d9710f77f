// Package identity resolves the user behind a connection: users are
// auto-registered on first contact, and banned users are refused at
// registration time before any session state is created.
package identity

import (
	"context"
	"time"

	"github.com/canvakit/graphsync/internal/store"
	"github.com/canvakit/graphsync/pkg/schema"
)

// ValidateUserID checks the structural requirements on a user id.
func ValidateUserID(id string) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "userId is required")
	}
	if len(id) > 128 {
		return schema.NewError(schema.ErrCodeValidation, "userId exceeds 128 characters")
	}
	return nil
}

// EnsureRegistered retrieves the stored user or registers a new active
// one. Known users get their last_seen_at refreshed. A banned user is
// rejected with REGISTRATION_REJECTED.
func EnsureRegistered(ctx context.Context, s store.Store, id string) (*store.User, error) {
	if err := ValidateUserID(id); err != nil {
		return nil, err
	}

	existing, err := s.GetUser(ctx, id)
	if err == nil {
		if existing.Status == store.UserStatusBanned {
			return nil, schema.NewErrorf(schema.ErrCodeRegistrationRejected, "user %q is banned", id)
		}
		_ = s.UpdateUserSeen(ctx, id)
		return existing, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	user := &store.User{
		ID:        id,
		Status:    store.UserStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
