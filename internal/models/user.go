package models

import (
	"fmt"
	"time"
)

// User local record for an identity synchronized from the identity
// provider. Session operations only ever read users, mutation happens
// through the synchronization flow.
type User struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	Avatar     string    `json:"avatar,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (u User) String() string {
	return fmt.Sprintf("User(id=%s, providerId=%s, name=%s)", u.ID, u.ProviderID, u.Name)
}

// UserSyncEvent identity provider payload describing a created or
// updated user.
type UserSyncEvent struct {
	ProviderID string `json:"providerId"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
}
