// Package store is the persistence collaborator: durable storage for
// documents and users behind simple key/query operations. The live
// document and the replay log stay in memory with the session registry;
// the store only sees flushes and first-registration loads.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// DocumentRecord is a stored document: the serialized body plus
// bookkeeping fields.
type DocumentRecord struct {
	ResourceKey string          `json:"resource_key"`
	Kind        string          `json:"kind"`
	Body        json.RawMessage `json:"body"`
	Revision    int64           `json:"revision"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// User statuses.
const (
	UserStatusActive = "active"
	UserStatusBanned = "banned"
)

// User is a registered collaborator identity.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Documents
	GetDocument(ctx context.Context, resourceKey string) (*DocumentRecord, error)
	PutDocument(ctx context.Context, resourceKey, kind string, body json.RawMessage) error
	DeleteDocument(ctx context.Context, resourceKey string) error
	ListDocumentKeys(ctx context.Context, kind string) ([]string, error)

	// Users
	GetUser(ctx context.Context, id string) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
	UpdateUserSeen(ctx context.Context, id string) error
	SetUserStatus(ctx context.Context, id, status string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
