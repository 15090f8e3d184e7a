// Package store defines the document-store model shared by the subscriber and
// location accessors. Concrete backends live in the mongostore and pgstore
// subpackages.
package store

import (
	"context"
	"errors"
	"strings"
)

// DefaultStatus is reported for subscribers stored without a status.
const DefaultStatus = "active"

// ErrUnavailable wraps every failure to reach or query the backing store so
// callers can tell a failed read apart from an empty result.
var ErrUnavailable = errors.New("store unavailable")

// Subscriber is a newsletter contact keyed by email. SubscribedAt is kept as
// the string representation found in the store; native dates are rendered as
// RFC 3339.
type Subscriber struct {
	ID           string `json:"_id,omitempty"`
	Email        string `json:"email"`
	SubscribedAt string `json:"subscribedAt"`
	Status       string `json:"status"`
}

// Location is an arbitrary document from the locations collection.
type Location map[string]any

// SubscriberStore lists and deletes subscribers.
type SubscriberStore interface {
	List(ctx context.Context) ([]Subscriber, error)
	// DeleteByEmail removes every subscriber matching email and reports how
	// many were removed. Zero is not an error.
	DeleteByEmail(ctx context.Context, email string) (int64, error)
}

// LocationStore lists location documents.
type LocationStore interface {
	List(ctx context.Context) ([]Location, error)
}

// Backend is a lifecycle-managed connection to one document store.
type Backend interface {
	Subscribers() SubscriberStore
	Locations() LocationStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NormalizeEmail returns the canonical form used to match subscribers.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StatusOrDefault returns status, or DefaultStatus when it is blank.
func StatusOrDefault(status string) string {
	if s := strings.TrimSpace(status); s != "" {
		return s
	}
	return DefaultStatus
}
