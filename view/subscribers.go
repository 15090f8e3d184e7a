// Package view holds the subscriber list view model shared by the admin pages
// and the command line client.
package view

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/halayachts/admin/internal/timeutil"
	"github.com/halayachts/admin/store"
)

// State is the lifecycle of one list load.
type State int

const (
	StateLoading State = iota
	StateLoaded
	StateEmpty
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateEmpty:
		return "empty"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// User-facing copy.
const (
	MessageFetchFailed   = "Failed to fetch subscribers"
	MessageNetworkFailed = "Network error. Please check your connection."
	MessageEmptyTitle    = "No subscribers found"
	MessageEmptyDetail   = "Get started by promoting your newsletter."
	MessageErrorDetail   = "Database connection issue. Please try again later."
	MessageLoading       = "Loading subscribers..."
	MessageDeleted       = "Subscriber deleted successfully"
	MessageDeleteFailed  = "Failed to delete subscriber"
	MessageDeleteError   = "Error deleting subscriber"
	MessageNotFound      = "Subscriber not found"
)

// Row is one rendered subscriber.
type Row struct {
	ID           string
	Email        string
	SubscribedAt string
	Status       string
	Active       bool
}

// Snapshot is an immutable copy of the list for rendering.
type Snapshot struct {
	State      State
	Rows       []Row
	Error      string
	Generation uint64
}

// Count is the number of rows shown.
func (s Snapshot) Count() int { return len(s.Rows) }

// CountText is the summary line above the table.
func (s Snapshot) CountText() string {
	return fmt.Sprintf("Total %d subscribers", s.Count())
}

// EmptyTitle and EmptyDetail describe the empty and error states.
func (s Snapshot) EmptyTitle() string { return MessageEmptyTitle }

func (s Snapshot) EmptyDetail() string {
	if s.State == StateError {
		return MessageErrorDetail
	}
	return MessageEmptyDetail
}

// ShowRetry reports whether a retry action should be offered.
func (s Snapshot) ShowRetry() bool { return s.State == StateError }

// SubscriberList tracks the latest fetch. Each fetch takes a generation from
// Begin; results for an older generation are dropped by Complete.
type SubscriberList struct {
	mu         sync.Mutex
	loc        *time.Location
	state      State
	generation uint64
	rows       []Row
	err        string
}

// NewSubscriberList returns a list in the loading state that formats dates in loc.
func NewSubscriberList(loc *time.Location) *SubscriberList {
	if loc == nil {
		loc = time.UTC
	}
	return &SubscriberList{loc: loc, state: StateLoading}
}

// Begin starts a fetch and returns its generation.
func (l *SubscriberList) Begin() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.state = StateLoading
	return l.generation
}

// Complete applies the result of fetch gen. It returns false, leaving the
// list untouched, when a newer fetch has begun since.
func (l *SubscriberList) Complete(gen uint64, subscribers []store.Subscriber, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation {
		return false
	}

	if err != nil {
		l.state = StateError
		l.rows = nil
		l.err = FailureMessage(err)
		return true
	}

	rows := make([]Row, 0, len(subscribers))
	for _, sub := range subscribers {
		status := store.StatusOrDefault(sub.Status)
		rows = append(rows, Row{
			ID:           sub.ID,
			Email:        sub.Email,
			SubscribedAt: timeutil.FormatDisplay(sub.SubscribedAt, l.loc),
			Status:       status,
			Active:       status == store.DefaultStatus,
		})
	}

	l.rows = rows
	l.err = ""
	if len(rows) == 0 {
		l.state = StateEmpty
	} else {
		l.state = StateLoaded
	}
	return true
}

// Load runs fetch as a new generation and returns the resulting snapshot.
func (l *SubscriberList) Load(ctx context.Context, fetch func(context.Context) ([]store.Subscriber, error)) Snapshot {
	gen := l.Begin()
	subscribers, err := fetch(ctx)
	l.Complete(gen, subscribers, err)
	return l.Snapshot()
}

// Snapshot copies the current state.
func (l *SubscriberList) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := make([]Row, len(l.rows))
	copy(rows, l.rows)
	return Snapshot{State: l.state, Rows: rows, Error: l.err, Generation: l.generation}
}

// FailureMessage maps a fetch error to the notification shown to the user.
func FailureMessage(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && !errors.Is(err, store.ErrUnavailable) {
		return MessageNetworkFailed
	}
	return MessageFetchFailed
}
