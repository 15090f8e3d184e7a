package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/halayachts/admin/client"
	"github.com/halayachts/admin/store"
	"github.com/halayachts/admin/view"
)

type fakeAPI struct {
	subs      []store.Subscriber
	listErr   error
	deleteErr error
}

func (f *fakeAPI) Subscribers(context.Context) ([]store.Subscriber, error) {
	return f.subs, f.listErr
}

func (f *fakeAPI) DeleteSubscriber(context.Context, string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return 1, nil
}

func TestListSubscribersOutput(t *testing.T) {
	cases := []struct {
		name    string
		api     *fakeAPI
		want    []string
		wantErr bool
	}{
		{
			name: "loaded",
			api: &fakeAPI{subs: []store.Subscriber{
				{Email: "guest@example.com", SubscribedAt: "2025-01-15T10:30:00Z"},
				{Email: "odd@example.com", SubscribedAt: "yesterday", Status: "unsubscribed"},
			}},
			want: []string{view.MessageLoading, "Total 2 subscribers", "guest@example.com", "15 Jan 2025, 10:30 am", "active", "Invalid Date", "unsubscribed"},
		},
		{
			name: "empty",
			api:  &fakeAPI{},
			want: []string{"Total 0 subscribers", view.MessageEmptyTitle, view.MessageEmptyDetail},
		},
		{
			name:    "store failure",
			api:     &fakeAPI{listErr: fmt.Errorf("api: %w", client.ErrUnavailable)},
			want:    []string{view.MessageFetchFailed, view.MessageErrorDetail},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			err := listSubscribers(context.Background(), &out, tc.api, view.NewSubscriberList(time.UTC))
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			for _, s := range tc.want {
				if !strings.Contains(out.String(), s) {
					t.Errorf("expected output to contain %q, got:\n%s", s, out.String())
				}
			}
		})
	}
}

func TestDeleteSubscriberOutput(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		want    string
		wantErr bool
	}{
		{name: "deleted", want: view.MessageDeleted},
		{name: "not found", err: fmt.Errorf("api: %w", client.ErrNotFound), want: view.MessageNotFound},
		{name: "store failure", err: client.ErrUnavailable, want: view.MessageDeleteFailed, wantErr: true},
		{name: "network", err: errors.New("connection reset"), want: view.MessageDeleteError, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			err := deleteSubscriber(context.Background(), &out, &fakeAPI{deleteErr: tc.err}, "guest@example.com")
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if strings.TrimSpace(out.String()) != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, out.String())
			}
		})
	}
}

func TestDeleteAndRefresh(t *testing.T) {
	subs := []store.Subscriber{
		{Email: "guest@example.com", SubscribedAt: "2025-01-15T10:30:00Z"},
		{Email: "crew@example.com", SubscribedAt: "2025-02-01T08:00:00Z"},
	}
	cases := []struct {
		name    string
		api     *fakeAPI
		want    []string
		wantErr error
	}{
		{
			name: "deleted",
			api:  &fakeAPI{subs: subs},
			want: []string{view.MessageDeleted, "Total 2 subscribers"},
		},
		{
			name:    "delete fails",
			api:     &fakeAPI{subs: subs, deleteErr: client.ErrUnavailable},
			want:    []string{view.MessageDeleteFailed, "Total 2 subscribers", "guest@example.com"},
			wantErr: client.ErrUnavailable,
		},
		{
			name:    "delete and list fail",
			api:     &fakeAPI{deleteErr: client.ErrForbidden, listErr: client.ErrUnavailable},
			want:    []string{view.MessageDeleteFailed, view.MessageFetchFailed},
			wantErr: client.ErrForbidden,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			err := deleteAndRefresh(context.Background(), &out, tc.api, "guest@example.com", view.NewSubscriberList(time.UTC))
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			for _, s := range tc.want {
				if !strings.Contains(out.String(), s) {
					t.Errorf("expected output to contain %q, got:\n%s", s, out.String())
				}
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	cases := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
	}
	for input, want := range cases {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(input), &out, "Delete?")
		if err != nil {
			t.Fatalf("%q: %v", input, err)
		}
		if got != want {
			t.Fatalf("%q: expected %v, got %v", input, want, got)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Fatalf("expected prompt, got %q", out.String())
		}
	}
}
