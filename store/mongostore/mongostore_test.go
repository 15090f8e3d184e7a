package mongostore

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func decodeSubscriber(t *testing.T, doc bson.M) subscriberDoc {
	t.Helper()
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out subscriberDoc
	if err := bson.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSubscriberDocWithNativeDate(t *testing.T) {
	id := primitive.NewObjectID()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := decodeSubscriber(t, bson.M{
		"_id":          id,
		"email":        "a@x.com",
		"subscribedAt": primitive.NewDateTimeFromTime(at),
		"status":       "active",
	})

	sub := doc.toSubscriber()
	if sub.ID != id.Hex() {
		t.Fatalf("expected id %s, got %s", id.Hex(), sub.ID)
	}
	if sub.SubscribedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected subscribedAt %q", sub.SubscribedAt)
	}
	if sub.Status != "active" {
		t.Fatalf("unexpected status %q", sub.Status)
	}
}

func TestSubscriberDocKeepsStringDatesAndDefaultsStatus(t *testing.T) {
	doc := decodeSubscriber(t, bson.M{
		"_id":          "legacy-1",
		"email":        "b@x.com",
		"subscribedAt": "not a date",
	})

	sub := doc.toSubscriber()
	if sub.ID != "legacy-1" {
		t.Fatalf("expected string id, got %q", sub.ID)
	}
	if sub.SubscribedAt != "not a date" {
		t.Fatalf("expected raw string date, got %q", sub.SubscribedAt)
	}
	if sub.Status != "active" {
		t.Fatalf("expected default status, got %q", sub.Status)
	}
}

func TestSubscriberDocMissingDate(t *testing.T) {
	doc := decodeSubscriber(t, bson.M{"email": "c@x.com"})
	if got := doc.toSubscriber().SubscribedAt; got != "" {
		t.Fatalf("expected empty subscribedAt, got %q", got)
	}
}

func TestNormalizeDocument(t *testing.T) {
	id := primitive.NewObjectID()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := map[string]any{
		"_id":  id,
		"name": "Dubai Marina",
		"geo":  primitive.D{{Key: "lat", Value: 25.08}, {Key: "lon", Value: 55.14}},
		"tags": primitive.A{"marina", primitive.M{"updated": primitive.NewDateTimeFromTime(at)}},
	}

	out := normalizeDocument(doc)
	if out["_id"] != id.Hex() {
		t.Fatalf("expected hex id, got %v", out["_id"])
	}
	geo, ok := out["geo"].(map[string]any)
	if !ok || geo["lat"] != 25.08 {
		t.Fatalf("expected geo map, got %#v", out["geo"])
	}
	tags, ok := out["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("expected tags slice, got %#v", out["tags"])
	}
	nested, ok := tags[1].(map[string]any)
	if !ok || nested["updated"] != "2025-06-01T12:00:00Z" {
		t.Fatalf("expected nested date normalised, got %#v", tags[1])
	}
}
