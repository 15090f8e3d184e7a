// Package mongostore implements the document store on MongoDB.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/halayachts/admin/store"
)

const (
	subscribersCollection = "subscribers"
	locationsCollection   = "locations"
)

// Backend holds the process-wide MongoDB client.
type Backend struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri, verifies the connection with a ping and selects the
// named database.
func Open(ctx context.Context, uri, database string) (*Backend, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &Backend{client: client, db: client.Database(database)}, nil
}

func (b *Backend) Subscribers() store.SubscriberStore {
	return &subscriberStore{coll: b.db.Collection(subscribersCollection)}
}

func (b *Backend) Locations() store.LocationStore {
	return &locationStore{coll: b.db.Collection(locationsCollection)}
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (b *Backend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}

type subscriberDoc struct {
	ID           bson.RawValue `bson:"_id"`
	Email        string        `bson:"email"`
	SubscribedAt bson.RawValue `bson:"subscribedAt"`
	Status       string        `bson:"status"`
}

func (d subscriberDoc) toSubscriber() store.Subscriber {
	return store.Subscriber{
		ID:           idString(d.ID),
		Email:        d.Email,
		SubscribedAt: timestampString(d.SubscribedAt),
		Status:       store.StatusOrDefault(d.Status),
	}
}

type subscriberStore struct {
	coll *mongo.Collection
}

// emailCollation makes email matching case-insensitive.
var emailCollation = &options.Collation{Locale: "en", Strength: 2}

func (s *subscriberStore) List(ctx context.Context) ([]store.Subscriber, error) {
	opts := options.Find().SetSort(bson.D{{Key: "subscribedAt", Value: -1}})
	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find subscribers: %v", store.ErrUnavailable, err)
	}

	var docs []subscriberDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode subscribers: %v", store.ErrUnavailable, err)
	}

	subscribers := make([]store.Subscriber, 0, len(docs))
	for _, doc := range docs {
		subscribers = append(subscribers, doc.toSubscriber())
	}
	return subscribers, nil
}

func (s *subscriberStore) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	filter := bson.D{{Key: "email", Value: store.NormalizeEmail(email)}}
	res, err := s.coll.DeleteMany(ctx, filter, options.Delete().SetCollation(emailCollation))
	if err != nil {
		return 0, fmt.Errorf("%w: delete subscriber: %v", store.ErrUnavailable, err)
	}
	return res.DeletedCount, nil
}

type locationStore struct {
	coll *mongo.Collection
}

func (s *locationStore) List(ctx context.Context) ([]store.Location, error) {
	cursor, err := s.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: find locations: %v", store.ErrUnavailable, err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode locations: %v", store.ErrUnavailable, err)
	}

	locations := make([]store.Location, 0, len(docs))
	for _, doc := range docs {
		locations = append(locations, store.Location(normalizeDocument(doc)))
	}
	return locations, nil
}

func idString(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeObjectID:
		return v.ObjectID().Hex()
	case bson.TypeString:
		return v.StringValue()
	case 0, bson.TypeNull, bson.TypeUndefined:
		return ""
	default:
		return v.String()
	}
}

// timestampString renders a stored subscription date. Strings are passed
// through untouched so malformed values reach the view as-is.
func timestampString(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeDateTime:
		return v.Time().UTC().Format(time.RFC3339)
	case bson.TypeTimestamp:
		sec, _ := v.Timestamp()
		return time.Unix(int64(sec), 0).UTC().Format(time.RFC3339)
	case bson.TypeString:
		return v.StringValue()
	case 0, bson.TypeNull, bson.TypeUndefined:
		return ""
	default:
		return v.String()
	}
}

// normalizeDocument converts driver-specific values into types that encode
// to plain JSON.
func normalizeDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case primitive.M:
		return normalizeDocument(val)
	case map[string]any:
		return normalizeDocument(val)
	case primitive.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case primitive.A:
		return normalizeSlice(val)
	case []any:
		return normalizeSlice(val)
	default:
		return v
	}
}

func normalizeSlice(in []any) []any {
	out := make([]any, len(in))
	for i, item := range in {
		out[i] = normalizeValue(item)
	}
	return out
}
