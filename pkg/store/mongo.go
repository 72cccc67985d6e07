package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

const (
	entriesCollection   = "entries"
	resourcesCollection = "resources"
)

// MongoConfig selects the MongoDB deployment and database used by MongoStore.
type MongoConfig struct {
	URI      string
	Database string
}

// MongoStore keeps entries and resources in two MongoDB collections.
type MongoStore struct {
	client    *mongo.Client
	entries   *mongo.Collection
	resources *mongo.Collection
	logger    *slog.Logger
}

type entryDoc struct {
	Package    string `bson:"package"`
	Group      string `bson:"group"`
	ID         string `bson:"id"`
	Attributes any    `bson:"attributes"`
}

type resourceDoc struct {
	Package string `bson:"package"`
	ID      string `bson:"id"`
	Value   any    `bson:"value"`
}

// NewMongoStore connects to the configured deployment and ensures the lookup indexes exist.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:    client,
		entries:   db.Collection(entriesCollection),
		resources: db.Collection(resourcesCollection),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	_, err = s.entries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "package", Value: 1}, {Key: "group", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create entries index: %w", err)
	}
	_, err = s.resources.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "package", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create resources index: %w", err)
	}
	return s, nil
}

// SetLogger sets the logger for the store. By default, all logs are discarded.
func (s *MongoStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// FindEntry implements EntryStore.
func (s *MongoStore) FindEntry(ctx context.Context, pkg, group, id string) (*entry.Entry, error) {
	var doc entryDoc
	err := s.entries.FindOne(ctx, entryFilter(pkg, group, id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entry %s/%s.%s: %w", pkg, group, id, err)
	}
	return doc.toEntry(), nil
}

// FindEntries implements EntryStore.
func (s *MongoStore) FindEntries(ctx context.Context, pkg, group string, page, pageSize int, sort string) ([]*entry.Entry, error) {
	order, ok := sortOrder(sort)
	if !ok {
		s.logger.WarnContext(ctx, "Ignoring invalid sort key", "sort", sort)
	}
	opts := options.Find().SetSort(order)
	if pageSize > 0 {
		opts.SetSkip(int64(pageOffset(page, pageSize))).SetLimit(int64(pageSize))
	}

	cursor, err := s.entries.Find(ctx, bson.D{{Key: "package", Value: pkg}, {Key: "group", Value: group}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries of %s/%s: %w", pkg, group, err)
	}
	var docs []entryDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read entries of %s/%s: %w", pkg, group, err)
	}
	entries := make([]*entry.Entry, 0, len(docs))
	for i := range docs {
		entries = append(entries, docs[i].toEntry())
	}
	return entries, nil
}

// CountEntries implements EntryStore.
func (s *MongoStore) CountEntries(ctx context.Context, pkg, group string) (int, error) {
	n, err := s.entries.CountDocuments(ctx, bson.D{{Key: "package", Value: pkg}, {Key: "group", Value: group}})
	if err != nil {
		return 0, fmt.Errorf("failed to count entries of %s/%s: %w", pkg, group, err)
	}
	return int(n), nil
}

// FindResource implements ResourceStore.
func (s *MongoStore) FindResource(ctx context.Context, pkg, id string) (*entry.Resource, error) {
	var doc resourceDoc
	err := s.resources.FindOne(ctx, bson.D{{Key: "package", Value: pkg}, {Key: "id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query resource %s/%s: %w", pkg, id, err)
	}
	return &entry.Resource{Package: doc.Package, ID: doc.ID, Value: fromBSON(doc.Value)}, nil
}

// PutEntry implements Writer.
func (s *MongoStore) PutEntry(ctx context.Context, e *entry.Entry) error {
	doc := entryDoc{Package: e.Package, Group: e.Group, ID: e.ID, Attributes: e.Attributes.Interface()}
	_, err := s.entries.ReplaceOne(ctx, entryFilter(e.Package, e.Group, e.ID), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store entry %s/%s: %w", e.Package, e.Key(), err)
	}
	return nil
}

// PutResource implements Writer.
func (s *MongoStore) PutResource(ctx context.Context, r *entry.Resource) error {
	doc := resourceDoc{Package: r.Package, ID: r.ID, Value: r.Value.Interface()}
	filter := bson.D{{Key: "package", Value: r.Package}, {Key: "id", Value: r.ID}}
	if _, err := s.resources.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to store resource %s/%s: %w", r.Package, r.ID, err)
	}
	return nil
}

// sortOrder orders by the attribute at sort, then by id. It reports false for
// a non-empty sort key that is not a valid attribute path.
func sortOrder(sort string) (bson.D, bool) {
	order := bson.D{{Key: "id", Value: 1}}
	if ValidSortKey(sort) {
		return append(bson.D{{Key: "attributes." + sort, Value: 1}}, order...), true
	}
	return order, sort == ""
}

func entryFilter(pkg, group, id string) bson.D {
	return bson.D{{Key: "package", Value: pkg}, {Key: "group", Value: group}, {Key: "id", Value: id}}
}

func (d *entryDoc) toEntry() *entry.Entry {
	return &entry.Entry{Package: d.Package, Group: d.Group, ID: d.ID, Attributes: fromBSON(d.Attributes)}
}

// fromBSON converts decoded BSON, where embedded documents arrive as bson.D,
// into an attribute value.
func fromBSON(v any) entry.Value {
	switch t := v.(type) {
	case bson.D:
		fields := make(map[string]entry.Value, len(t))
		for _, elem := range t {
			fields[elem.Key] = fromBSON(elem.Value)
		}
		return entry.Map(fields)
	case bson.M:
		fields := make(map[string]entry.Value, len(t))
		for k, item := range t {
			fields[k] = fromBSON(item)
		}
		return entry.Map(fields)
	case bson.A:
		items := make([]entry.Value, len(t))
		for i, item := range t {
			items[i] = fromBSON(item)
		}
		return entry.List(items...)
	default:
		return entry.FromAny(v)
	}
}
