package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// productDoc is a product as stored in MongoDB.
type productDoc struct {
	Owner         string `bson:"owner_id"`
	types.Product `bson:",inline"`
	Archived      bool       `bson:"archived"`
	ArchivedAt    *time.Time `bson:"archived_at,omitempty"`
}

type tombstoneDoc struct {
	Owner    string    `bson:"owner_id"`
	ID       string    `bson:"id"`
	URLKey   string    `bson:"url_key"`
	PurgedAt time.Time `bson:"purged_at"`
}

// MongoStore keeps products in a MongoDB collection and tombstones in a
// sibling collection. Writes for one owner are serialized in-process;
// MongoDB transactions are not used so a standalone server works.
type MongoStore struct {
	client     *mongo.Client
	products   *mongo.Collection
	tombstones *mongo.Collection
	mu         sync.Mutex
	now        func() time.Time
	logger     *slog.Logger
}

// NewMongoStore connects to MongoDB and ensures the indexes exist.
func NewMongoStore(uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Op: "connect", Err: err}
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, &types.StorageError{Backend: "mongodb", Op: "ping", Err: err}
	}

	db := client.Database(database)
	s := &MongoStore{
		client:     client,
		products:   db.Collection(collection),
		tombstones: db.Collection(collection + "_tombstones"),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With("component", "mongo_storage"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.products.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "archived", Value: 1}, {Key: "last_modified", Value: 1}}},
	})
	if err != nil {
		return s.fail("create indexes", err)
	}
	_, err = s.tombstones.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return s.fail("create indexes", err)
	}
	return nil
}

func (s *MongoStore) fail(op string, err error) error {
	return &types.StorageError{Backend: "mongodb", Op: op, Err: err}
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) load(ctx context.Context, owner string) (ownerState, error) {
	var docs []productDoc
	cur, err := s.products.Find(ctx, bson.M{"owner_id": owner})
	if err != nil {
		return ownerState{}, s.fail("find", err)
	}
	if err := cur.All(ctx, &docs); err != nil {
		return ownerState{}, s.fail("decode", err)
	}

	var stones []tombstoneDoc
	cur, err = s.tombstones.Find(ctx, bson.M{"owner_id": owner})
	if err != nil {
		return ownerState{}, s.fail("find tombstones", err)
	}
	if err := cur.All(ctx, &stones); err != nil {
		return ownerState{}, s.fail("decode tombstones", err)
	}

	state := ownerState{purged: newTombstones(nil)}
	for _, d := range docs {
		if d.Archived {
			a := types.ArchivedProduct{Product: d.Product}
			if d.ArchivedAt != nil {
				a.ArchivedAt = d.ArchivedAt.UTC()
			}
			state.archived = append(state.archived, a)
			continue
		}
		state.active = append(state.active, d.Product)
	}
	for _, t := range stones {
		state.purged.add(Tombstone{ID: t.ID, URLKey: t.URLKey, PurgedAt: t.PurgedAt})
	}
	return state, nil
}

func (s *MongoStore) List(ctx context.Context, owner string, since *time.Time) ([]types.Product, error) {
	filter := bson.M{"owner_id": owner, "archived": false}
	if since != nil {
		filter["last_modified"] = bson.M{"$gt": *since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "date_added", Value: 1}, {Key: "id", Value: 1}})
	cur, err := s.products.Find(ctx, filter, opts)
	if err != nil {
		return nil, s.fail("find", err)
	}

	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, s.fail("decode", err)
	}

	out := make([]types.Product, len(docs))
	for i, d := range docs {
		out[i] = d.Product
	}
	return out, nil
}

func (s *MongoStore) Removed(ctx context.Context, owner string) ([]string, error) {
	state, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(state.archived)+len(state.purged.ids))
	for _, a := range state.archived {
		ids = append(ids, a.ID)
	}
	for id := range state.purged.ids {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MongoStore) insert(ctx context.Context, owner string, products []types.Product) error {
	if len(products) == 0 {
		return nil
	}
	docs := make([]any, len(products))
	for i, p := range products {
		docs[i] = productDoc{Owner: owner, Product: p}
	}
	if _, err := s.products.InsertMany(ctx, docs); err != nil {
		return s.fail("insert", err)
	}
	return nil
}

func (s *MongoStore) Replace(ctx context.Context, owner, deviceID string, products []types.Product) ([]string, error) {
	if err := ValidateProducts(products); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	next := planReplace(state, deviceID, products, s.now())

	if _, err := s.products.DeleteMany(ctx, bson.M{"owner_id": owner, "archived": false}); err != nil {
		return nil, s.fail("delete", err)
	}
	if err := s.insert(ctx, owner, next); err != nil {
		return nil, err
	}

	ids := make([]string, len(next))
	for i, p := range next {
		ids[i] = p.ID
	}
	s.logger.Debug("replaced product set", "owner", owner, "count", len(ids))
	return ids, nil
}

func (s *MongoStore) Merge(ctx context.Context, owner, deviceID string, products []types.Product) (MergeResult, error) {
	if err := ValidateProducts(products); err != nil {
		return MergeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx, owner)
	if err != nil {
		return MergeResult{}, err
	}
	added, skipped := planMerge(state, deviceID, products, s.now())
	if err := s.insert(ctx, owner, added); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Added: len(added), Skipped: skipped, Total: len(state.active) + len(added)}, nil
}

func (s *MongoStore) Status(ctx context.Context, owner string) (types.StatusResponse, error) {
	state, err := s.load(ctx, owner)
	if err != nil {
		return types.StatusResponse{}, err
	}
	return summarize(state.active, len(state.archived), s.now()), nil
}

func (s *MongoStore) Archive(ctx context.Context, owner, id string) (types.ArchivedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var doc productDoc
	err := s.products.FindOneAndUpdate(ctx,
		bson.M{"owner_id": owner, "id": id, "archived": false},
		bson.M{"$set": bson.M{"archived": true, "archived_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.ArchivedProduct{}, s.missing(ctx, "archive", owner, id)
	}
	if err != nil {
		return types.ArchivedProduct{}, s.fail("archive", err)
	}
	return types.ArchivedProduct{Product: doc.Product, ArchivedAt: now}, nil
}

// missing picks ErrPurged or ErrNotFound for an id that matched nothing.
func (s *MongoStore) missing(ctx context.Context, op, owner, id string) error {
	n, err := s.tombstones.CountDocuments(ctx, bson.M{"owner_id": owner, "id": id})
	if err != nil {
		return s.fail(op, err)
	}
	if n > 0 {
		return fmt.Errorf("%s %s: %w", op, id, types.ErrPurged)
	}
	return fmt.Errorf("%s %s: %w", op, id, types.ErrNotFound)
}

func (s *MongoStore) ListArchived(ctx context.Context, owner string) ([]types.ArchivedProduct, error) {
	opts := options.Find().SetSort(bson.D{{Key: "archived_at", Value: 1}, {Key: "id", Value: 1}})
	cur, err := s.products.Find(ctx, bson.M{"owner_id": owner, "archived": true}, opts)
	if err != nil {
		return nil, s.fail("find archived", err)
	}

	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, s.fail("decode", err)
	}

	out := make([]types.ArchivedProduct, len(docs))
	for i, d := range docs {
		out[i] = types.ArchivedProduct{Product: d.Product}
		if d.ArchivedAt != nil {
			out[i].ArchivedAt = d.ArchivedAt.UTC()
		}
	}
	return out, nil
}

func (s *MongoStore) Restore(ctx context.Context, owner, id string) (types.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx, owner)
	if err != nil {
		return types.Product{}, err
	}
	i := findArchived(state.archived, id)
	if i < 0 {
		return types.Product{}, s.missing(ctx, "restore", owner, id)
	}
	if restoreConflict(state.active, state.archived[i].URL) {
		return types.Product{}, fmt.Errorf("restore %s: %w", id, types.ErrDuplicateURL)
	}

	_, err = s.products.UpdateOne(ctx,
		bson.M{"owner_id": owner, "id": id, "archived": true},
		bson.M{"$set": bson.M{"archived": false}, "$unset": bson.M{"archived_at": ""}},
	)
	if err != nil {
		return types.Product{}, s.fail("restore", err)
	}
	return state.archived[i].Product, nil
}

func (s *MongoStore) Purge(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc productDoc
	err := s.products.FindOneAndDelete(ctx, bson.M{"owner_id": owner, "id": id, "archived": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.missing(ctx, "purge", owner, id)
	}
	if err != nil {
		return s.fail("purge", err)
	}

	_, err = s.tombstones.InsertOne(ctx, tombstoneDoc{
		Owner:    owner,
		ID:       id,
		URLKey:   types.CanonicalURL(doc.URL),
		PurgedAt: s.now(),
	})
	if err != nil {
		return s.fail("insert tombstone", err)
	}
	s.logger.Info("product purged", "owner", owner, "id", id)
	return nil
}

func (s *MongoStore) Close() error {
	s.logger.Info("mongodb storage closing")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
