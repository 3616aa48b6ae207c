package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/jonathan/publication-pipeline/internal/types"
)

// DefaultMongoDatabase is used when the connection string names no database.
const DefaultMongoDatabase = "scraping_db"

// Mongo is a Store backed by MongoDB collections.
// Store order is _id order; ObjectIDs from one client increase monotonically.
type Mongo struct {
	client   *mongo.Client
	articles *mongo.Collection
	facts    *mongo.Collection
}

type articleDoc struct {
	ID                      primitive.ObjectID `bson:"_id,omitempty"`
	types.PublicationRecord `bson:",inline"`
}

type factDoc struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty"`
	types.EnrichedRecord `bson:",inline"`
}

// OpenMongo connects to uri and selects the database named in it.
func OpenMongo(ctx context.Context, uri string) (*Mongo, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid mongodb uri: %w", err)
	}
	dbName := cs.Database
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	return &Mongo{
		client:   client,
		articles: db.Collection(ArticlesTable),
		facts:    db.Collection(FactTable),
	}, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Insert(ctx context.Context, rec types.PublicationRecord) (string, error) {
	res, err := m.articles.InsertOne(ctx, articleDoc{PublicationRecord: rec})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("failed to insert record: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Sprint(res.InsertedID), nil
	}
	return oid.Hex(), nil
}

func (m *Mongo) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$title"},
			{Key: "ids", Value: bson.D{{Key: "$push", Value: "$_id"}}},
			{Key: "sources", Value: bson.D{{Key: "$push", Value: "$source"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "first", Value: bson.D{{Key: "$min", Value: "$_id"}}},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "count", Value: bson.D{{Key: "$gt", Value: 1}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "first", Value: 1}}}},
	}

	cursor, err := m.articles.Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate duplicate titles: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []DuplicateGroup
	for cursor.Next(ctx) {
		var doc struct {
			Title   string               `bson:"_id"`
			IDs     []primitive.ObjectID `bson:"ids"`
			Sources []string             `bson:"sources"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode duplicate group: %w", err)
		}
		g := DuplicateGroup{Title: doc.Title}
		for i, id := range doc.IDs {
			g.IDs = append(g.IDs, id.Hex())
			g.Sources = append(g.Sources, types.Source(doc.Sources[i]))
		}
		groups = append(groups, g)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read duplicate groups: %w", err)
	}
	return groups, nil
}

func (m *Mongo) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	oids := make([]primitive.ObjectID, len(ids))
	for i, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return 0, fmt.Errorf("invalid mongodb id %q: %w", id, err)
		}
		oids[i] = oid
	}

	res, err := m.articles.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	return res.DeletedCount, nil
}

// Mongo error codes raised when an index on the same keys exists under
// another name or with other options.
const (
	mongoIndexOptionsConflict  = 85
	mongoIndexKeySpecsConflict = 86
)

// EnsureUniqueTitleIndex creates the unique index on title under the server's
// default name (title_1). Any existing unique index on {title: 1} counts as
// installed, whatever its name.
func (m *Mongo) EnsureUniqueTitleIndex(ctx context.Context) error {
	_, err := m.articles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "title", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err == nil {
		return nil
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == mongoIndexOptionsConflict || cmdErr.Code == mongoIndexKeySpecsConflict) {
		specs, lerr := m.articles.Indexes().ListSpecifications(ctx)
		if lerr != nil {
			return fmt.Errorf("failed to list indexes: %w", lerr)
		}
		if hasUniqueTitleIndex(specs) {
			return nil
		}
	}
	return fmt.Errorf("failed to create unique title index: %w", err)
}

// hasUniqueTitleIndex reports whether specs include a unique index whose only
// key is title ascending.
func hasUniqueTitleIndex(specs []*mongo.IndexSpecification) bool {
	for _, spec := range specs {
		if spec == nil || spec.Unique == nil || !*spec.Unique {
			continue
		}
		elems, err := spec.KeysDocument.Elements()
		if err != nil || len(elems) != 1 || elems[0].Key() != "title" {
			continue
		}
		if n, ok := elems[0].Value().AsInt64OK(); ok && n == 1 {
			return true
		}
	}
	return false
}

func mongoFilter(filter Filter) (bson.M, *options.FindOptions) {
	query := bson.M{}
	if filter.Source != "" {
		query["source"] = string(filter.Source)
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return query, opts
}

func (m *Mongo) List(ctx context.Context, filter Filter) ([]types.StoredRecord, error) {
	query, opts := mongoFilter(filter)
	cursor, err := m.articles.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var docs []articleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	records := make([]types.StoredRecord, len(docs))
	for i, d := range docs {
		records[i] = types.StoredRecord{ID: d.ID.Hex(), PublicationRecord: d.PublicationRecord}
	}
	return records, nil
}

func (m *Mongo) Count(ctx context.Context, filter Filter) (int64, error) {
	query, _ := mongoFilter(filter)
	n, err := m.articles.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// ReplaceEnriched clears and refills the fact collection. It is not atomic:
// a failure midway leaves a partial fact table until the next ETL run.
func (m *Mongo) ReplaceEnriched(ctx context.Context, recs []types.EnrichedRecord) error {
	if _, err := m.facts.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear fact collection: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	docs := make([]any, len(recs))
	for i, r := range recs {
		if r.GeneratedKeywords == nil {
			r.GeneratedKeywords = []string{}
		}
		docs[i] = factDoc{EnrichedRecord: r}
	}
	if _, err := m.facts.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to insert fact documents: %w", err)
	}
	return nil
}

func (m *Mongo) ListEnriched(ctx context.Context, filter Filter) ([]types.EnrichedRecord, error) {
	query, opts := mongoFilter(filter)
	cursor, err := m.facts.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list enriched records: %w", err)
	}

	var docs []factDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode enriched records: %w", err)
	}

	records := make([]types.EnrichedRecord, len(docs))
	for i, d := range docs {
		records[i] = d.EnrichedRecord
		records[i].ETLTimestamp = records[i].ETLTimestamp.UTC()
	}
	return records, nil
}

// Drop removes both collections, which also drops the unique index.
func (m *Mongo) Drop(ctx context.Context) error {
	if err := m.articles.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop %s: %w", ArticlesTable, err)
	}
	if err := m.facts.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop %s: %w", FactTable, err)
	}
	return nil
}
