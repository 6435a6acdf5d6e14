package docstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Mongo maps each collection to a MongoDB collection keyed by _id. Like
// Postgres it pushes the narrowing predicates to the server and finishes the
// query with Apply.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	feed   Feed
}

func ConnectMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	return &Mongo{client: client, db: db, feed: NewMongoFeed(db)}, nil
}

func (m *Mongo) Get(ctx context.Context, collection, id string) (*Document, error) {
	var raw bson.M
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, Unavailable("get document", err)
	}
	doc := fromBSONDocument(raw)
	return &doc, nil
}

func (m *Mongo) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter := bson.D{}
	for _, f := range q.Filters {
		if clause, ok := mongoClause(f); ok {
			filter = append(filter, clause...)
		}
	}
	cursor, err := m.db.Collection(q.Collection).Find(ctx, filter)
	if err != nil {
		return nil, Unavailable("query documents", err)
	}
	defer cursor.Close(ctx)

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, Unavailable("read documents", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, fromBSONDocument(row))
	}
	return Apply(docs, q), nil
}

// mongoClause returns a filter that matches a superset of f.
func mongoClause(f Filter) (bson.D, bool) {
	switch f.Op {
	case OpEq, OpArrayContains:
		return bson.D{{Key: f.Field, Value: toBSONValue(f.Value)}}, true
	case OpIn:
		values, _ := f.Value.([]any)
		in := make(bson.A, 0, len(values))
		for _, v := range values {
			in = append(in, toBSONValue(v))
		}
		return bson.D{{Key: f.Field, Value: bson.M{"$in": in}}}, true
	case OpOr:
		alts := make(bson.A, 0, len(f.Any))
		for _, alt := range f.Any {
			clause, ok := mongoClause(alt)
			if !ok {
				return nil, false
			}
			alts = append(alts, clause)
		}
		return bson.D{{Key: "$or", Value: alts}}, true
	default:
		return bson.D{{Key: f.Field, Value: bson.M{"$exists": true}}}, true
	}
}

func (m *Mongo) Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	return watchFeed(ctx, m.feed, q, m.Query, fn)
}

func (m *Mongo) Set(ctx context.Context, collection, id string, data map[string]any) error {
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	doc := toBSONDoc(normalized)
	doc = append(bson.D{{Key: "_id", Value: id}}, doc...)
	opts := options.Replace().SetUpsert(true)
	if _, err := m.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return Unavailable("set document", err)
	}
	return m.feed.Publish(ctx, collection)
}

func (m *Mongo) Create(ctx context.Context, collection, id string, data map[string]any) error {
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	doc := append(bson.D{{Key: "_id", Value: id}}, toBSONDoc(normalized)...)
	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create %s/%s: %w", collection, id, ErrExists)
		}
		return Unavailable("create document", err)
	}
	return m.feed.Publish(ctx, collection)
}

func (m *Mongo) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	normalized, err := Normalize(fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	if len(normalized) == 0 {
		existing, err := m.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
		}
		return nil
	}
	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": toBSONDoc(normalized)})
	if err != nil {
		return Unavailable("update document", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	return m.feed.Publish(ctx, collection)
}

// ArrayUnion relies on $addToSet. Embedded documents are written with sorted
// keys so server-side equality agrees with deep equality.
func (m *Mongo) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	if !validField(field) {
		return fmt.Errorf("array union %s/%s: %w: bad field %q", collection, id, ErrInvalidQuery, field)
	}
	each := make(bson.A, 0, len(values))
	for _, v := range values {
		each = append(each, toBSONValue(normalizeValue(v)))
	}
	update := bson.M{"$addToSet": bson.M{field: bson.M{"$each": each}}}
	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return Unavailable("array union", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("array union %s/%s: %w", collection, id, ErrNotFound)
	}
	return m.feed.Publish(ctx, collection)
}

func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	res, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return Unavailable("delete document", err)
	}
	if res.DeletedCount == 0 {
		return nil
	}
	return m.feed.Publish(ctx, collection)
}

func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return Unavailable("ping", err)
	}
	return nil
}

func (m *Mongo) Close() error {
	_ = m.feed.Close()
	return m.client.Disconnect(context.Background())
}

func toBSONDoc(data map[string]any) bson.D {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: toBSONValue(data[k])})
	}
	return out
}

func toBSONValue(v any) any {
	switch val := normalizeValue(v).(type) {
	case map[string]any:
		return toBSONDoc(val)
	case []any:
		out := make(bson.A, 0, len(val))
		for _, item := range val {
			out = append(out, toBSONValue(item))
		}
		return out
	default:
		return val
	}
}

func fromBSONDocument(raw bson.M) Document {
	id := fmt.Sprint(raw["_id"])
	data := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		data[k] = fromBSONValue(v)
	}
	return Document{ID: id, Data: data}
}

func fromBSONValue(v any) any {
	switch val := v.(type) {
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = fromBSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = fromBSONValue(item)
		}
		return out
	case bson.A:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, fromBSONValue(item))
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, fromBSONValue(item))
		}
		return out
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case bson.DateTime:
		return val.Time().UTC().Format("2006-01-02T15:04:05.000Z")
	default:
		return val
	}
}

// MongoFeed turns a database change stream into collection signals. Writes
// made through this process are also signalled directly, so a standalone
// server without change streams still serves local subscribers.
type MongoFeed struct {
	db    *mongo.Database
	local *LocalFeed

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewMongoFeed(db *mongo.Database) *MongoFeed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &MongoFeed{db: db, local: NewLocalFeed(), cancel: cancel, done: make(chan struct{})}
	go f.watchLoop(ctx)
	return f
}

func (f *MongoFeed) Publish(ctx context.Context, collection string) error {
	return f.local.Publish(ctx, collection)
}

func (f *MongoFeed) Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	return f.local.Listen(ctx, collection)
}

func (f *MongoFeed) Close() error {
	f.once.Do(func() {
		f.cancel()
		<-f.done
	})
	return nil
}

type changeEvent struct {
	NS struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
}

func (f *MongoFeed) watchLoop(ctx context.Context) {
	defer close(f.done)
	backoff := time.Second
	for {
		err := f.watchOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("docstore: mongo change stream: %v (retry in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

func (f *MongoFeed) watchOnce(ctx context.Context) error {
	stream, err := f.db.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())
	f.local.publishAll()
	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			log.Printf("docstore: decode change event: %v", err)
			continue
		}
		if ev.NS.Coll != "" {
			_ = f.local.Publish(ctx, ev.NS.Coll)
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return errors.New("change stream closed")
}
