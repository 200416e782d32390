// Package mongostore persists MQTT client in-flight messages in MongoDB.
package mongostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vitalvas/mqtt"
)

const (
	DefaultCollection       = "mqtt_inflight"
	DefaultOperationTimeout = 5 * time.Second
)

// document is one persisted packet.
type document struct {
	Owner string `bson:"owner"`
	Key   string `bson:"key"`
	Data  []byte `bson:"data"`
}

// Store implements mqtt.Store on a MongoDB collection. Entries of one
// client are scoped by an owner field of "<clientID>@<serverURI>", with a
// unique index on (owner, key).
type Store struct {
	coll    *mongo.Collection
	timeout time.Duration

	mu    sync.RWMutex
	owner string
}

var _ mqtt.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithOperationTimeout bounds every database call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New returns a store on the given collection of db.
func New(db *mongo.Database, collection string, opts ...Option) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	s := &Store{
		coll:    db.Collection(collection),
		timeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a store on collection of database dbName.
// Closing the store does not disconnect the client; use Disconnect.
func Connect(ctx context.Context, uri, dbName, collection string, opts ...Option) (*Store, *mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri).SetAppName("mqtt-client")

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return New(client.Database(dbName), collection, opts...), client, nil
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) currentOwner() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.owner == "" {
		return "", mqtt.ErrStoreNotOpen
	}
	return s.owner, nil
}

func (s *Store) Open(clientID, serverURI string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("owner_key_unique"),
	})
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	s.mu.Lock()
	s.owner = clientID + "@" + serverURI
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.owner = ""
	s.mu.Unlock()
	return nil
}

func (s *Store) Put(key string, bufs ...[]byte) error {
	owner, err := s.currentOwner()
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	doc := document{Owner: owner, Key: key, Data: bytes.Join(bufs, nil)}
	filter := bson.D{{Key: "owner", Value: owner}, {Key: "key", Value: key}}
	if _, err := s.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(key string) ([]byte, error) {
	owner, err := s.currentOwner()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	var doc document
	err = s.coll.FindOne(ctx, bson.D{{Key: "owner", Value: owner}, {Key: "key", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, mqtt.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return doc.Data, nil
}

func (s *Store) Remove(key string) error {
	owner, err := s.currentOwner()
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "owner", Value: owner}, {Key: "key", Value: key}}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *Store) Keys() ([]string, error) {
	owner, err := s.currentOwner()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	opts := options.Find().
		SetProjection(bson.D{{Key: "key", Value: 1}}).
		SetSort(bson.D{{Key: "key", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.D{{Key: "owner", Value: owner}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer cur.Close(ctx)

	var keys []string
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cur.Err()
}

func (s *Store) Clear() error {
	owner, err := s.currentOwner()
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	if _, err := s.coll.DeleteMany(ctx, bson.D{{Key: "owner", Value: owner}}); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
