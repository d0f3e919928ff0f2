package note

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ContentStore holds note bodies, addressed by the note's content key.
// Bodies live outside the relational row so list queries never drag
// full markdown documents across the wire.
type ContentStore interface {
	Put(ctx context.Context, key, content string) error
	Get(ctx context.Context, key string) (string, error)
	Update(ctx context.Context, key, content string) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	Close(ctx context.Context) error
}

var ErrContentNotFound = errors.New("note content not found")

type MongoConfig struct {
	URI      string
	Database string
}

func MongoConfigFromEnv() MongoConfig {
	cfg := MongoConfig{
		URI:      os.Getenv("MONGODB_URI"),
		Database: os.Getenv("MONGODB_DB"),
	}
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "pitchfork"
	}
	return cfg
}

type MongoContentStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type contentDoc struct {
	Key       string    `bson:"key"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongoContentStore(ctx context.Context, cfg MongoConfig) (*MongoContentStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	coll := client.Database(cfg.Database).Collection("note_contents")
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create content index: %w", err)
	}
	return &MongoContentStore{client: client, coll: coll}, nil
}

func (s *MongoContentStore) Put(ctx context.Context, key, content string) error {
	now := time.Now()
	_, err := s.coll.InsertOne(ctx, contentDoc{
		Key: key, Content: content, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("insert note content: %w", err)
	}
	return nil
}

func (s *MongoContentStore) Get(ctx context.Context, key string) (string, error) {
	var doc contentDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "key", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrContentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find note content: %w", err)
	}
	return doc.Content, nil
}

// Update upserts so a body missing its document (a half-failed create)
// can still be repaired by a later edit.
func (s *MongoContentStore) Update(ctx context.Context, key, content string) error {
	now := time.Now()
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "key", Value: key}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "content", Value: content},
				{Key: "updated_at", Value: now},
			}},
			{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: now}}},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("update note content: %w", err)
	}
	return nil
}

func (s *MongoContentStore) Delete(ctx context.Context, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.D{{Key: "key", Value: key}})
	if err != nil {
		return fmt.Errorf("delete note content: %w", err)
	}
	return nil
}

func (s *MongoContentStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.coll.DeleteMany(ctx, bson.D{{Key: "key", Value: bson.D{{Key: "$in", Value: keys}}}})
	if err != nil {
		return fmt.Errorf("delete note contents: %w", err)
	}
	return nil
}

func (s *MongoContentStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
