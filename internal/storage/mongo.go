package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	logx "slotwatch/pkg/logx"
)

const mongoCollection = "subscribers"

type mongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    logx.Logger
}

func openMongo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("storage.uri is required for mongo driver")
	}
	db := strings.TrimSpace(cfg.Database)
	if db == "" {
		db = "slotwatch"
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &mongoStore{
		client: client,
		coll:   client.Database(db).Collection(mongoCollection),
		log:    log,
	}, nil
}

func (s *mongoStore) LoadSubscribers(ctx context.Context) ([]SubscriberRecord, error) {
	cur, err := s.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []SubscriberRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) PutSubscriber(ctx context.Context, rec SubscriberRecord) error {
	rec.Version = SchemaVersion
	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: rec.ChatID}},
		rec,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *mongoStore) DeleteSubscriber(ctx context.Context, chatID int64) error {
	_, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: chatID}})
	return err
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
