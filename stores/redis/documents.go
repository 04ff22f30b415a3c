// Package redis stores documents in Redis: one JSON value per document plus a
// sorted set indexing ids by update time.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cowrite-server/core"
	"cowrite-server/stores/record"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const maxTxRetries = 10

// getter is satisfied by both the client and a transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type documentStore struct {
	client *redis.Client
	prefix string
}

// NewDocumentStore connects to redisURL and checks the connection.
func NewDocumentStore(redisURL, prefix string) (core.DocumentStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewDocumentStoreWithClient(client, prefix), nil
}

// NewDocumentStoreWithClient creates a store from an existing client.
func NewDocumentStoreWithClient(client *redis.Client, prefix string) core.DocumentStore {
	if prefix == "" {
		prefix = "cowrite"
	}
	return &documentStore{client: client, prefix: prefix}
}

func (s *documentStore) key(id string) string {
	return s.prefix + ":doc:" + id
}

func (s *documentStore) indexKey() string {
	return s.prefix + ":docs"
}

func (s *documentStore) Close() error {
	return s.client.Close()
}

func (s *documentStore) get(ctx context.Context, g getter, id string) (*core.Document, error) {
	data, err := g.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.NotFoundf("document with id %s", id)
	}
	if err != nil {
		return nil, core.Unavailable(fmt.Errorf("get document %s: %w", id, err))
	}
	doc, err := record.Unmarshal(data)
	if err != nil {
		return nil, core.Unavailable(err)
	}
	return doc, nil
}

// modify runs a read-modify-write on one document under WATCH, retrying when
// another writer got in between. fn receives nil when the document is missing.
func (s *documentStore) modify(ctx context.Context, id string, fn func(stored *core.Document) (*core.Document, error)) error {
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		stored, err := s.get(ctx, tx, id)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		doc, err := fn(stored)
		if err != nil {
			return err
		}
		data, err := record.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(doc.UpdatedAt.UnixMilli()), Member: id})
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return core.Unavailable(fmt.Errorf("document %s: too much write contention", id))
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	doc, err := s.get(ctx, s.client, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to retrieve document")
	}
	return doc, err
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) error {
	if document.ID == "" {
		return core.Validationf("document id is required")
	}
	log := logrus.WithField("document_id", document.ID)

	record.Prepare(document, time.Now().UTC())
	data, err := record.Marshal(document)
	if err != nil {
		return core.Unavailable(err)
	}

	created, err := s.client.SetNX(ctx, s.key(document.ID), data, 0).Result()
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return core.Unavailable(err)
	}
	if !created {
		return fmt.Errorf("document with id %s: %w", document.ID, core.ErrConflict)
	}
	score := float64(document.UpdatedAt.UnixMilli())
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: document.ID}).Err(); err != nil {
		log.WithError(err).Error("Failed to index document")
		return core.Unavailable(err)
	}

	log.Info("Document created successfully")
	return nil
}

func (s *documentStore) Upsert(ctx context.Context, id string, content []byte, title string) error {
	if id == "" {
		return core.Validationf("document id is required")
	}
	err := s.modify(ctx, id, func(stored *core.Document) (*core.Document, error) {
		if stored == nil {
			logrus.WithField("document_id", id).Warn("Document vanished, re-inserting as ownerless")
		}
		return record.Snapshot(stored, id, content, title, time.Now().UTC()), nil
	})
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to upsert document")
		return core.Unavailable(err)
	}
	return nil
}

func (s *documentStore) Update(ctx context.Context, document *core.Document) error {
	var updatedAt time.Time
	err := s.modify(ctx, document.ID, func(stored *core.Document) (*core.Document, error) {
		if stored == nil {
			return nil, core.NotFoundf("document with id %s", document.ID)
		}
		merged := record.Merge(stored, document, time.Now().UTC())
		updatedAt = merged.UpdatedAt
		return merged, nil
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return err
		}
		return core.Unavailable(err)
	}
	document.UpdatedAt = updatedAt
	return nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return core.Unavailable(err)
	}
	if removed.Val() == 0 {
		return core.NotFoundf("document with id %s", id)
	}
	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *documentStore) List(ctx context.Context) ([]*core.Document, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		logrus.WithError(err).Error("Failed to list documents")
		return nil, core.Unavailable(err)
	}
	docs := make([]*core.Document, 0, len(ids))
	if len(ids) == 0 {
		return docs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, core.Unavailable(err)
	}

	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// indexed but gone
			continue
		}
		doc, err := record.Unmarshal([]byte(str))
		if err != nil {
			logrus.WithField("document_id", ids[i]).WithError(err).Warn("Skipping undecodable document")
			continue
		}
		doc.Content = nil
		docs = append(docs, doc)
	}

	record.Sort(docs)
	return docs, nil
}
