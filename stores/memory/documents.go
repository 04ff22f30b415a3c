package memory

import (
	"context"
	"cowrite-server/core"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type documentStore struct {
	mu        sync.RWMutex
	documents map[string]*core.Document
}

func NewDocumentStore() core.DocumentStore {
	return &documentStore{
		documents: make(map[string]*core.Document),
	}
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	doc, ok := s.documents[id]
	s.mu.RUnlock()

	if ok {
		log.Debug("Document retrieved successfully")
		return doc.Clone(), nil
	}

	log.WithField("error", "document not found").Debug("Document with specified ID not found")
	return nil, core.NotFoundf("document with id %s", id)
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) error {
	if document.ID == "" {
		return core.Validationf("document id is required")
	}

	now := time.Now().UTC()
	doc := document.Clone()
	if doc.Title == "" {
		doc.Title = core.DefaultTitle
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.documents[doc.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("document with id %s: %w", doc.ID, core.ErrConflict)
	}
	s.documents[doc.ID] = doc
	s.mu.Unlock()

	document.Title = doc.Title
	document.CreatedAt = now
	document.UpdatedAt = now

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"data_length": len(doc.Content),
	}).Info("Document created successfully")
	return nil
}

func (s *documentStore) Upsert(ctx context.Context, id string, content []byte, title string) error {
	if id == "" {
		return core.Validationf("document id is required")
	}
	if title == "" {
		title = core.DefaultTitle
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		doc = &core.Document{ID: id, CreatedAt: now}
		s.documents[id] = doc
		logrus.WithField("document_id", id).Warn("Document vanished, re-inserting as ownerless")
	}
	doc.Content = append([]byte(nil), content...)
	doc.Title = title
	doc.UpdatedAt = now
	return nil
}

func (s *documentStore) Update(ctx context.Context, document *core.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[document.ID]
	if !ok {
		return core.NotFoundf("document with id %s", document.ID)
	}

	updated := document.Clone()
	updated.Content = doc.Content
	updated.CreatedAt = doc.CreatedAt
	if updated.Title == "" {
		updated.Title = core.DefaultTitle
	}
	if updated.Title != doc.Title {
		updated.UpdatedAt = time.Now().UTC()
	} else {
		updated.UpdatedAt = doc.UpdatedAt
	}
	s.documents[document.ID] = updated
	document.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return core.NotFoundf("document with id %s", id)
	}
	delete(s.documents, id)
	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *documentStore) List(ctx context.Context) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*core.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		c := doc.Clone()
		c.Content = nil
		docs = append(docs, c)
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})

	return docs, nil
}
