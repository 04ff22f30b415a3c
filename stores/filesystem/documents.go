package filesystem

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cowrite-server/core"
	"cowrite-server/stores/record"

	"github.com/sirupsen/logrus"
)

const fileExt = ".json"

type documentStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewDocumentStore keeps one JSON file per document under basePath.
func NewDocumentStore(basePath string) (core.DocumentStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &documentStore{basePath: basePath}, nil
}

// path maps an id to its file. Ids are encoded so they can never escape
// basePath.
func (s *documentStore) path(id string) string {
	return filepath.Join(s.basePath, base64.RawURLEncoding.EncodeToString([]byte(id))+fileExt)
}

func (s *documentStore) read(id string) (*core.Document, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.NotFoundf("document with id %s", id)
		}
		return nil, core.Unavailable(err)
	}
	doc, err := record.Unmarshal(data)
	if err != nil {
		return nil, core.Unavailable(err)
	}
	return doc, nil
}

// write replaces the file atomically through a rename.
func (s *documentStore) write(doc *core.Document) error {
	data, err := record.Marshal(doc)
	if err != nil {
		return core.Unavailable(err)
	}

	tmp, err := os.CreateTemp(s.basePath, ".tmp-*")
	if err != nil {
		return core.Unavailable(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return core.Unavailable(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return core.Unavailable(err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return core.Unavailable(err)
	}
	if err := os.Rename(tmp.Name(), s.path(doc.ID)); err != nil {
		os.Remove(tmp.Name())
		return core.Unavailable(err)
	}
	return nil
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithFields(logrus.Fields{"document_id": id, "file_path": s.path(id)})
	log.Debug("Retrieving document by ID")

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read(id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			log.Debug("Document with specified ID not found")
		} else {
			log.WithError(err).Error("Failed to retrieve document")
		}
		return nil, err
	}
	return doc, nil
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) error {
	if document.ID == "" {
		return core.Validationf("document id is required")
	}
	log := logrus.WithFields(logrus.Fields{"document_id": document.ID, "file_path": s.path(document.ID)})

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(document.ID)); err == nil {
		return fmt.Errorf("document with id %s: %w", document.ID, core.ErrConflict)
	}

	record.Prepare(document, time.Now().UTC())
	if err := s.write(document); err != nil {
		log.WithError(err).Error("Failed to create document")
		return err
	}

	log.Info("Document created successfully")
	return nil
}

func (s *documentStore) Upsert(ctx context.Context, id string, content []byte, title string) error {
	if id == "" {
		return core.Validationf("document id is required")
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "data_length": len(content)})

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.read(id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		log.WithError(err).Error("Failed to read document for upsert")
		return err
	}
	if stored == nil {
		log.Warn("Document vanished, re-inserting as ownerless")
	}

	if err := s.write(record.Snapshot(stored, id, content, title, time.Now().UTC())); err != nil {
		log.WithError(err).Error("Failed to upsert document")
		return err
	}
	return nil
}

func (s *documentStore) Update(ctx context.Context, document *core.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.read(document.ID)
	if err != nil {
		return err
	}

	merged := record.Merge(stored, document, time.Now().UTC())
	if err := s.write(merged); err != nil {
		logrus.WithField("document_id", document.ID).WithError(err).Error("Failed to update document")
		return err
	}
	document.UpdatedAt = merged.UpdatedAt
	return nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.NotFoundf("document with id %s", id)
		}
		return core.Unavailable(err)
	}
	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *documentStore) List(ctx context.Context) ([]*core.Document, error) {
	log := logrus.WithField("path", s.basePath)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		log.WithError(err).Error("Failed to read document directory")
		return nil, core.Unavailable(err)
	}

	docs := make([]*core.Document, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, name))
		if err != nil {
			log.WithError(err).Warnf("Failed to read document file %s, skipping", name)
			continue
		}
		doc, err := record.Unmarshal(data)
		if err != nil {
			log.WithError(err).Warnf("Failed to decode document file %s, skipping", name)
			continue
		}
		doc.Content = nil
		docs = append(docs, doc)
	}

	record.Sort(docs)
	log.Debugf("Listed %d documents", len(docs))
	return docs, nil
}
