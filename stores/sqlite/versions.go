package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"cowrite-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// MaxVersions is how many named versions a document keeps. Creating one more
// evicts the oldest.
const MaxVersions = 10

// Version is a named save point of a document's persisted snapshot.
type Version struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"documentId"`
	Name       string          `json:"name"`
	CreatedBy  core.Identity   `json:"createdBy"`
	CreatedAt  time.Time       `json:"createdAt"`
	Title      string          `json:"title"`
	Content    json.RawMessage `json:"content,omitempty"`
}

// CreateVersion copies the current content and title of a document into a
// new version.
func (s *documentStore) CreateVersion(ctx context.Context, documentID, name string, createdBy core.Identity) (*Version, error) {
	version := &Version{
		ID:         ulid.Make().String(),
		DocumentID: documentID,
		Name:       name,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	log := logrus.WithFields(logrus.Fields{
		"version_id":  version.ID,
		"document_id": documentID,
	})

	var notFound bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var content []byte
		err := tx.QueryRowContext(ctx, "SELECT title, content FROM documents WHERE id = ?", documentID).
			Scan(&version.Title, &content)
		if errors.Is(err, sql.ErrNoRows) {
			notFound = true
			return nil
		}
		if err != nil {
			return err
		}
		version.Content = core.DecodeEditLog(content).Encode()

		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM versions WHERE document_id = ?", documentID).Scan(&count); err != nil {
			return err
		}
		if count >= MaxVersions {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM versions WHERE id IN (
					SELECT id FROM versions WHERE document_id = ? ORDER BY created_at ASC, id ASC LIMIT ?
				)`,
				documentID, count-MaxVersions+1)
			if err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO versions (id, document_id, name, created_by, created_at, title, content) VALUES (?, ?, ?, ?, ?, ?, ?)",
			version.ID, documentID, name, string(createdBy), millis(version.CreatedAt), version.Title, []byte(version.Content))
		return err
	})
	if err != nil {
		log.WithError(err).Error("Failed to create version")
		return nil, core.Unavailable(err)
	}
	if notFound {
		return nil, core.NotFoundf("document with id %s", documentID)
	}

	log.Info("Version created successfully")
	return version, nil
}

// ListVersions lists the versions of a document, newest first, without content.
func (s *documentStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	log := logrus.WithField("document_id", documentID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document_id, name, created_by, created_at, title FROM versions WHERE document_id = ? ORDER BY created_at DESC, id DESC",
		documentID)
	if err != nil {
		log.WithError(err).Error("Failed to list versions")
		return nil, core.Unavailable(err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close version rows")
		}
	}()

	versions := []Version{}
	for rows.Next() {
		var v Version
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.Name, &v.CreatedBy, &createdAt, &v.Title); err != nil {
			log.WithError(err).Error("Failed to scan version")
			return nil, core.Unavailable(err)
		}
		v.CreatedAt = fromMillis(createdAt)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Unavailable(err)
	}
	return versions, nil
}

func (s *documentStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	log := logrus.WithField("version_id", id)

	var v Version
	var createdAt int64
	var content []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT id, document_id, name, created_by, created_at, title, content FROM versions WHERE id = ?", id,
	).Scan(&v.ID, &v.DocumentID, &v.Name, &v.CreatedBy, &createdAt, &v.Title, &content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NotFoundf("version with id %s", id)
		}
		log.WithError(err).Error("Failed to retrieve version")
		return nil, core.Unavailable(err)
	}
	v.CreatedAt = fromMillis(createdAt)
	v.Content = content
	return &v, nil
}

func (s *documentStore) DeleteVersion(ctx context.Context, id string) error {
	log := logrus.WithField("version_id", id)

	result, err := s.db.ExecContext(ctx, "DELETE FROM versions WHERE id = ?", id)
	if err != nil {
		log.WithError(err).Error("Failed to delete version")
		return core.Unavailable(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return core.Unavailable(err)
	}
	if rows == 0 {
		return core.NotFoundf("version with id %s", id)
	}

	log.Info("Version deleted successfully")
	return nil
}
