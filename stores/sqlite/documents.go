package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cowrite-server/core"
	"cowrite-server/stores/sqlite/migrations"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	db *sql.DB
}

// NewDocumentStore opens the database at dataSourceName and migrates it to
// the latest schema.
func NewDocumentStore(dataSourceName string) (core.DocumentStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &documentStore{db}, nil
}

func (s *documentStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")

	var doc core.Document
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, content, owner, is_public, created_at, updated_at FROM documents WHERE id = ?", id,
	).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Owner, &doc.IsPublic, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("Document with specified ID not found")
			return nil, core.NotFoundf("document with id %s", id)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, core.Unavailable(err)
	}
	doc.CreatedAt = fromMillis(createdAt)
	doc.UpdatedAt = fromMillis(updatedAt)

	collaborators, err := s.collaborators(ctx, id)
	if err != nil {
		log.WithError(err).Error("Failed to retrieve collaborators")
		return nil, core.Unavailable(err)
	}
	doc.Collaborators = collaborators[id]

	log.Debug("Document retrieved successfully")
	return &doc, nil
}

// collaborators loads grants for one document, or for all when id is empty.
func (s *documentStore) collaborators(ctx context.Context, id string) (map[string][]core.Collaborator, error) {
	query := "SELECT document_id, user_id, permission, granted_at FROM collaborators"
	var args []any
	if id != "" {
		query += " WHERE document_id = ?"
		args = append(args, id)
	}
	query += " ORDER BY granted_at, user_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close collaborator rows")
		}
	}()

	out := make(map[string][]core.Collaborator)
	for rows.Next() {
		var documentID string
		var c core.Collaborator
		var grantedAt int64
		if err := rows.Scan(&documentID, &c.UserID, &c.Permission, &grantedAt); err != nil {
			return nil, err
		}
		c.GrantedAt = fromMillis(grantedAt)
		out[documentID] = append(out[documentID], c)
	}
	return out, rows.Err()
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) error {
	if document.ID == "" {
		return core.Validationf("document id is required")
	}
	if document.Title == "" {
		document.Title = core.DefaultTitle
	}
	if document.Content == nil {
		document.Content = core.EditLog{}.Encode()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)

	log := logrus.WithFields(logrus.Fields{
		"document_id": document.ID,
		"data_length": len(document.Content),
	})

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO documents (id, title, content, owner, is_public, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			document.ID, document.Title, document.Content, string(document.Owner), document.IsPublic, millis(now), millis(now))
		if err != nil {
			return err
		}
		return insertCollaborators(ctx, tx, document.ID, document.Collaborators)
	})
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("document with id %s: %w", document.ID, core.ErrConflict)
		}
		log.WithError(err).Error("Failed to create document")
		return core.Unavailable(err)
	}

	document.CreatedAt = now
	document.UpdatedAt = now
	log.Info("Document created successfully")
	return nil
}

func (s *documentStore) Upsert(ctx context.Context, id string, content []byte, title string) error {
	if id == "" {
		return core.Validationf("document id is required")
	}
	if title == "" {
		title = core.DefaultTitle
	}
	now := millis(time.Now().UTC())

	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(content),
	})

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, owner, is_public, created_at, updated_at)
		VALUES (?, ?, ?, '', 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content, updated_at = excluded.updated_at`,
		id, title, content, now, now)
	if err != nil {
		log.WithError(err).Error("Failed to upsert document")
		return core.Unavailable(err)
	}

	log.Debug("Document upserted successfully")
	return nil
}

func (s *documentStore) Update(ctx context.Context, document *core.Document) error {
	title := document.Title
	if title == "" {
		title = core.DefaultTitle
	}
	now := millis(time.Now().UTC())
	log := logrus.WithField("document_id", document.ID)

	var notFound bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE documents SET
				updated_at = CASE WHEN title <> ? THEN ? ELSE updated_at END,
				title = ?, owner = ?, is_public = ?
			WHERE id = ?`,
			title, now, title, string(document.Owner), document.IsPublic, document.ID)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err != nil {
			return err
		} else if rows == 0 {
			notFound = true
			return nil
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM collaborators WHERE document_id = ?", document.ID); err != nil {
			return err
		}
		return insertCollaborators(ctx, tx, document.ID, document.Collaborators)
	})
	if err != nil {
		log.WithError(err).Error("Failed to update document")
		return core.Unavailable(err)
	}
	if notFound {
		return core.NotFoundf("document with id %s", document.ID)
	}

	log.Debug("Document updated successfully")
	return nil
}

func insertCollaborators(ctx context.Context, tx *sql.Tx, documentID string, collaborators []core.Collaborator) error {
	for _, c := range collaborators {
		grantedAt := c.GrantedAt
		if grantedAt.IsZero() {
			grantedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO collaborators (document_id, user_id, permission, granted_at) VALUES (?, ?, ?, ?)",
			documentID, string(c.UserID), string(c.Permission), millis(grantedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	log := logrus.WithField("document_id", id)

	var notFound bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err != nil {
			return err
		} else if rows == 0 {
			notFound = true
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM collaborators WHERE document_id = ?", id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM versions WHERE document_id = ?", id)
		return err
	})
	if err != nil {
		log.WithError(err).Error("Failed to delete document")
		return core.Unavailable(err)
	}
	if notFound {
		return core.NotFoundf("document with id %s", id)
	}

	log.Info("Document deleted successfully")
	return nil
}

func (s *documentStore) List(ctx context.Context) ([]*core.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, owner, is_public, created_at, updated_at FROM documents ORDER BY updated_at DESC, id ASC")
	if err != nil {
		logrus.WithError(err).Error("Failed to list documents")
		return nil, core.Unavailable(err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close document rows")
		}
	}()

	var docs []*core.Document
	for rows.Next() {
		var doc core.Document
		var createdAt, updatedAt int64
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Owner, &doc.IsPublic, &createdAt, &updatedAt); err != nil {
			return nil, core.Unavailable(err)
		}
		doc.CreatedAt = fromMillis(createdAt)
		doc.UpdatedAt = fromMillis(updatedAt)
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Unavailable(err)
	}

	collaborators, err := s.collaborators(ctx, "")
	if err != nil {
		return nil, core.Unavailable(err)
	}
	for _, doc := range docs {
		doc.Collaborators = collaborators[doc.ID]
	}
	return docs, nil
}

func (s *documentStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			logrus.WithError(rerr).Warn("Failed to roll back transaction")
		}
		return err
	}
	return tx.Commit()
}
