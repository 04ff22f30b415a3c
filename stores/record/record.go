// Package record is the JSON form of a document shared by the key-value
// style stores (filesystem, s3, redis).
package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cowrite-server/core"
)

type record struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	Content       json.RawMessage     `json:"content"`
	Owner         core.Identity       `json:"owner,omitempty"`
	Collaborators []core.Collaborator `json:"collaborators,omitempty"`
	IsPublic      bool                `json:"isPublic"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Marshal encodes doc. Content that is not valid JSON is stored as a
// one-entry edit log.
func Marshal(doc *core.Document) ([]byte, error) {
	content := json.RawMessage(doc.Content)
	if len(content) == 0 || !json.Valid(content) {
		content = core.DecodeEditLog(doc.Content).Encode()
	}
	return json.Marshal(record{
		ID:            doc.ID,
		Title:         doc.Title,
		Content:       content,
		Owner:         doc.Owner,
		Collaborators: doc.Collaborators,
		IsPublic:      doc.IsPublic,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	})
}

func Unmarshal(data []byte) (*core.Document, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode document record: %w", err)
	}
	return &core.Document{
		ID:            r.ID,
		Title:         r.Title,
		Content:       []byte(r.Content),
		Owner:         r.Owner,
		Collaborators: r.Collaborators,
		IsPublic:      r.IsPublic,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

// Prepare fills the defaults of a document about to be created.
func Prepare(doc *core.Document, now time.Time) {
	if doc.Title == "" {
		doc.Title = core.DefaultTitle
	}
	if doc.Content == nil {
		doc.Content = core.EditLog{}.Encode()
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
}

// Merge applies a metadata update to stored, keeping its content and
// creation time. UpdatedAt moves only when the title changed.
func Merge(stored, update *core.Document, now time.Time) *core.Document {
	merged := update.Clone()
	merged.Content = stored.Content
	merged.CreatedAt = stored.CreatedAt
	if merged.Title == "" {
		merged.Title = core.DefaultTitle
	}
	if merged.Title != stored.Title {
		merged.UpdatedAt = now
	} else {
		merged.UpdatedAt = stored.UpdatedAt
	}
	return merged
}

// Snapshot applies a content write to stored, or builds an ownerless record
// when stored is nil.
func Snapshot(stored *core.Document, id string, content []byte, title string, now time.Time) *core.Document {
	if title == "" {
		title = core.DefaultTitle
	}
	if stored == nil {
		stored = &core.Document{ID: id, CreatedAt: now}
	}
	stored.Content = append([]byte(nil), content...)
	stored.Title = title
	stored.UpdatedAt = now
	return stored
}

// Sort orders documents most recently updated first, ties by id.
func Sort(docs []*core.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
}
