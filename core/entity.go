package core

import (
	"context"
	"time"
)

// DefaultTitle is used whenever a document is created without a title.
const DefaultTitle = "Untitled Document"

type (
	// Identity is the authenticated subject of a request or session.
	// The zero value is the anonymous identity.
	Identity string

	// Collaborator grants a non-owner identity access to a document.
	Collaborator struct {
		UserID     Identity   `json:"userId"`
		Permission Permission `json:"permission"`
		GrantedAt  time.Time  `json:"grantedAt"`
	}

	// Document is the persisted record behind a collaborative session.
	// Content is an opaque encoded edit log and is never interpreted by the store.
	Document struct {
		ID            string         `json:"id"`
		Title         string         `json:"title"`
		Content       []byte         `json:"content,omitempty"`
		Owner         Identity       `json:"owner,omitempty"`
		Collaborators []Collaborator `json:"collaborators"`
		IsPublic      bool           `json:"isPublic"`
		CreatedAt     time.Time      `json:"createdAt"`
		UpdatedAt     time.Time      `json:"updatedAt"`
	}

	// DocumentStore is the persistence layer for documents, keyed by an
	// externally generated id.
	DocumentStore interface {
		// FindID returns the document or an error wrapping ErrNotFound.
		FindID(ctx context.Context, id string) (*Document, error)

		// Create inserts a new document. It fails with ErrConflict when the id is taken.
		Create(ctx context.Context, document *Document) error

		// Upsert writes content and title, inserting an ownerless record if the
		// row vanished.
		Upsert(ctx context.Context, id string, content []byte, title string) error

		// Update replaces title, owner, collaborators and visibility of an
		// existing document. Content is left untouched.
		Update(ctx context.Context, document *Document) error

		// Delete removes a document or fails with ErrNotFound.
		Delete(ctx context.Context, id string) error

		// List returns every document without its content.
		List(ctx context.Context) ([]*Document, error)
	}
)

// Anonymous reports whether the identity carries no credential.
func (i Identity) Anonymous() bool {
	return i == ""
}

// Ownerless reports whether the document predates owner tracking.
func (d *Document) Ownerless() bool {
	return d.Owner.Anonymous()
}

// Collaborator returns the entry for the identity, if any.
func (d *Document) Collaborator(id Identity) (Collaborator, bool) {
	for _, c := range d.Collaborators {
		if c.UserID == id {
			return c, true
		}
	}
	return Collaborator{}, false
}

// SetCollaborator adds or replaces the entry for c.UserID, keeping at most one
// entry per identity. The owner can never be listed.
func (d *Document) SetCollaborator(c Collaborator) error {
	if c.UserID.Anonymous() {
		return Validationf("collaborator user id is required")
	}
	if c.UserID == d.Owner {
		return Validationf("owner cannot be added as a collaborator")
	}
	if !c.Permission.Valid() {
		return Validationf("invalid permission %q", c.Permission)
	}
	for i := range d.Collaborators {
		if d.Collaborators[i].UserID == c.UserID {
			d.Collaborators[i].Permission = c.Permission
			return nil
		}
	}
	d.Collaborators = append(d.Collaborators, c)
	return nil
}

// RemoveCollaborator drops the entry for id and reports whether one existed.
func (d *Document) RemoveCollaborator(id Identity) bool {
	for i, c := range d.Collaborators {
		if c.UserID == id {
			d.Collaborators = append(d.Collaborators[:i], d.Collaborators[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching store state.
func (d *Document) Clone() *Document {
	c := *d
	if d.Content != nil {
		c.Content = append([]byte(nil), d.Content...)
	}
	if d.Collaborators != nil {
		c.Collaborators = append([]Collaborator(nil), d.Collaborators...)
	}
	return &c
}
