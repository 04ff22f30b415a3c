// Package access decides who may read, write or administer a document.
package access

import (
	"context"
	"fmt"

	"cowrite-server/core"

	"github.com/sirupsen/logrus"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Granted bool
	// Level is the effective permission the identity holds on the document.
	Level    core.Permission
	Document *core.Document
}

type Gate struct {
	store core.DocumentStore
}

func NewGate(store core.DocumentStore) *Gate {
	return &Gate{store: store}
}

// Authorize loads the document and evaluates the access rules for identity.
// It never creates documents and has no side effects. A missing document
// yields an error wrapping core.ErrNotFound; a denial yields a Decision with
// Granted unset and an error wrapping core.ErrPermissionDenied.
func (g *Gate) Authorize(ctx context.Context, documentID string, identity core.Identity, required core.Permission) (Decision, error) {
	doc, err := g.store.FindID(ctx, documentID)
	if err != nil {
		return Decision{}, err
	}

	level, ok := Evaluate(doc, identity, required)
	decision := Decision{Granted: ok, Level: level, Document: doc}
	if !ok {
		logrus.WithFields(logrus.Fields{
			"document_id": documentID,
			"identity":    identity,
			"required":    required,
		}).Debug("Access denied")
		return decision, fmt.Errorf("%s access to document %s: %w", required, documentID, core.ErrPermissionDenied)
	}
	return decision, nil
}

// Evaluate applies the access rules to an already loaded document:
//  1. the owner holds admin;
//  2. a collaborator holds their granted level;
//  3. anyone may read a public document;
//  4. an ownerless (legacy) document grants whatever is asked for.
func Evaluate(doc *core.Document, identity core.Identity, required core.Permission) (core.Permission, bool) {
	if !identity.Anonymous() && identity == doc.Owner {
		return core.PermissionAdmin, true
	}

	if !identity.Anonymous() {
		if c, ok := doc.Collaborator(identity); ok && c.Permission.Satisfies(required) {
			return c.Permission, true
		}
	}

	if doc.IsPublic && required == core.PermissionRead {
		return core.PermissionRead, true
	}

	if doc.Ownerless() {
		return required, true
	}

	return "", false
}
