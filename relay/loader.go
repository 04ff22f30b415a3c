package relay

import (
	"context"
	"errors"
	"strings"

	"cowrite-server/core"

	"github.com/sirupsen/logrus"
)

// loadOrCreate authorizes a read of documentID, creating the document first if
// it does not exist yet. Creation is written through immediately since every
// later debounced upsert relies on the row.
func (s *Service) loadOrCreate(ctx context.Context, documentID, titleHint string, identity core.Identity) (*core.Document, error) {
	decision, err := s.gate.Authorize(ctx, documentID, identity, core.PermissionRead)
	if err == nil {
		return decision.Document, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	title := strings.TrimSpace(titleHint)
	if title == "" {
		title = core.DefaultTitle
	}
	doc := &core.Document{
		ID:      documentID,
		Title:   title,
		Content: core.EditLog{}.Encode(),
		Owner:   identity,
	}

	log := logrus.WithFields(logrus.Fields{"document_id": documentID, "owner": identity})
	if err := s.store.Create(ctx, doc); err != nil {
		if errors.Is(err, core.ErrConflict) {
			// created through another path since the lookup
			decision, err := s.gate.Authorize(ctx, documentID, identity, core.PermissionRead)
			if err != nil {
				return nil, err
			}
			return decision.Document, nil
		}
		log.WithError(err).Error("Failed to create document on first join")
		return nil, err
	}

	log.Info("Document created on first join")
	return doc, nil
}
