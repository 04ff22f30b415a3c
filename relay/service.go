// Package relay implements the live editing relay: sessions join one document
// room at a time, edits are fanned out to the other members in the order they
// were accepted, and room snapshots are persisted on a fixed interval.
//
// Every room is served by its own goroutine, so operations on one document
// are strictly serialized while different documents progress independently.
// The relay never merges edits; clients apply received operations in order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cowrite-server/access"
	"cowrite-server/core"

	"github.com/sirupsen/logrus"
)

const (
	DefaultSaveInterval = 2 * time.Second
	DefaultStoreTimeout = 10 * time.Second
)

type Options struct {
	// SaveInterval is the period between debounced flushes.
	SaveInterval time.Duration
	// StoreTimeout bounds every store call made by a room.
	StoreTimeout time.Duration
}

type Service struct {
	store     core.DocumentStore
	gate      *access.Gate
	opts      Options
	registry  *registry
	debouncer *debouncer
}

func NewService(store core.DocumentStore, gate *access.Gate, opts Options) *Service {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = DefaultSaveInterval
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}

	s := &Service{
		store: store,
		gate:  gate,
		opts:  opts,
	}
	s.registry = newRegistry(s)
	s.debouncer = newDebouncer(opts.SaveInterval, s.registry)
	return s
}

// Start begins periodic persistence.
func (s *Service) Start() {
	s.debouncer.start()
}

// Stop halts the periodic flush and writes every dirty room once more. Store
// failures of that last write are returned.
func (s *Service) Stop(ctx context.Context) error {
	s.debouncer.stop()
	return s.FlushAll(ctx)
}

// FlushAll persists every live room that changed since its last flush and
// reports the rooms whose write failed. Those stay dirty.
func (s *Service) FlushAll(ctx context.Context) error {
	return s.debouncer.flushAll(ctx, opSync)
}

// Rooms lists live rooms by member count.
func (s *Service) Rooms() []RoomInfo {
	return s.registry.info()
}

// Connect registers a new, unjoined session for conn.
func (s *Service) Connect(conn Conn, identity core.Identity) *Session {
	logrus.WithFields(logrus.Fields{
		"session_id": conn.ID(),
		"identity":   identity,
		"anonymous":  identity.Anonymous(),
	}).Debug("Session connected")
	return &Session{conn: conn, identity: identity}
}

// Dispatch runs one client request through the session state machine and
// waits until the owning room has processed it. Failures are reported to the
// session as an error event and returned.
func (s *Service) Dispatch(ctx context.Context, sess *Session, msg Message) error {
	switch msg.Type {
	case EventGetDocument:
		return s.join(ctx, sess, msg)
	case EventSendChanges:
		return s.member(ctx, sess, opEdit, msg)
	case EventUpdateTitle:
		return s.member(ctx, sess, opTitle, msg)
	case EventSaveDocument:
		return s.member(ctx, sess, opSave, msg)
	default:
		err := core.Validationf("unknown event %q", msg.Type)
		sess.emitError(err)
		return err
	}
}

// Disconnect closes the session and leaves its room. A failed final flush is
// returned wrapped in ErrFinalFlush; the session is gone either way.
func (s *Service) Disconnect(ctx context.Context, sess *Session) error {
	rm := sess.close()
	logrus.WithField("session_id", sess.ID()).Debug("Session disconnected")
	if rm == nil {
		return nil
	}
	return s.leave(ctx, sess, rm)
}

func (s *Service) join(ctx context.Context, sess *Session, msg Message) error {
	msg.DocumentID = strings.TrimSpace(msg.DocumentID)
	if msg.DocumentID == "" {
		err := core.Validationf("document id is required")
		sess.emitError(err)
		return err
	}

	// one room per session: leave the previous one first
	var warn error
	if prev := sess.current(); prev != nil {
		warn = s.leave(ctx, sess, prev)
	}

	o := newOp(opJoin, sess, msg)
	s.registry.submit(msg.DocumentID, o)
	if err := wait(ctx, o); err != nil {
		return err
	}
	return warn
}

func (s *Service) leave(ctx context.Context, sess *Session, rm *room) error {
	o := newOp(opLeave, sess, Message{DocumentID: rm.id})
	if !s.registry.submitTo(rm, o) {
		sess.detach(rm)
		return nil
	}
	return wait(ctx, o)
}

func (s *Service) member(ctx context.Context, sess *Session, kind opKind, msg Message) error {
	rm := sess.current()
	if rm == nil {
		sess.emitError(ErrNotJoined)
		return ErrNotJoined
	}

	o := newOp(kind, sess, msg)
	if !s.registry.submitTo(rm, o) {
		sess.detach(rm)
		sess.emitError(ErrNotJoined)
		return ErrNotJoined
	}
	return wait(ctx, o)
}

// SetTitle renames a document on behalf of a non-socket caller that has
// already been authorized. A live room adopts the title and tells every
// member; otherwise the store is updated directly.
func (s *Service) SetTitle(ctx context.Context, documentID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return core.Validationf("title is required")
	}

	o := newOp(opTitle, nil, Message{DocumentID: documentID, Title: title})
	if s.registry.submitExisting(documentID, o) {
		err := wait(ctx, o)
		if !errors.Is(err, ErrNotJoined) {
			return err
		}
		// the room closed before loading; fall through to the store
	}

	doc, err := s.store.FindID(ctx, documentID)
	if err != nil {
		return err
	}
	doc.Title = title
	return s.store.Update(ctx, doc)
}

// Replace overwrites the content and title of a document. Members of a live
// room receive the new snapshot as a fresh load-document event.
func (s *Service) Replace(ctx context.Context, documentID string, content []byte, title string) error {
	o := newOp(opReplace, nil, Message{DocumentID: documentID, Title: title, Payload: content})
	if s.registry.submitExisting(documentID, o) {
		err := wait(ctx, o)
		if !errors.Is(err, ErrNotJoined) {
			return err
		}
	}

	if strings.TrimSpace(title) == "" {
		doc, err := s.store.FindID(ctx, documentID)
		if err != nil {
			return err
		}
		title = doc.Title
	}
	return s.store.Upsert(ctx, documentID, core.DecodeEditLog(content).Encode(), title)
}

// FlushDocument persists the live room of a document, if any, so the store
// holds its latest snapshot.
func (s *Service) FlushDocument(ctx context.Context, documentID string) error {
	o := newOp(opSync, nil, Message{DocumentID: documentID})
	if !s.registry.submitExisting(documentID, o) {
		return nil
	}
	return wait(ctx, o)
}

// Delete removes a document and disconnects every member of its room without
// persisting the snapshot. It runs on the room, so a join or flush for the
// same document either completes before it or starts from scratch after it.
func (s *Service) Delete(ctx context.Context, documentID string) error {
	o := newOp(opDelete, nil, Message{DocumentID: documentID})
	s.registry.submit(documentID, o)
	return wait(ctx, o)
}

func wait(ctx context.Context, o *op) error {
	select {
	case err := <-o.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s on document %s: %w", o.kind, o.msg.DocumentID, ctx.Err())
	}
}
