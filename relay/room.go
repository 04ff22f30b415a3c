package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"cowrite-server/core"

	"github.com/sirupsen/logrus"
)

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opEdit
	opTitle
	opSave
	opFlush
	opSync
	opDelete
	opReplace
)

func (k opKind) String() string {
	switch k {
	case opJoin:
		return "join"
	case opLeave:
		return "leave"
	case opEdit:
		return "edit"
	case opTitle:
		return "title"
	case opSave:
		return "save"
	case opFlush:
		return "flush"
	case opSync:
		return "sync"
	case opDelete:
		return "delete"
	case opReplace:
		return "replace"
	}
	return "unknown"
}

// op is one unit of work for a room. reply is buffered so the room never
// blocks on a caller that stopped waiting.
type op struct {
	kind     opKind
	session  *Session
	identity core.Identity
	msg      Message
	reply    chan error
}

func newOp(kind opKind, session *Session, msg Message) *op {
	o := &op{kind: kind, session: session, msg: msg, reply: make(chan error, 1)}
	if session != nil {
		o.identity = session.identity
	}
	return o
}

// room owns the members and in-memory snapshot of one document. All of its
// state is touched only by the run goroutine; ops arrive through the queue in
// submission order.
type room struct {
	id  string
	svc *Service

	qmu   sync.Mutex
	queue []*op
	wake  chan struct{}

	size atomic.Int32

	order  []*Session
	loaded bool
	log    core.EditLog
	title  string
	dirty  bool
}

func newRoom(id string, svc *Service) *room {
	return &room{
		id:   id,
		svc:  svc,
		wake: make(chan struct{}, 1),
	}
}

func (rm *room) push(o *op) {
	rm.qmu.Lock()
	rm.queue = append(rm.queue, o)
	rm.qmu.Unlock()

	select {
	case rm.wake <- struct{}{}:
	default:
	}
}

func (rm *room) pending() int {
	rm.qmu.Lock()
	defer rm.qmu.Unlock()
	return len(rm.queue)
}

func (rm *room) next() *op {
	for {
		rm.qmu.Lock()
		if len(rm.queue) > 0 {
			o := rm.queue[0]
			rm.queue[0] = nil
			rm.queue = rm.queue[1:]
			rm.qmu.Unlock()
			return o
		}
		rm.qmu.Unlock()
		<-rm.wake
	}
}

func (rm *room) run() {
	log := logrus.WithField("document_id", rm.id)
	log.Debug("Room opened")

	for {
		o := rm.next()
		err := rm.handle(o)

		if len(rm.order) == 0 {
			if terr := rm.teardown(); terr != nil {
				err = errors.Join(err, terr)
			}
			o.reply <- err
			if rm.svc.registry.release(rm) {
				log.Debug("Room closed")
				return
			}
			continue
		}
		o.reply <- err
	}
}

func (rm *room) handle(o *op) error {
	switch o.kind {
	case opJoin:
		return rm.join(o)
	case opLeave:
		rm.leave(o.session)
		return nil
	case opEdit:
		return rm.edit(o)
	case opTitle:
		return rm.updateTitle(o)
	case opSave:
		return rm.save(o)
	case opFlush:
		return rm.flush(flushTick)
	case opSync:
		return rm.flush(flushStrict)
	case opDelete:
		return rm.delete()
	case opReplace:
		return rm.replace(o)
	}
	return fmt.Errorf("unknown op %d", o.kind)
}

func (rm *room) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rm.svc.opts.StoreTimeout)
}

func (rm *room) isMember(s *Session) bool {
	for _, m := range rm.order {
		if m == s {
			return true
		}
	}
	return false
}

func (rm *room) join(o *op) error {
	s := o.session
	log := logrus.WithFields(logrus.Fields{"document_id": rm.id, "session_id": s.ID()})

	ctx, cancel := rm.storeContext()
	defer cancel()

	doc, err := rm.svc.loadOrCreate(ctx, rm.id, o.msg.Title, o.identity)
	if err != nil {
		log.WithError(err).Info("Join rejected")
		s.emitError(err)
		return err
	}

	if !rm.loaded {
		rm.log = core.DecodeEditLog(doc.Content)
		rm.title = doc.Title
		rm.loaded = true
		rm.dirty = false
	}

	if !s.admit(rm) {
		log.Debug("Session closed before join completed, discarding load")
		return nil
	}
	if !rm.isMember(s) {
		rm.order = append(rm.order, s)
		rm.size.Store(int32(len(rm.order)))
	}

	s.emit(EventLoadDocument, LoadPayload{Content: rm.log.Clone(), Title: rm.title})
	log.WithField("users", len(rm.order)).Info("Session joined document")
	return nil
}

func (rm *room) leave(s *Session) {
	for i, m := range rm.order {
		if m == s {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	rm.size.Store(int32(len(rm.order)))
	s.detach(rm)

	logrus.WithFields(logrus.Fields{
		"document_id": rm.id,
		"session_id":  s.ID(),
		"users":       len(rm.order),
	}).Info("Session left document")
}

// authorizeMember re-checks permission for a member operation against the
// store on every call, so revoked grants take effect immediately.
func (rm *room) authorizeMember(o *op, required core.Permission) error {
	if !rm.isMember(o.session) {
		return ErrNotJoined
	}

	ctx, cancel := rm.storeContext()
	defer cancel()

	_, err := rm.svc.gate.Authorize(ctx, rm.id, o.identity, required)
	return err
}

func (rm *room) edit(o *op) error {
	if err := rm.authorizeMember(o, core.PermissionWrite); err != nil {
		o.session.emitError(err)
		return err
	}
	if len(o.msg.Payload) == 0 || !json.Valid(o.msg.Payload) {
		err := core.Validationf("operation must be a JSON value")
		o.session.emitError(err)
		return err
	}

	operation := json.RawMessage(append([]byte(nil), o.msg.Payload...))
	rm.log = append(rm.log, operation)
	rm.dirty = true
	broadcastToRoom(rm, o.session, EventReceiveChanges, operation)
	return nil
}

func (rm *room) updateTitle(o *op) error {
	title := strings.TrimSpace(o.msg.Title)
	if title == "" {
		err := core.Validationf("title is required")
		if o.session != nil {
			o.session.emitError(err)
		}
		return err
	}

	if o.session != nil {
		if err := rm.authorizeMember(o, core.PermissionWrite); err != nil {
			o.session.emitError(err)
			return err
		}
	} else if !rm.loaded {
		return ErrNotJoined
	}

	rm.title = title
	rm.dirty = true
	broadcastToRoom(rm, o.session, EventTitleUpdated, title)
	return nil
}

func (rm *room) save(o *op) error {
	if err := rm.authorizeMember(o, core.PermissionWrite); err != nil {
		o.session.emitError(err)
		return err
	}

	payload := o.msg.Payload
	if len(payload) > 0 && string(payload) != "null" {
		if !json.Valid(payload) {
			err := core.Validationf("content must be a JSON value")
			o.session.emitError(err)
			return err
		}
		rm.log = core.EditLog{json.RawMessage(append([]byte(nil), payload...))}
		rm.dirty = true
	}
	if title := strings.TrimSpace(o.msg.Title); title != "" && title != rm.title {
		rm.title = title
		rm.dirty = true
	}
	return nil
}

// delete removes the document from the store and evicts the room. Joins
// queued behind it start from a fresh record.
func (rm *room) delete() error {
	ctx, cancel := rm.storeContext()
	defer cancel()

	err := rm.svc.store.Delete(ctx, rm.id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	rm.evict()
	return err
}

// evict drops every member and the snapshot without persisting.
func (rm *room) evict() {
	err := core.NotFoundf("document %s was deleted", rm.id)
	for _, m := range rm.order {
		m.detach(rm)
		m.emitError(err)
	}
	rm.order = nil
	rm.size.Store(0)
	rm.loaded = false
	rm.log = nil
	rm.title = ""
	rm.dirty = false
	logrus.WithField("document_id", rm.id).Info("Room evicted")
}

// replace swaps the whole snapshot, as when a saved version is restored, and
// reloads every member. The result is written through at once.
func (rm *room) replace(o *op) error {
	if !rm.loaded {
		return ErrNotJoined
	}

	rm.log = core.DecodeEditLog(o.msg.Payload)
	if title := strings.TrimSpace(o.msg.Title); title != "" {
		rm.title = title
	}
	rm.dirty = true
	for _, m := range rm.order {
		m.emit(EventLoadDocument, LoadPayload{Content: rm.log.Clone(), Title: rm.title})
	}

	logrus.WithFields(logrus.Fields{
		"document_id": rm.id,
		"entries":     len(rm.log),
		"users":       len(rm.order),
	}).Info("Room snapshot replaced")
	return rm.flush(flushStrict)
}
