package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"

	"github.com/samber/lo"

	"groupchat/internal/broadcast"
	"groupchat/internal/errs"
	"groupchat/internal/model"
	"groupchat/internal/moderation"
	"groupchat/internal/presence"
	"groupchat/internal/store"
)

// ErrSearchDisabled is returned by Search when no index is configured.
var ErrSearchDisabled = errors.New("search is disabled")

// Indexer keeps a secondary full-text index in step with the log.
type Indexer interface {
	Index(msg model.Message) error
	Remove(id int64) error
	Search(ctx context.Context, query string, limit int) ([]int64, error)
}

// AttachmentCleaner is told when a deleted message referenced an upload.
type AttachmentCleaner interface {
	Cleanup(ctx context.Context, ref string) error
}

// Options are the optional collaborators of the engine.
type Options struct {
	Censor  *moderation.Censor
	Index   Indexer
	Cleaner AttachmentCleaner
}

// Engine applies client events to the message log and decides what is
// broadcast to whom.
//
// Every mutation and every read of the log runs under mu, the single
// serialization point of the server, and the resulting frames are enqueued
// before mu is released. Each connection drains its queue in order, so all
// clients observe mutations in the same order.
type Engine struct {
	mu       sync.Mutex
	messages store.MessageStore
	users    store.UserStore
	registry *presence.Registry
	fanout   *broadcast.Fanout
	censor   *moderation.Censor
	index    Indexer
	cleaner  AttachmentCleaner
}

// New creates an Engine over the given stores. registry is shared with the
// fan-out, which delivers to every identity registered in it.
func New(messages store.MessageStore, users store.UserStore, registry *presence.Registry, opts Options) *Engine {
	return &Engine{
		messages: messages,
		users:    users,
		registry: registry,
		fanout:   broadcast.New(registry),
		censor:   opts.Censor,
		index:    opts.Index,
		cleaner:  opts.Cleaner,
	}
}

// Connect opens an unauthenticated session for peer.
func (e *Engine) Connect(peer presence.Peer) *Session {
	return &Session{peer: peer, state: StateUnauthenticated}
}

// Disconnect closes s after its transport went away. It is idempotent.
func (e *Engine) Disconnect(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.close(s)
}

// Handle applies ev on behalf of s. Validation, not-found and persistence
// failures are returned to the caller and never broadcast.
func (e *Engine) Handle(ctx context.Context, s *Session, ev Event) error {
	removed, orphan, err := e.apply(ctx, s, ev)
	if err == nil && orphan != "" {
		e.cleanupAttachment(ctx, removed.ID, orphan)
	}
	return err
}

func (e *Engine) apply(ctx context.Context, s *Session, ev Event) (removed model.Message, orphan string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := ev.(type) {
	case Login:
		err = e.login(ctx, s, ev)
	case Send:
		var author string
		if author, err = s.authenticated(); err == nil {
			_, err = e.post(ctx, author, ev)
		}
	case Edit:
		if _, err = s.authenticated(); err == nil {
			_, err = e.edit(ctx, ev)
		}
	case Delete:
		if _, err = s.authenticated(); err == nil {
			removed, orphan, err = e.remove(ctx, ev)
		}
	case Logout:
		if state, _ := s.snapshot(); state == StateClosed {
			err = errs.ErrSessionClosed
		} else {
			e.close(s)
		}
	default:
		err = fmt.Errorf("%w: unsupported event %T", errs.ErrValidation, ev)
	}
	return removed, orphan, err
}

// Post appends a message authored by author. It is the HTTP counterpart of
// a Send event and broadcasts the same way.
func (e *Engine) Post(ctx context.Context, author string, ev Send) (model.Message, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return model.Message{}, fmt.Errorf("%w: username is required", errs.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.post(ctx, author, ev)
}

// Edit is the HTTP counterpart of an Edit event.
func (e *Engine) Edit(ctx context.Context, ev Edit) (model.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edit(ctx, ev)
}

// Delete is the HTTP counterpart of a Delete event.
func (e *Engine) Delete(ctx context.Context, ev Delete) (model.Message, error) {
	msg, orphan, err := func() (model.Message, string, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.remove(ctx, ev)
	}()
	if err == nil && orphan != "" {
		e.cleanupAttachment(ctx, msg.ID, orphan)
	}
	return msg, err
}

// Messages returns the current log, serialized with mutations.
func (e *Engine) Messages(ctx context.Context) ([]model.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messages.List(ctx)
}

// Online returns the identities currently registered for broadcast.
func (e *Engine) Online() []string {
	return e.registry.Identities()
}

// OnlineCount returns how many identities are currently online.
func (e *Engine) OnlineCount() int {
	return e.registry.Len()
}

// Search returns the messages whose text matches query, oldest first.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]model.Message, error) {
	if e.index == nil {
		return nil, ErrSearchDisabled
	}
	ids, err := e.index.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Message{}, nil
	}

	messages, err := e.Messages(ctx)
	if err != nil {
		return nil, err
	}
	wanted := lo.SliceToMap(ids, func(id int64) (int64, struct{}) { return id, struct{}{} })
	return lo.Filter(messages, func(msg model.Message, _ int) bool {
		_, ok := wanted[msg.ID]
		return ok
	}), nil
}

// The methods below expect e.mu to be held.

func (e *Engine) login(ctx context.Context, s *Session, ev Login) error {
	identity := strings.TrimSpace(ev.Username)
	if identity == "" {
		return fmt.Errorf("%w: username is required", errs.ErrValidation)
	}
	state, previous := s.snapshot()
	if state == StateClosed {
		return errs.ErrSessionClosed
	}

	if _, err := e.users.TouchUser(ctx, identity); err != nil {
		log.Printf("[engine] ❌ Login %q failed: %v", identity, err)
		return err
	}
	snapshot, err := e.messages.List(ctx)
	if err != nil {
		log.Printf("[engine] ❌ Snapshot for %q failed: %v", identity, err)
		return err
	}

	// No mutation can run between List and Register while mu is held, so the
	// snapshot and the broadcasts that follow it leave no gap.
	if state == StateAuthenticated && previous != identity {
		e.registry.Unregister(s.peer)
	}
	if current, ok := e.registry.Lookup(identity); ok && current.ID() != s.peer.ID() {
		log.Printf("[engine] %s logged in again, replacing connection %s", identity, current.ID())
	}
	e.registry.Register(identity, s.peer)
	s.set(StateAuthenticated, identity)

	e.send(s.peer, model.Frame{Type: model.TypeLoginSuccess, Data: model.LoginPayload{Username: identity}})
	e.send(s.peer, model.Frame{Type: model.TypeInitialMessages, Data: snapshot})
	e.broadcastPresence()

	log.Printf("[engine] ✅ %s logged in (%d messages in snapshot)", identity, len(snapshot))
	return nil
}

func (e *Engine) close(s *Session) {
	state, identity := s.snapshot()
	if state == StateClosed {
		return
	}
	s.set(StateClosed, identity)

	if e.registry.Unregister(s.peer) {
		log.Printf("[engine] %s went offline", identity)
		e.broadcastPresence()
	}
}

func (e *Engine) post(ctx context.Context, author string, ev Send) (model.Message, error) {
	candidate := model.Message{
		Username:  author,
		Text:      e.censor.Apply(ev.Text),
		FileURL:   strings.TrimSpace(ev.FileURL),
		ReplyToID: ev.ReplyToID,
	}
	msg, err := e.messages.Append(ctx, candidate)
	if err != nil {
		log.Printf("[engine] ❌ Append from %s rejected: %v", author, err)
		return model.Message{}, err
	}

	e.indexMessage(msg)
	e.fanout.Broadcast(model.Frame{Type: model.TypeNewMessage, Data: msg})
	return msg, nil
}

func (e *Engine) edit(ctx context.Context, ev Edit) (model.Message, error) {
	msg, err := e.messages.Update(ctx, ev.MessageID, e.censor.Apply(ev.Text))
	if err != nil {
		log.Printf("[engine] ❌ Edit of %d rejected: %v", ev.MessageID, err)
		return model.Message{}, err
	}

	e.indexMessage(msg)
	e.fanout.Broadcast(model.Frame{Type: model.TypeMessageUpdated, Data: msg})
	return msg, nil
}

// remove deletes a message. orphan is its attachment when no other message
// or user avatar still references it, and "" otherwise.
func (e *Engine) remove(ctx context.Context, ev Delete) (msg model.Message, orphan string, err error) {
	msg, err = e.messages.Remove(ctx, ev.MessageID)
	if err != nil {
		log.Printf("[engine] ❌ Delete of %d rejected: %v", ev.MessageID, err)
		return model.Message{}, "", err
	}

	if e.index != nil {
		if err := e.index.Remove(msg.ID); err != nil {
			log.Printf("[engine] Failed to unindex message %d: %v", msg.ID, err)
		}
	}
	e.fanout.Broadcast(model.Frame{Type: model.TypeMessageDeleted, Data: model.DeletedPayload{ID: msg.ID}})
	return msg, e.orphanedAttachment(ctx, msg), nil
}

// orphanedAttachment returns the attachment of a removed message if nothing
// else references it. When the references cannot be read the file is kept.
func (e *Engine) orphanedAttachment(ctx context.Context, removed model.Message) string {
	if e.cleaner == nil || !removed.HasAttachment() {
		return ""
	}
	ref := strings.TrimSpace(removed.FileURL)

	messages, err := e.messages.List(ctx)
	if err != nil {
		log.Printf("[engine] Keeping attachment of %d: %v", removed.ID, err)
		return ""
	}
	if lo.ContainsBy(messages, func(m model.Message) bool { return sameAttachment(m.FileURL, ref) }) {
		return ""
	}

	users, err := e.users.Users(ctx)
	if err != nil {
		log.Printf("[engine] Keeping attachment of %d: %v", removed.ID, err)
		return ""
	}
	if lo.ContainsBy(users, func(u model.User) bool { return sameAttachment(u.ProfileURL, ref) }) {
		return ""
	}
	return ref
}

// sameAttachment matches references to one stored file, whether absolute
// ("http://host/uploads/x.png") or relative ("/uploads/x.png").
func sameAttachment(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return a == b || path.Base(a) == path.Base(b)
}

func (e *Engine) indexMessage(msg model.Message) {
	if e.index == nil {
		return
	}
	if err := e.index.Index(msg); err != nil {
		log.Printf("[engine] Failed to index message %d: %v", msg.ID, err)
	}
}

func (e *Engine) broadcastPresence() {
	e.fanout.Broadcast(model.Frame{Type: model.TypeOnlineUsers, Data: e.registry.Identities()})
}

func (e *Engine) send(peer presence.Peer, frame model.Frame) {
	if err := e.fanout.Send(peer, frame); err != nil {
		log.Printf("[engine] Could not deliver %s to %s: %v", frame.Type, peer.ID(), err)
	}
}

// cleanupAttachment runs outside the critical section; a failure only leaves
// an orphaned file behind.
func (e *Engine) cleanupAttachment(ctx context.Context, id int64, ref string) {
	if err := e.cleaner.Cleanup(ctx, ref); err != nil {
		log.Printf("[engine] Failed to clean up attachment of %d: %v", id, err)
	}
}
