package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"groupchat/internal/errs"
	"groupchat/internal/mocks"
	"groupchat/internal/model"
	"groupchat/internal/moderation"
	"groupchat/internal/presence"
	"groupchat/internal/store"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// recordingPeer keeps every frame it is given. A full peer rejects frames
// the way a saturated send queue does.
type recordingPeer struct {
	id string

	mu     sync.Mutex
	frames []received
	full   bool
}

func newRecordingPeer() *recordingPeer {
	return &recordingPeer{id: uuid.NewString()}
}

func (p *recordingPeer) ID() string { return p.id }

func (p *recordingPeer) Enqueue(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return errs.ErrTransport
	}
	var r received
	if err := json.Unmarshal(frame, &r); err != nil {
		return err
	}
	p.frames = append(p.frames, r)
	return nil
}

func (p *recordingPeer) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f.Type)
	}
	return out
}

func (p *recordingPeer) ofType(typ string) []received {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []received
	for _, f := range p.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (p *recordingPeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

type recordingCleaner struct {
	mu   sync.Mutex
	refs []string
}

func (c *recordingCleaner) Cleanup(_ context.Context, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append(c.refs, ref)
	return nil
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	s, err := store.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, s, presence.NewRegistry(), opts)
}

func login(t *testing.T, e *Engine, username string) (*Session, *recordingPeer) {
	t.Helper()
	peer := newRecordingPeer()
	s := e.Connect(peer)
	require.NoError(t, e.Handle(context.Background(), s, Login{Username: username}))
	return s, peer
}

func decodeData[T any](t *testing.T, r received) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func TestEngine_LoginSendsSnapshotThenPresence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	alice, _ := login(t, e, "alice")
	_, err := e.Post(ctx, "alice", Send{Text: "hello"})
	req.NoError(err)
	req.Equal(StateAuthenticated, alice.State())

	_, bob := login(t, e, "  bob  ")

	req.Equal([]string{model.TypeLoginSuccess, model.TypeInitialMessages, model.TypeOnlineUsers}, bob.types())
	success := decodeData[model.LoginPayload](t, bob.ofType(model.TypeLoginSuccess)[0])
	req.Equal("bob", success.Username)

	snapshot := decodeData[[]model.Message](t, bob.ofType(model.TypeInitialMessages)[0])
	req.Len(snapshot, 1)
	req.Equal("hello", snapshot[0].Text)
	req.Equal("alice", snapshot[0].Username)

	online := decodeData[[]string](t, bob.ofType(model.TypeOnlineUsers)[0])
	req.Equal([]string{"alice", "bob"}, online)
	req.Equal([]string{"alice", "bob"}, e.Online())
}

func TestEngine_LoginRejectsBlankUsername(t *testing.T) {
	req := require.New(t)
	e := newTestEngine(t, Options{})
	peer := newRecordingPeer()
	s := e.Connect(peer)

	err := e.Handle(context.Background(), s, Login{Username: "   "})

	req.ErrorIs(err, errs.ErrValidation)
	req.Equal(StateUnauthenticated, s.State())
	req.Empty(peer.types())
	req.Empty(e.Online())
}

func TestEngine_SendBroadcastsSameMessageToEveryone(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	alice, alicePeer := login(t, e, "alice")
	_, bobPeer := login(t, e, "bob")
	alicePeer.reset()
	bobPeer.reset()

	// The author comes from the session, never from the payload.
	req.NoError(e.Handle(ctx, alice, Send{Username: "mallory", Text: "hi"}))

	fromAlice := alicePeer.ofType(model.TypeNewMessage)
	fromBob := bobPeer.ofType(model.TypeNewMessage)
	req.Len(fromAlice, 1)
	req.Len(fromBob, 1)

	a := decodeData[model.Message](t, fromAlice[0])
	b := decodeData[model.Message](t, fromBob[0])
	req.Equal(a.ID, b.ID)
	req.Equal("alice", a.Username)
	req.Equal("hi", a.Text)
	req.False(a.Edited)

	messages, err := e.Messages(ctx)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal(a.ID, messages[0].ID)
}

func TestEngine_ActionsBeforeLoginAreRejected(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	_, watcher := login(t, e, "watcher")
	watcher.reset()

	s := e.Connect(newRecordingPeer())

	req.ErrorIs(e.Handle(ctx, s, Send{Text: "hi"}), errs.ErrNotAuthenticated)
	req.ErrorIs(e.Handle(ctx, s, Edit{MessageID: 1, Text: "x"}), errs.ErrNotAuthenticated)
	req.ErrorIs(e.Handle(ctx, s, Delete{MessageID: 1}), errs.ErrNotAuthenticated)
	req.Empty(watcher.types())

	messages, err := e.Messages(ctx)
	req.NoError(err)
	req.Empty(messages)
}

func TestEngine_EditBroadcastsUpdatedMessage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	alice, alicePeer := login(t, e, "alice")

	msg, err := e.Post(ctx, "alice", Send{Text: "first"})
	req.NoError(err)
	alicePeer.reset()

	req.NoError(e.Handle(ctx, alice, Edit{MessageID: msg.ID, Text: "second"}))

	updates := alicePeer.ofType(model.TypeMessageUpdated)
	req.Len(updates, 1)
	updated := decodeData[model.Message](t, updates[0])
	req.Equal(msg.ID, updated.ID)
	req.Equal("second", updated.Text)
	req.True(updated.Edited)
	req.True(msg.CreatedAt.Equal(updated.CreatedAt))
}

func TestEngine_EditUnknownMessageIsNotBroadcast(t *testing.T) {
	req := require.New(t)
	e := newTestEngine(t, Options{})
	alice, alicePeer := login(t, e, "alice")
	alicePeer.reset()

	err := e.Handle(context.Background(), alice, Edit{MessageID: 42, Text: "nope"})

	req.ErrorIs(err, errs.ErrNotFound)
	req.Empty(alicePeer.types())
}

func TestEngine_DeleteTwiceBroadcastsOnce(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	alice, alicePeer := login(t, e, "alice")
	_, bobPeer := login(t, e, "bob")

	msg, err := e.Post(ctx, "alice", Send{Text: "bye"})
	req.NoError(err)
	alicePeer.reset()
	bobPeer.reset()

	req.NoError(e.Handle(ctx, alice, Delete{MessageID: msg.ID}))
	req.ErrorIs(e.Handle(ctx, alice, Delete{MessageID: msg.ID}), errs.ErrNotFound)

	deleted := bobPeer.ofType(model.TypeMessageDeleted)
	req.Len(deleted, 1)
	req.Equal(msg.ID, decodeData[model.DeletedPayload](t, deleted[0]).ID)
	req.Len(alicePeer.ofType(model.TypeMessageDeleted), 1)

	messages, err := e.Messages(ctx)
	req.NoError(err)
	req.Empty(messages)
}

func TestEngine_DeleteCleansUpAttachment(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	cleaner := &recordingCleaner{}
	e := newTestEngine(t, Options{Cleaner: cleaner})
	alice, _ := login(t, e, "alice")

	withFile, err := e.Post(ctx, "alice", Send{FileURL: "/uploads/cat.png"})
	req.NoError(err)
	plain, err := e.Post(ctx, "alice", Send{Text: "no file"})
	req.NoError(err)

	req.NoError(e.Handle(ctx, alice, Delete{MessageID: withFile.ID}))
	_, err = e.Delete(ctx, Delete{MessageID: plain.ID})
	req.NoError(err)

	req.Equal([]string{"/uploads/cat.png"}, cleaner.refs)
}

func TestEngine_DeleteKeepsSharedAttachment(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	cleaner := &recordingCleaner{}
	e := newTestEngine(t, Options{Cleaner: cleaner})

	first, err := e.Post(ctx, "alice", Send{FileURL: "/uploads/shared.png"})
	req.NoError(err)
	second, err := e.Post(ctx, "bob", Send{Text: "me too", FileURL: "http://chat.local/uploads/shared.png"})
	req.NoError(err)

	_, err = e.Delete(ctx, Delete{MessageID: first.ID})
	req.NoError(err)
	req.Empty(cleaner.refs)

	_, err = e.Delete(ctx, Delete{MessageID: second.ID})
	req.NoError(err)
	req.Equal([]string{"http://chat.local/uploads/shared.png"}, cleaner.refs)
}

func TestEngine_DeleteKeepsAvatarAttachment(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	cleaner := &recordingCleaner{}
	e := newTestEngine(t, Options{Cleaner: cleaner})

	_, err := e.users.SaveUser(ctx, model.User{Username: "alice", ProfileURL: "/uploads/alice.png"})
	req.NoError(err)
	bob, _ := login(t, e, "bob")

	msg, err := e.Post(ctx, "bob", Send{FileURL: "/uploads/alice.png"})
	req.NoError(err)
	req.NoError(e.Handle(ctx, bob, Delete{MessageID: msg.ID}))

	req.Empty(cleaner.refs)
}

func TestEngine_DisconnectRemovesPresence(t *testing.T) {
	req := require.New(t)
	e := newTestEngine(t, Options{})
	alice, _ := login(t, e, "alice")
	_, bobPeer := login(t, e, "bob")
	bobPeer.reset()

	e.Disconnect(alice)
	e.Disconnect(alice)

	req.Equal(StateClosed, alice.State())
	req.Equal([]string{"bob"}, e.Online())
	req.Equal(1, e.OnlineCount())
	presenceFrames := bobPeer.ofType(model.TypeOnlineUsers)
	req.Len(presenceFrames, 1)
	req.Equal([]string{"bob"}, decodeData[[]string](t, presenceFrames[0]))

	req.ErrorIs(e.Handle(context.Background(), alice, Send{Text: "late"}), errs.ErrSessionClosed)
	req.ErrorIs(e.Handle(context.Background(), alice, Login{Username: "alice"}), errs.ErrSessionClosed)
}

func TestEngine_LogoutClosesSession(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	alice, _ := login(t, e, "alice")

	req.NoError(e.Handle(ctx, alice, Logout{}))
	req.Equal(StateClosed, alice.State())
	req.Empty(e.Online())
	req.ErrorIs(e.Handle(ctx, alice, Logout{}), errs.ErrSessionClosed)
}

func TestEngine_StaleDisconnectKeepsNewerSession(t *testing.T) {
	req := require.New(t)
	e := newTestEngine(t, Options{})
	first, _ := login(t, e, "alice")
	_, second := login(t, e, "alice")
	second.reset()

	e.Disconnect(first)

	req.Equal([]string{"alice"}, e.Online())
	req.Equal(1, e.OnlineCount())
	req.Empty(second.ofType(model.TypeOnlineUsers))
}

func TestEngine_ReloginUnderNewNameDropsOldIdentity(t *testing.T) {
	req := require.New(t)
	e := newTestEngine(t, Options{})
	s, _ := login(t, e, "alice")

	req.NoError(e.Handle(context.Background(), s, Login{Username: "alicia"}))

	req.Equal("alicia", s.Identity())
	req.Equal([]string{"alicia"}, e.Online())
}

func TestEngine_FullPeerIsSkipped(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	_, slow := login(t, e, "slow")
	alice, fast := login(t, e, "alice")
	slow.reset()
	fast.reset()

	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	req.NoError(e.Handle(ctx, alice, Send{Text: "still delivered"}))

	req.Len(fast.ofType(model.TypeNewMessage), 1)
	req.Empty(slow.types())
	req.Equal([]string{"alice", "slow"}, e.Online())
}

func TestEngine_CensorsText(t *testing.T) {
	req := require.New(t)
	censor, err := moderation.NewCensor([]string{"darn"}, '*')
	req.NoError(err)
	e := newTestEngine(t, Options{Censor: censor})
	alice, peer := login(t, e, "alice")
	peer.reset()

	req.NoError(e.Handle(context.Background(), alice, Send{Text: "well darn it"}))

	msg := decodeData[model.Message](t, peer.ofType(model.TypeNewMessage)[0])
	req.Equal("well **** it", msg.Text)
}

func TestEngine_ConcurrentSendsAreSeenInOneOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	const writers, perWriter = 4, 25
	sessions := make([]*Session, writers)
	peers := make([]*recordingPeer, writers)
	for i := range writers {
		sessions[i], peers[i] = login(t, e, uuid.NewString())
	}
	for _, p := range peers {
		p.reset()
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for range perWriter {
				if err := e.Handle(ctx, s, Send{Text: "spam"}); err != nil {
					t.Error(err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	ids := func(p *recordingPeer) []int64 {
		var out []int64
		for _, f := range p.ofType(model.TypeNewMessage) {
			out = append(out, decodeData[model.Message](t, f).ID)
		}
		return out
	}
	reference := ids(peers[0])
	req.Len(reference, writers*perWriter)
	req.IsIncreasing(reference)
	for _, p := range peers[1:] {
		req.Equal(reference, ids(p))
	}
}

func TestEngine_PersistenceFailureIsNotBroadcast(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	messages := mocks.NewMockMessageStore(ctrl)
	users := mocks.NewMockUserStore(ctrl)
	e := New(messages, users, presence.NewRegistry(), Options{})

	users.EXPECT().TouchUser(gomock.Any(), "alice").Return(model.User{Username: "alice"}, nil)
	messages.EXPECT().List(gomock.Any()).Return([]model.Message{}, nil)
	peer := newRecordingPeer()
	s := e.Connect(peer)
	req.NoError(e.Handle(ctx, s, Login{Username: "alice"}))
	peer.reset()

	diskFull := errors.New("disk full")
	messages.EXPECT().Append(gomock.Any(), gomock.Any()).
		Return(model.Message{}, errs.ErrPersistence).
		Times(1)
	messages.EXPECT().Update(gomock.Any(), int64(7), "x").
		Return(model.Message{}, diskFull).
		Times(1)

	req.ErrorIs(e.Handle(ctx, s, Send{Text: "lost"}), errs.ErrPersistence)
	req.ErrorIs(e.Handle(ctx, s, Edit{MessageID: 7, Text: "x"}), diskFull)
	req.Empty(peer.types())
}

func TestEngine_LoginFailsWhenSnapshotFails(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	messages := mocks.NewMockMessageStore(ctrl)
	users := mocks.NewMockUserStore(ctrl)
	e := New(messages, users, presence.NewRegistry(), Options{})

	users.EXPECT().TouchUser(gomock.Any(), "alice").Return(model.User{Username: "alice"}, nil)
	messages.EXPECT().List(gomock.Any()).Return(nil, errs.ErrPersistence)

	peer := newRecordingPeer()
	s := e.Connect(peer)

	req.ErrorIs(e.Handle(context.Background(), s, Login{Username: "alice"}), errs.ErrPersistence)
	req.Equal(StateUnauthenticated, s.State())
	req.Empty(e.Online())
	req.Empty(peer.types())
}

func TestEngine_SearchWithoutIndex(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, err := e.Search(context.Background(), "hello", 10)
	require.ErrorIs(t, err, ErrSearchDisabled)
}

func TestEngine_LoginDuringSendsSeesEveryMessage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	const sends, logins = 300, 30
	peers := make([]*recordingPeer, logins)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range sends {
			if _, err := e.Post(ctx, "writer", Send{Text: "tick"}); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := range logins {
			peer := newRecordingPeer()
			if err := e.Handle(ctx, e.Connect(peer), Login{Username: uuid.NewString()}); err != nil {
				t.Error(err)
				return
			}
			peers[i] = peer
		}
	}()
	wg.Wait()

	stored, err := e.Messages(ctx)
	req.NoError(err)
	req.Len(stored, sends)
	want := make([]int64, 0, len(stored))
	for _, msg := range stored {
		want = append(want, msg.ID)
	}

	for _, peer := range peers {
		req.NotNil(peer)
		var seen []int64
		for _, msg := range decodeData[[]model.Message](t, peer.ofType(model.TypeInitialMessages)[0]) {
			seen = append(seen, msg.ID)
		}
		for _, f := range peer.ofType(model.TypeNewMessage) {
			seen = append(seen, decodeData[model.Message](t, f).ID)
		}
		// Snapshot then broadcasts: every id exactly once, in log order.
		req.Equal(want, seen)
	}
}

func TestEngine_PanickingStoreReleasesLock(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	messages := mocks.NewMockMessageStore(ctrl)
	users := mocks.NewMockUserStore(ctrl)
	e := New(messages, users, presence.NewRegistry(), Options{})

	messages.EXPECT().Remove(gomock.Any(), int64(1)).DoAndReturn(
		func(context.Context, int64) (model.Message, error) {
			panic("backend exploded")
		}).Times(2)
	messages.EXPECT().List(gomock.Any()).Return([]model.Message{}, nil)

	s := e.Connect(newRecordingPeer())
	s.set(StateAuthenticated, "alice")

	req.Panics(func() { _ = e.Handle(ctx, s, Delete{MessageID: 1}) })
	req.Panics(func() { _, _ = e.Delete(ctx, Delete{MessageID: 1}) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Messages(ctx)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("engine lock still held after a panic")
	}
}
