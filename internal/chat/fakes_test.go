package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"chat-server/internal/auth"
	"chat-server/internal/backfill"
	cerrors "chat-server/internal/errors"
	"chat-server/internal/game"
	"chat-server/internal/llm"
	"chat-server/internal/membership"
	"chat-server/internal/models"
	"chat-server/internal/relay"
	"chat-server/internal/websocket"
)

type fakeStore struct {
	mu           sync.Mutex
	rooms        map[string]*models.Room
	users        map[string]*models.User
	participants map[string][]string
	messages     []*models.Message
	files        map[string]*models.File
	saveErr      error
	loadErr      error
	panicOnRoom  bool
	seq          int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:        make(map[string]*models.Room),
		users:        make(map[string]*models.User),
		participants: make(map[string][]string),
		files:        make(map[string]*models.File),
	}
}

func (s *fakeStore) addRoom(id string, public bool, participants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[id] = &models.Room{ID: id, Name: id, IsPublic: public}
	s.participants[id] = participants
}

func (s *fakeStore) seedMessage(roomID, content string, at time.Time) *models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := &models.Message{
		ID:        fmt.Sprintf("seed-%d", s.seq),
		RoomID:    roomID,
		Type:      models.MessageTypeText,
		Content:   content,
		Timestamp: at,
		Reactions: map[string][]string{},
	}
	s.messages = append(s.messages, msg)
	return msg
}

func (s *fakeStore) saved(roomID string, typ models.MessageType) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.messages {
		if m.RoomID == roomID && m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeStore) usersLocked(roomID string) []*models.User {
	var out []*models.User
	for _, id := range s.participants[roomID] {
		u, ok := s.users[id]
		if !ok {
			u = &models.User{ID: id, Name: id}
		}
		out = append(out, u)
	}
	return out
}

func (s *fakeStore) GetRoomByID(_ context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnRoom {
		panic("room lookup exploded")
	}
	room, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, cerrors.ErrNotFound)
	}
	cp := *room
	cp.Participants = s.usersLocked(id)
	return &cp, nil
}

func (s *fakeStore) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.participants[roomID], userID), nil
}

func (s *fakeStore) AddParticipant(_ context.Context, roomID, userID string) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.participants[roomID], userID) {
		s.participants[roomID] = append(s.participants[roomID], userID)
	}
	return s.usersLocked(roomID), nil
}

func (s *fakeStore) RemoveParticipant(_ context.Context, roomID, userID string) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[roomID] = slices.DeleteFunc(s.participants[roomID], func(id string) bool { return id == userID })
	return s.usersLocked(roomID), nil
}

func (s *fakeStore) ListParticipants(_ context.Context, roomID string) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usersLocked(roomID), nil
}

func (s *fakeStore) SaveMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.seq++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("m-%d", s.seq)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) GetMessageByID(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, cerrors.ErrNotFound)
}

func (s *fakeStore) LoadMessagesBefore(_ context.Context, roomID string, before *time.Time, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []*models.Message
	for _, m := range s.messages {
		if m.RoomID == roomID && (before == nil || m.Timestamp.Before(*before)) {
			cp := *m
			cp.Readers = slices.Clone(m.Readers)
			cp.Reactions = maps.Clone(m.Reactions)
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.Message) int { return b.Timestamp.Compare(a.Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MarkAsRead(_ context.Context, _ string, userID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if slices.Contains(messageIDs, m.ID) && !m.HasReader(userID) {
			m.Readers = append(m.Readers, models.Reader{UserID: userID, ReadAt: time.Now()})
		}
	}
	return nil
}

func (s *fakeStore) UpdateReaction(_ context.Context, messageID, reaction, userID string, op models.ReactionOp) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID != messageID {
			continue
		}
		switch op {
		case models.ReactionAdd:
			m.AddReaction(reaction, userID)
		case models.ReactionRemove:
			m.RemoveReaction(reaction, userID)
		}
		return m, nil
	}
	return nil, fmt.Errorf("message %s: %w", messageID, cerrors.ErrNotFound)
}

func (s *fakeStore) GetFileForUser(_ context.Context, fileID, userID string) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok || f.UserID != userID {
		return nil, cerrors.AccessDeniedError{Reason: "file not found"}
	}
	return f, nil
}

type fakeSessions struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (f *fakeSessions) revoke(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[userID] = true
}

func (f *fakeSessions) TouchSession(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[userID] {
		return cerrors.AuthError{Kind: cerrors.AuthRevoked}
	}
	return nil
}

func (f *fakeSessions) VerifyToken(token string) (*auth.Claims, error) {
	var userID string
	if _, err := fmt.Sscanf(token, "token-%s", &userID); err != nil {
		return nil, cerrors.AuthError{Kind: cerrors.AuthInvalid, Err: err}
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}, nil
}

type fakeProvider struct {
	mu      sync.Mutex
	chunks  []string
	prompts []string
}

func (p *fakeProvider) Stream(_ context.Context, req llm.Request) iter.Seq2[string, error] {
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Persona.ID+":"+req.Prompt)
	chunks := slices.Clone(p.chunks)
	p.mu.Unlock()

	return func(yield func(string, error) bool) {
		if len(chunks) == 0 {
			yield("", errors.New("no chunks configured"))
			return
		}
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type fixedRand struct{ v int }

func (r fixedRand) IntN(n int) int { return r.v % n }

type harness struct {
	o        *Orchestrator
	store    *fakeStore
	sessions *fakeSessions
	provider *fakeProvider
	hubs     *websocket.Manager
	registry *websocket.Registry
	members  *membership.Tracker
	games    *game.Engine
	backfill *backfill.Engine
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	return newHarnessWith(t, backfill.Options{BatchSize: batchSize, LoadTimeout: time.Second})
}

func newHarnessWith(t *testing.T, opts backfill.Options) *harness {
	t.Helper()
	batchSize := opts.BatchSize
	ctx, cancel := context.WithCancel(context.Background())

	store := newFakeStore()
	sessions := &fakeSessions{revoked: make(map[string]bool)}
	provider := &fakeProvider{chunks: []string{"안녕", "하세요"}}
	hubs := websocket.NewManager(time.Hour, nil)
	go hubs.Run(ctx)
	registry := websocket.NewRegistry(nil, time.Hour, nil)
	members := membership.NewTracker()
	engine := backfill.NewEngine(store, opts, nil)
	// Targets are drawn as 1+41 = 42.
	games := game.NewEngine(members, game.WithRand(fixedRand{v: 41}))
	rl := relay.New(provider, games, store, hubs, registry, nil)

	o := New(Deps{
		Store:    store,
		Sessions: sessions,
		Hubs:     hubs,
		Registry: registry,
		Members:  members,
		Backfill: engine,
		Games:    games,
		Relay:    rl,
	}, batchSize, nil)

	t.Cleanup(func() {
		o.Wait()
		cancel()
	})
	return &harness{
		o:        o,
		store:    store,
		sessions: sessions,
		provider: provider,
		hubs:     hubs,
		registry: registry,
		members:  members,
		games:    games,
		backfill: engine,
	}
}

func (h *harness) connect(userID, name string) *websocket.Client {
	h.store.mu.Lock()
	h.store.users[userID] = &models.User{ID: userID, Name: name}
	h.store.mu.Unlock()

	c := websocket.NewClient(nil, models.Identity{UserID: userID, Name: name, SessionID: "sess-" + userID}, websocket.ClientOptions{})
	h.registry.Attach(c)
	return c
}

func (h *harness) send(t *testing.T, c *websocket.Client, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	h.o.HandleEvent(context.Background(), c, models.Envelope{Event: event, Data: data})
}

func (h *harness) join(t *testing.T, c *websocket.Client, roomID string) {
	t.Helper()
	h.send(t, c, models.EventJoinRoom, models.RoomRequest{RoomID: roomID})
	if got := named(drain(t, c), models.EventJoinRoomSuccess); len(got) != 1 {
		t.Fatalf("%s failed to join %s", c.UserID(), roomID)
	}
}

func (h *harness) say(t *testing.T, c *websocket.Client, roomID, text string) {
	t.Helper()
	h.send(t, c, models.EventChatMessage, models.ChatMessageRequest{Room: roomID, Type: models.MessageTypeText, Content: text})
}

func drain(t *testing.T, c *websocket.Client) []models.Envelope {
	t.Helper()
	var out []models.Envelope
	for {
		select {
		case frame, ok := <-c.Outgoing():
			if !ok {
				return out
			}
			var env models.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("bad frame %s: %v", frame, err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func named(envs []models.Envelope, event string) []models.Envelope {
	var out []models.Envelope
	for _, e := range envs {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func payload[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Event, err)
	}
	return v
}

func errorCode(t *testing.T, envs []models.Envelope, event string) string {
	t.Helper()
	errs := named(envs, event)
	if len(errs) != 1 {
		t.Fatalf("expected one %s event, got %d (%v)", event, len(errs), envs)
	}
	return payload[models.ErrorPayload](t, errs[0]).Code
}
