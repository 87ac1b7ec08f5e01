package relay

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-server/internal/game"
	"chat-server/internal/llm"
	"chat-server/internal/membership"
	"chat-server/internal/models"
)

type fakeProvider struct {
	chunks []string
	err    error
	// onChunk runs after each chunk is consumed, while the stream is open.
	onChunk func(i int)
	calls   int
}

func (p *fakeProvider) Stream(_ context.Context, _ llm.Request) iter.Seq2[string, error] {
	p.calls++
	return func(yield func(string, error) bool) {
		for i, c := range p.chunks {
			if !yield(c, nil) {
				return
			}
			if p.onChunk != nil {
				p.onChunk(i)
			}
		}
		if p.err != nil {
			yield("", p.err)
		}
	}
}

type event struct {
	target  string
	name    string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Broadcast(roomID, name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{roomID, name, payload})
}

func (r *recorder) EmitTo(userID, name string, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"user:" + userID, name, payload})
	return true
}

func (r *recorder) named(name string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeStore struct {
	saved []*models.Message
	err   error
}

func (s *fakeStore) SaveMessage(_ context.Context, msg *models.Message) error {
	if s.err != nil {
		return s.err
	}
	if msg.ID == "" {
		msg.ID = "msg-" + string(rune('a'+len(s.saved)))
	}
	s.saved = append(s.saved, msg)
	return nil
}

type fakeRoster map[string][]membership.Member

func (f fakeRoster) Members(roomID string) []membership.Member { return f[roomID] }

type fixedRand struct{ v int }

func (r fixedRand) IntN(n int) int { return r.v % n }

func wayne(t *testing.T) *llm.Persona {
	t.Helper()
	p, err := llm.LookupPersona("wayneAI")
	if err != nil {
		t.Fatalf("persona: %v", err)
	}
	return &p
}

func newRelay(p llm.Provider, roster fakeRoster, store *fakeStore, rec *recorder) *Relay {
	games := game.NewEngine(roster, game.WithRand(fixedRand{v: 41}))
	return New(p, games, store, rec, rec, nil)
}

func TestStreamConcatenatesChunks(t *testing.T) {
	p := &fakeProvider{chunks: []string{"Hello", ", ", "world"}}
	store := &fakeStore{}
	rec := &recorder{}
	r := newRelay(p, nil, store, rec)

	if !r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", UserName: "kim", Text: "@wayneAI hi", Persona: wayne(t)}) {
		t.Fatal("addressed line should be handled")
	}

	starts := rec.named(models.EventAIMessageStart)
	if len(starts) != 1 {
		t.Fatalf("expected one start event, got %d", len(starts))
	}
	messageID := starts[0].payload.(models.AIMessageStart).MessageID
	if !strings.HasPrefix(messageID, "wayneAI-") {
		t.Fatalf("unexpected message id %q", messageID)
	}

	chunks := rec.named(models.EventAIMessageChunk)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunk events, got %d", len(chunks))
	}
	last := chunks[2].payload.(models.AIMessageChunk)
	if last.FullContent != "Hello, world" || last.CurrentChunk != "world" {
		t.Fatalf("unexpected last chunk %+v", last)
	}

	if len(store.saved) != 1 {
		t.Fatalf("expected one persisted message, got %d", len(store.saved))
	}
	saved := store.saved[0]
	if saved.ID != messageID || saved.Content != "Hello, world" || saved.Type != models.MessageTypeAI || saved.AIType != "wayneAI" {
		t.Fatalf("unexpected saved message %+v", saved)
	}
	if saved.Metadata["query"] != "hi" {
		t.Fatalf("query should be the prompt without mentions, got %v", saved.Metadata["query"])
	}

	completes := rec.named(models.EventAIMessageComplete)
	if len(completes) != 1 || completes[0].payload.(models.AIMessageComplete).Content != "Hello, world" {
		t.Fatalf("unexpected complete events %v", completes)
	}
	if r.sessions.count() != 0 {
		t.Fatal("session should be gone after completion")
	}
}

func TestStreamTogglesCodeBlock(t *testing.T) {
	p := &fakeProvider{chunks: []string{"see:\n```go\n", "x := 1\n", "```\n", "done"}}
	rec := &recorder{}
	r := newRelay(p, nil, &fakeStore{}, rec)

	r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", Text: "@wayneAI code", Persona: wayne(t)})

	want := []bool{true, true, false, false}
	chunks := rec.named(models.EventAIMessageChunk)
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, ev := range chunks {
		if got := ev.payload.(models.AIMessageChunk).IsCodeBlock; got != want[i] {
			t.Errorf("chunk %d isCodeBlock = %v, want %v", i, got, want[i])
		}
	}
}

func TestActiveStreamsVisibleWhileGenerating(t *testing.T) {
	var (
		r        *Relay
		midway   []models.StreamSnapshot
		elsewise []models.StreamSnapshot
	)
	p := &fakeProvider{chunks: []string{"part one ", "part two"}}
	p.onChunk = func(i int) {
		if i == 0 {
			midway = r.ActiveStreams("r1")
			elsewise = r.ActiveStreams("r2")
		}
	}
	r = newRelay(p, nil, &fakeStore{}, &recorder{})

	r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", Text: "@wayneAI go", Persona: wayne(t)})

	if len(midway) != 1 {
		t.Fatalf("expected one active stream, got %d", len(midway))
	}
	if midway[0].Content != "part one " || !midway[0].IsStreaming || midway[0].AIType != "wayneAI" {
		t.Fatalf("unexpected snapshot %+v", midway[0])
	}
	if elsewise == nil || len(elsewise) != 0 {
		t.Fatalf("other rooms should see an empty list, got %v", elsewise)
	}
	if got := r.ActiveStreams("r1"); len(got) != 0 {
		t.Fatalf("stream should be gone after completion, got %v", got)
	}
}

func TestAttachHoldsStreamEvents(t *testing.T) {
	paused, resume := make(chan struct{}), make(chan struct{})
	p := &fakeProvider{chunks: []string{"a", "b", "c"}}
	p.onChunk = func(i int) {
		if i == 0 {
			close(paused)
			<-resume
		}
	}
	rec := &recorder{}
	r := newRelay(p, nil, &fakeStore{}, rec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", Text: "@wayneAI go", Persona: wayne(t)})
	}()
	<-paused

	entered, release := make(chan []models.StreamSnapshot), make(chan struct{})
	go r.Attach("r1", func(active []models.StreamSnapshot) {
		entered <- active
		<-release
	})
	active := <-entered
	close(resume)

	time.Sleep(20 * time.Millisecond)
	if got := len(rec.named(models.EventAIMessageChunk)); got != 1 {
		t.Fatalf("no chunk may go out while a subscriber attaches, got %d", got)
	}
	close(release)
	<-done

	if len(active) != 1 || active[0].Content != "a" {
		t.Fatalf("unexpected snapshot %+v", active)
	}
	chunks := rec.named(models.EventAIMessageChunk)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if got := active[0].Content + chunks[1].payload.(models.AIMessageChunk).CurrentChunk + chunks[2].payload.(models.AIMessageChunk).CurrentChunk; got != "abc" {
		t.Fatalf("snapshot plus later chunks = %q", got)
	}
}

func TestStreamErrorPersistsNothing(t *testing.T) {
	p := &fakeProvider{chunks: []string{"partial"}, err: errors.New("quota exceeded")}
	store := &fakeStore{}
	rec := &recorder{}
	r := newRelay(p, nil, store, rec)

	r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", Text: "@wayneAI hi", Persona: wayne(t)})

	if len(store.saved) != 0 {
		t.Fatalf("failed stream must not persist, got %v", store.saved)
	}
	errs := rec.named(models.EventAIMessageError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	if len(rec.named(models.EventAIMessageComplete)) != 0 {
		t.Fatal("no complete event after an error")
	}
	if r.sessions.count() != 0 {
		t.Fatal("session should be removed on error")
	}
}

func TestSaveFailureEndsWithError(t *testing.T) {
	p := &fakeProvider{chunks: []string{"ok"}}
	rec := &recorder{}
	r := newRelay(p, nil, &fakeStore{err: errors.New("db down")}, rec)

	r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", Text: "@wayneAI hi", Persona: wayne(t)})

	if len(rec.named(models.EventAIMessageError)) != 1 || len(rec.named(models.EventAIMessageComplete)) != 0 {
		t.Fatal("save failure should surface as an error event")
	}
}

func TestGameLineSkipsProvider(t *testing.T) {
	p := &fakeProvider{chunks: []string{"should not stream"}}
	store := &fakeStore{}
	rec := &recorder{}
	r := newRelay(p, nil, store, rec)

	if !r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", UserName: "kim", Text: "@wayneAI 업다운 하자", Persona: wayne(t)}) {
		t.Fatal("game start should be handled")
	}
	if p.calls != 0 {
		t.Fatal("provider must not be called for game lines")
	}
	if len(store.saved) != 1 || store.saved[0].AIType != "wayneAI" {
		t.Fatalf("expected one persona game message, got %v", store.saved)
	}
	states := rec.named(models.EventGameStateUpdate)
	if len(states) != 1 || states[0].target != "user:u1" {
		t.Fatalf("number state should go to the player only, got %v", states)
	}

	// Guesses are plain lines and still reach the game.
	if !r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", UserName: "kim", Text: "42"}) {
		t.Fatal("guess should be handled")
	}
	if got := store.saved[len(store.saved)-1]; got.Type != models.MessageTypeSystem {
		t.Fatalf("unaddressed game reply should be a system message, got %s", got.Type)
	}
}

func TestPlainChatIsNotHandled(t *testing.T) {
	p := &fakeProvider{}
	rec := &recorder{}
	r := newRelay(p, nil, &fakeStore{}, rec)

	if r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", Text: "안녕하세요"}) {
		t.Fatal("plain chat should fall through")
	}
	if p.calls != 0 || len(rec.events) != 0 {
		t.Fatal("nothing should be emitted for plain chat")
	}
}

func TestMafiaStartDeliversPrivateRoles(t *testing.T) {
	roster := fakeRoster{"r1": {
		{UserID: "a", Name: "alice"},
		{UserID: "b", Name: "bob"},
		{UserID: "c", Name: "carol"},
	}}
	rec := &recorder{}
	r := newRelay(&fakeProvider{}, roster, &fakeStore{}, rec)

	r.Handle(context.Background(), Request{RoomID: "r1", UserID: "a", UserName: "alice", Text: "마피아"})

	private := rec.named(models.EventPrivateMessage)
	if len(private) != 3 {
		t.Fatalf("each player should get a role message, got %d", len(private))
	}
	targets := map[string]bool{}
	for _, ev := range private {
		targets[ev.target] = true
		if pm := ev.payload.(models.PrivateMessage); pm.GameType != "mafia" || pm.From != "system" {
			t.Fatalf("unexpected private payload %+v", pm)
		}
	}
	for _, id := range []string{"a", "b", "c"} {
		if !targets["user:"+id] {
			t.Errorf("missing role message for %s", id)
		}
	}
	states := rec.named(models.EventMafiaGameStateUpdate)
	if len(states) != 1 || states[0].target != "r1" {
		t.Fatalf("mafia state should be broadcast to the room, got %v", states)
	}
}

func TestReleaseUserDropsPlaceholders(t *testing.T) {
	var r *Relay
	var released int
	p := &fakeProvider{chunks: []string{"a", "b"}}
	p.onChunk = func(i int) {
		if i == 0 {
			released = r.ReleaseUser("u1", "r1")
		}
	}
	r = newRelay(p, nil, &fakeStore{}, &recorder{})

	r.Handle(context.Background(), Request{RoomID: "r1", UserID: "u1", Text: "@wayneAI hi", Persona: wayne(t)})

	if released != 1 {
		t.Fatalf("expected one released placeholder, got %d", released)
	}
}
