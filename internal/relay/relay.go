// Package relay turns chat lines addressed to an assistant into room events:
// game responses when a game claims the line, otherwise a streamed reply from
// the text provider.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/game"
	"chat-server/internal/llm"
	"chat-server/internal/models"
)

const codeFence = "```"

type Broadcaster interface {
	Broadcast(roomID, event string, payload any)
}

type DirectSender interface {
	EmitTo(userID, event string, payload any) bool
}

type MessageSaver interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
}

type GameHandler interface {
	TryHandle(in game.Input) game.Result
}

// Request is one chat line offered to the relay. Persona is nil for lines
// that mention no assistant; those only reach the games.
type Request struct {
	RoomID   string
	UserID   string
	UserName string
	Text     string
	Persona  *llm.Persona
}

type Relay struct {
	provider llm.Provider
	games    GameHandler
	store    MessageSaver
	rooms    Broadcaster
	direct   DirectSender
	log      *slog.Logger
	now      func() time.Time

	sessions *sessionStore
	// publishMu pairs each session change with its broadcast so Attach never
	// observes one without the other.
	publishMu sync.Mutex
}

func New(provider llm.Provider, games GameHandler, store MessageSaver, rooms Broadcaster, direct DirectSender, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		provider: provider,
		games:    games,
		store:    store,
		rooms:    rooms,
		direct:   direct,
		log:      log,
		now:      time.Now,
		sessions: newSessionStore(),
	}
}

// Handle offers req to the games first and streams a reply only when no game
// claims it. It reports whether anything was produced.
func (r *Relay) Handle(ctx context.Context, req Request) bool {
	if r.TryGame(ctx, req) {
		return true
	}
	if req.Persona == nil {
		return false
	}
	r.Stream(ctx, req)
	return true
}

func prompt(req Request) string {
	if req.Persona == nil {
		return req.Text
	}
	return llm.StripMentions(req.Text)
}

// TryGame delivers the games' answer to req and reports whether a game
// claimed the line.
func (r *Relay) TryGame(ctx context.Context, req Request) bool {
	res := r.games.TryHandle(game.Input{
		UserID:    req.UserID,
		UserName:  req.UserName,
		RoomID:    req.RoomID,
		Text:      prompt(req),
		Addressed: req.Persona != nil,
	})
	if !res.Handled {
		return false
	}
	r.deliverGameResult(ctx, req, res)
	return true
}

// Stream generates a reply from req.Persona and relays it to the room. It
// blocks until the terminal event has been broadcast.
func (r *Relay) Stream(ctx context.Context, req Request) {
	if req.Persona == nil {
		return
	}
	r.stream(ctx, req, *req.Persona, prompt(req))
}

func (r *Relay) deliverGameResult(ctx context.Context, req Request, res game.Result) {
	msgType, aiType := models.MessageTypeSystem, ""
	if req.Persona != nil {
		msgType, aiType = models.MessageTypeAI, req.Persona.ID
	}

	for _, content := range res.Responses {
		msg := &models.Message{
			RoomID:    req.RoomID,
			Type:      msgType,
			AIType:    aiType,
			Content:   content,
			Timestamp: r.now(),
			Reactions: map[string][]string{},
			Metadata:  map[string]any{"game": true, "query": req.Text},
		}
		if err := r.store.SaveMessage(ctx, msg); err != nil {
			r.log.Error("game_message_save_failed", "room_id", req.RoomID, "err", err)
			continue
		}
		r.rooms.Broadcast(req.RoomID, models.EventMessage, msg)
	}

	for _, pm := range res.Private {
		r.direct.EmitTo(pm.UserID, models.EventPrivateMessage, models.PrivateMessage{
			From:      "system",
			GameType:  "mafia",
			Content:   pm.Content,
			Timestamp: r.now(),
		})
	}
	if res.NumberState != nil {
		r.direct.EmitTo(req.UserID, models.EventGameStateUpdate, models.GameStateUpdate{RoomID: req.RoomID, GameState: res.NumberState})
	}
	if res.MafiaState != nil {
		r.rooms.Broadcast(req.RoomID, models.EventMafiaGameStateUpdate, models.GameStateUpdate{RoomID: req.RoomID, GameState: res.MafiaState})
	}
}

func (r *Relay) stream(ctx context.Context, req Request, persona llm.Persona, query string) {
	started := r.now()
	messageID := persona.ID + "-" + uuid.NewString()
	r.publish(func() {
		r.sessions.put(&StreamingSession{
			MessageID:   messageID,
			RoomID:      req.RoomID,
			RequestedBy: req.UserID,
			AIType:      persona.ID,
			Timestamp:   started,
			LastUpdate:  started,
		})
		r.rooms.Broadcast(req.RoomID, models.EventAIMessageStart, models.AIMessageStart{
			MessageID: messageID,
			AIType:    persona.ID,
			Timestamp: started,
		})
	})
	defer r.sessions.remove(messageID)

	var (
		full        strings.Builder
		isCodeBlock bool
	)
	for chunk, err := range r.provider.Stream(ctx, llm.Request{Persona: persona, Prompt: query}) {
		if err != nil {
			r.fail(req.RoomID, persona.ID, cerrors.StreamError{MessageID: messageID, Err: err})
			return
		}
		if chunk == "" {
			continue
		}
		if strings.Contains(chunk, codeFence) {
			isCodeBlock = !isCodeBlock
		}
		full.WriteString(chunk)
		now := r.now()
		r.publish(func() {
			r.sessions.appendChunk(messageID, chunk, now)
			r.rooms.Broadcast(req.RoomID, models.EventAIMessageChunk, models.AIMessageChunk{
				MessageID:    messageID,
				CurrentChunk: chunk,
				FullContent:  full.String(),
				IsCodeBlock:  isCodeBlock,
				AIType:       persona.ID,
				Timestamp:    now,
			})
		})
	}
	if err := ctx.Err(); err != nil {
		r.fail(req.RoomID, persona.ID, cerrors.StreamError{MessageID: messageID, Err: err})
		return
	}

	finished := r.now()
	msg := &models.Message{
		ID:        messageID,
		RoomID:    req.RoomID,
		Type:      models.MessageTypeAI,
		AIType:    persona.ID,
		Content:   full.String(),
		Timestamp: finished,
		Reactions: map[string][]string{},
		Metadata: map[string]any{
			"query":          query,
			"generationTime": finished.Sub(started).Milliseconds(),
		},
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		r.fail(req.RoomID, persona.ID, cerrors.StreamError{MessageID: messageID, Err: err})
		return
	}
	r.publish(func() {
		r.sessions.remove(messageID)
		r.rooms.Broadcast(req.RoomID, models.EventAIMessageComplete, models.AIMessageComplete{
			MessageID:  messageID,
			Message:    msg,
			Content:    msg.Content,
			AIType:     persona.ID,
			Query:      query,
			Timestamp:  finished,
			IsComplete: true,
		})
	})
	r.log.Info("ai_stream_complete", "room_id", req.RoomID, "message_id", messageID, "persona", persona.ID, "duration", finished.Sub(started))
}

// fail tears the session down before the error event goes out.
func (r *Relay) fail(roomID, aiType string, err cerrors.StreamError) {
	r.log.Error("ai_stream_error", "room_id", roomID, "message_id", err.MessageID, "err", err.Err)
	r.publish(func() {
		r.sessions.remove(err.MessageID)
		r.rooms.Broadcast(roomID, models.EventAIMessageError, models.AIMessageError{
			MessageID: err.MessageID,
			Error:     "AI 응답 생성 중 오류가 발생했습니다.",
			AIType:    aiType,
		})
	})
}

func (r *Relay) publish(fn func()) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	fn()
}

// ActiveStreams returns the in-progress replies of a room for late joiners.
func (r *Relay) ActiveStreams(roomID string) []models.StreamSnapshot {
	return r.sessions.snapshot(roomID)
}

// Attach hands subscribe the room's in-progress replies. No stream event goes
// out while subscribe runs, so a subscriber added there receives every later
// chunk once and none already in its snapshot.
func (r *Relay) Attach(roomID string, subscribe func(active []models.StreamSnapshot)) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	subscribe(r.sessions.snapshot(roomID))
}

// ReleaseUser drops placeholders the user requested in roomID, or in every
// room when roomID is empty. Generation itself keeps running.
func (r *Relay) ReleaseUser(userID, roomID string) int {
	return r.sessions.releaseUser(userID, roomID)
}
