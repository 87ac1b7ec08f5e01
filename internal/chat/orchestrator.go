// Package chat wires connection events to the room, backfill, game and
// streaming components.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"chat-server/internal/auth"
	"chat-server/internal/backfill"
	"chat-server/internal/database"
	cerrors "chat-server/internal/errors"
	"chat-server/internal/game"
	"chat-server/internal/membership"
	"chat-server/internal/models"
	"chat-server/internal/relay"
	"chat-server/internal/websocket"
)

// Store is the persistence the orchestrator reads and writes.
type Store interface {
	GetRoomByID(ctx context.Context, id string) (*models.Room, error)
	database.ParticipantRepository
	database.MessageRepository
	database.FileRepository
}

// Sessions re-validates live sessions on the message path.
type Sessions interface {
	TouchSession(ctx context.Context, userID, sessionID string) error
	VerifyToken(token string) (*auth.Claims, error)
}

type Deps struct {
	Store    Store
	Sessions Sessions
	Hubs     *websocket.Manager
	Registry *websocket.Registry
	Members  *membership.Tracker
	Backfill *backfill.Engine
	Games    *game.Engine
	Relay    *relay.Relay
}

type Orchestrator struct {
	store    Store
	sessions Sessions
	hubs     *websocket.Manager
	registry *websocket.Registry
	members  *membership.Tracker
	backfill *backfill.Engine
	games    *game.Engine
	relay    *relay.Relay

	batchSize int
	log       *slog.Logger
	now       func() time.Time

	streams sync.WaitGroup
}

var _ websocket.Handler = (*Orchestrator)(nil)

func New(d Deps, batchSize int, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:     d.Store,
		sessions:  d.Sessions,
		hubs:      d.Hubs,
		registry:  d.Registry,
		members:   d.Members,
		backfill:  d.Backfill,
		games:     d.Games,
		relay:     d.Relay,
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// HandleEvent dispatches one inbound event. Failures are reported to the
// sender only; a panic is logged and surfaced as a generic error.
func (o *Orchestrator) HandleEvent(ctx context.Context, c *websocket.Client, env models.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("event_panic", "event", env.Event, "user_id", c.UserID(), "panic", r, "stack", string(debug.Stack()))
			c.EmitError(fmt.Errorf("handle %s: panic: %v", env.Event, r))
		}
	}()

	var err error
	switch env.Event {
	case models.EventJoinRoom:
		err = o.handleJoinRoom(ctx, c, env.Data)
	case models.EventLeaveRoom:
		err = o.handleLeaveRoom(ctx, c, env.Data)
	case models.EventFetchPreviousMessages:
		err = o.handleFetchPrevious(ctx, c, env.Data)
	case models.EventChatMessage:
		err = o.handleChatMessage(ctx, c, env.Data)
	case models.EventMarkMessagesAsRead:
		err = o.handleMarkAsRead(ctx, c, env.Data)
	case models.EventMessageReaction:
		err = o.handleReaction(ctx, c, env.Data)
	case models.EventForceLogin:
		err = o.handleForceLogin(c, env.Data)
	default:
		err = fmt.Errorf("unknown event %q: %w", env.Event, cerrors.ErrInvalidInput)
	}
	if err != nil {
		o.log.Debug("event_failed", "event", env.Event, "user_id", c.UserID(), "err", err)
		c.EmitError(err)
	}
}

// HandleDisconnect cleans up after a closed connection. State owned by the
// user is only dropped when c was still their live connection; streams
// already running keep going. Release only succeeds while c still owns the
// seat, so a replacement connection that already rejoined the room
// suppresses userLeft.
func (o *Orchestrator) HandleDisconnect(c *websocket.Client, reason string) {
	live := o.registry.Detach(c)
	rooms := o.hubs.RemoveClient(c)

	roomID, released := o.members.Release(c.UserID(), c.ID())
	if released {
		o.hubs.Broadcast(roomID, models.EventUserLeft, models.UserLeft{
			UserID: c.UserID(),
			Name:   c.Identity().Name,
		})
	}
	if live {
		o.backfill.Forget("", c.UserID())
		o.games.EndNumberGames(c.UserID(), "")
	}

	o.log.Info("client_disconnected",
		"user_id", c.UserID(),
		"conn_id", c.ID(),
		"reason", reason,
		"last_room", roomID,
		"subscribed", rooms,
	)
}

func (o *Orchestrator) handleForceLogin(c *websocket.Client, data json.RawMessage) error {
	req, err := decode[models.ForceLoginRequest](data)
	if err != nil {
		return err
	}
	claims, err := o.sessions.VerifyToken(req.Token)
	if err != nil {
		return err
	}
	if claims.Subject != c.UserID() {
		return cerrors.AuthError{Kind: cerrors.AuthInvalid, Err: fmt.Errorf("token subject does not match connection")}
	}

	_ = c.Emit(models.EventSessionEnded, models.SessionEnded{
		Reason:  websocket.ReasonForceLogout,
		Message: msgSessionEnded,
	})
	c.Close(websocket.ReasonForceLogout)
	return nil
}

// Wait blocks until every background stream has finished.
func (o *Orchestrator) Wait() {
	o.streams.Wait()
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("missing payload: %w", cerrors.ErrInvalidInput)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode payload: %v: %w", err, cerrors.ErrInvalidInput)
	}
	return v, nil
}
