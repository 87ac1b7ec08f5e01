package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	json "github.com/goccy/go-json"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/membership"
	"chat-server/internal/models"
	"chat-server/internal/websocket"
)

const (
	msgJoined       = "%s님이 입장하였습니다."
	msgLeft         = "%s님이 퇴장하였습니다."
	msgJoinFailed   = "채팅방 입장에 실패했습니다."
	msgSessionEnded = "다른 기기에서 로그인하여 현재 세션이 종료되었습니다."
)

func roomRequest(data json.RawMessage) (string, error) {
	req, err := decode[models.RoomRequest](data)
	if err != nil {
		return "", err
	}
	if req.RoomID == "" {
		return "", fmt.Errorf("room id is required: %w", cerrors.ErrInvalidInput)
	}
	return req.RoomID, nil
}

// handleJoinRoom reports failures through joinRoomError instead of the
// generic error event.
func (o *Orchestrator) handleJoinRoom(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	roomID, err := roomRequest(data)
	if err == nil {
		err = o.join(ctx, c, roomID)
	}
	if err == nil {
		return nil
	}

	code := cerrors.Code(err)
	message := err.Error()
	if code == cerrors.CodeInternal {
		o.log.Error("join_room_failed", "room_id", roomID, "user_id", c.UserID(), "err", err)
		message = msgJoinFailed
	}
	_ = c.Emit(models.EventJoinRoomError, models.ErrorPayload{Code: code, Message: message})
	return nil
}

func (o *Orchestrator) join(ctx context.Context, c *websocket.Client, roomID string) error {
	id := c.Identity()

	room, err := o.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, cerrors.ErrNotFound) {
			return fmt.Errorf("채팅방을 찾을 수 없습니다: %w", cerrors.ErrNotFound)
		}
		return err
	}
	if !room.IsPublic && !room.HasParticipant(id.UserID) {
		return cerrors.AccessDeniedError{Reason: "not a participant of this room"}
	}

	member, current, inRoom := o.members.Lookup(id.UserID)
	if inRoom && current == roomID && member.ConnID == c.ID() {
		return c.Emit(models.EventJoinRoomSuccess, models.JoinRoomSuccess{
			RoomID:        roomID,
			Messages:      []*models.Message{},
			ActiveStreams: []models.StreamSnapshot{},
		})
	}

	// A second connection of a user already in the room takes over the seat
	// quietly.
	rejoin := inRoom && current == roomID

	// Every step that can fail runs before the user leaves their current
	// room, so a failed join leaves them where they were.
	page, err := o.backfill.LoadLatest(ctx, roomID, id.UserID, o.batchSize)
	if err != nil {
		return err
	}
	participants, err := o.store.AddParticipant(ctx, roomID, id.UserID)
	if err != nil {
		return err
	}
	var joinMsg *models.Message
	if !rejoin {
		joinMsg = o.systemMessage(roomID, fmt.Sprintf(msgJoined, id.Name))
		if err := o.store.SaveMessage(ctx, joinMsg); err != nil {
			return err
		}
		page = withNewest(page, joinMsg, o.batchSize)
	}

	if inRoom && current != roomID {
		o.depart(ctx, c, current)
	}

	return o.hubs.Submit(ctx, roomID, func(h *websocket.Hub) {
		prev := o.members.Enter(membership.Member{UserID: id.UserID, Name: id.Name, ConnID: c.ID()}, roomID)
		if prev != "" {
			if other := o.hubs.Lookup(prev); other != nil {
				other.Remove(c)
			}
		}
		o.relay.Attach(roomID, func(active []models.StreamSnapshot) {
			h.Add(c)
			_ = c.Emit(models.EventJoinRoomSuccess, models.JoinRoomSuccess{
				RoomID:          roomID,
				Participants:    participants,
				Messages:        page.Messages,
				HasMore:         page.HasMore,
				OldestTimestamp: page.OldestTimestamp,
				ActiveStreams:   active,
			})
		})
		if joinMsg != nil {
			// The joiner already has it in the history page.
			h.BroadcastExcept(models.EventMessage, joinMsg, c)
		}
		h.Broadcast(models.EventParticipantsUpdate, models.ParticipantsUpdate{RoomID: roomID, Participants: participants})

		o.log.Info("room_joined", "room_id", roomID, "user_id", id.UserID, "messages", len(page.Messages), "has_more", page.HasMore)
	})
}

// withNewest appends msg to a chronological page, keeping at most limit
// messages.
func withNewest(page *models.Page, msg *models.Message, limit int) *models.Page {
	msgs := append(slices.Clone(page.Messages), msg)
	hasMore := page.HasMore
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
		hasMore = true
	}
	oldest := msgs[0].Timestamp
	return &models.Page{Messages: msgs, HasMore: hasMore, OldestTimestamp: &oldest}
}

// depart vacates roomID on the way to another room. The persisted
// participant set is left alone.
func (o *Orchestrator) depart(ctx context.Context, c *websocket.Client, roomID string) {
	err := o.hubs.Submit(ctx, roomID, func(h *websocket.Hub) {
		o.members.Leave(c.UserID(), roomID)
		h.Remove(c)
		h.Broadcast(models.EventUserLeft, models.UserLeft{UserID: c.UserID(), Name: c.Identity().Name})
	})
	if err != nil {
		o.log.Warn("room_depart_failed", "room_id", roomID, "user_id", c.UserID(), "err", err)
	}
}

func (o *Orchestrator) handleLeaveRoom(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	roomID, err := roomRequest(data)
	if err != nil {
		return err
	}
	id := c.Identity()
	if !o.members.IsIn(id.UserID, roomID) {
		return nil
	}

	var left bool
	err = o.hubs.Submit(ctx, roomID, func(h *websocket.Hub) {
		left = o.members.Leave(id.UserID, roomID)
		h.Remove(c)
	})
	if err != nil || !left {
		return err
	}

	o.relay.ReleaseUser(id.UserID, roomID)
	o.backfill.Forget(roomID, id.UserID)
	o.games.EndNumberGames(id.UserID, roomID)

	msg := o.systemMessage(roomID, fmt.Sprintf(msgLeft, id.Name))
	if err := o.store.SaveMessage(ctx, msg); err != nil {
		return err
	}
	participants, err := o.store.RemoveParticipant(ctx, roomID, id.UserID)
	if err != nil {
		return err
	}

	o.hubs.Broadcast(roomID, models.EventMessage, msg)
	o.hubs.Broadcast(roomID, models.EventParticipantsUpdate, models.ParticipantsUpdate{RoomID: roomID, Participants: participants})
	o.log.Info("room_left", "room_id", roomID, "user_id", id.UserID)
	return nil
}

func (o *Orchestrator) systemMessage(roomID, content string) *models.Message {
	return &models.Message{
		RoomID:    roomID,
		Type:      models.MessageTypeSystem,
		Content:   content,
		Timestamp: o.now(),
		Reactions: map[string][]string{},
	}
}
