package chat

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/llm"
	"chat-server/internal/models"
	"chat-server/internal/relay"
	"chat-server/internal/websocket"
)

func (o *Orchestrator) requireParticipant(ctx context.Context, roomID, userID string) error {
	ok, err := o.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return cerrors.AccessDeniedError{Reason: "채팅방 접근 권한이 없습니다."}
	}
	return nil
}

func (o *Orchestrator) handleFetchPrevious(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	req, err := decode[models.FetchPreviousMessagesRequest](data)
	if err != nil {
		return err
	}
	if req.RoomID == "" {
		return fmt.Errorf("room id is required: %w", cerrors.ErrInvalidInput)
	}
	if err := o.requireParticipant(ctx, req.RoomID, c.UserID()); err != nil {
		return err
	}

	_ = c.Emit(models.EventMessageLoadStart, models.RoomRequest{RoomID: req.RoomID})
	page, err := o.backfill.LoadPage(ctx, req.RoomID, c.UserID(), req.Before, o.batchSize)
	if err != nil {
		return err
	}
	o.log.Debug("previous_messages_loaded", "room_id", req.RoomID, "user_id", c.UserID(), "count", len(page.Messages), "has_more", page.HasMore)
	return c.Emit(models.EventPreviousMessagesLoaded, page)
}

// handleChatMessage persists and broadcasts a message, then offers it to the
// games and any mentioned assistants. A message that fails to persist is
// never broadcast.
func (o *Orchestrator) handleChatMessage(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	req, err := decode[models.ChatMessageRequest](data)
	if err != nil {
		return err
	}
	if req.Room == "" {
		return fmt.Errorf("room is required: %w", cerrors.ErrInvalidInput)
	}
	id := c.Identity()
	if err := o.requireParticipant(ctx, req.Room, id.UserID); err != nil {
		return err
	}
	if err := o.sessions.TouchSession(ctx, id.UserID, id.SessionID); err != nil {
		return err
	}

	msg, err := o.buildMessage(ctx, id, req)
	if err != nil || msg == nil {
		return err
	}
	if err := o.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	o.hubs.Broadcast(req.Room, models.EventMessage, msg)

	if msg.Type == models.MessageTypeText {
		o.routeText(ctx, id, msg)
	}
	return nil
}

func (o *Orchestrator) buildMessage(ctx context.Context, id models.Identity, req models.ChatMessageRequest) (*models.Message, error) {
	msg := &models.Message{
		RoomID:    req.Room,
		SenderID:  id.UserID,
		Sender:    &models.User{ID: id.UserID, Name: id.Name, Email: id.Email},
		Timestamp: o.now(),
		Reactions: map[string][]string{},
	}

	switch req.Type {
	case models.MessageTypeText, "":
		content := strings.TrimSpace(req.Content)
		if content == "" {
			return nil, nil
		}
		msg.Type = models.MessageTypeText
		msg.Content = content
	case models.MessageTypeFile:
		if req.FileData == nil || req.FileData.ID == "" {
			return nil, fmt.Errorf("file data is required: %w", cerrors.ErrInvalidInput)
		}
		file, err := o.store.GetFileForUser(ctx, req.FileData.ID, id.UserID)
		if err != nil {
			return nil, err
		}
		msg.Type = models.MessageTypeFile
		msg.Content = req.Content
		msg.File = file
		msg.Metadata = map[string]any{
			"fileType":     file.MimeType,
			"fileSize":     file.Size,
			"originalName": file.OriginalName,
		}
	default:
		return nil, fmt.Errorf("unsupported message type %q: %w", req.Type, cerrors.ErrInvalidInput)
	}
	return msg, nil
}

// routeText offers a text message to the games, then streams one reply per
// mentioned assistant. Game input is handled inline so a player's lines are
// answered in order; streams run in the background.
func (o *Orchestrator) routeText(ctx context.Context, id models.Identity, msg *models.Message) {
	req := relay.Request{
		RoomID:   msg.RoomID,
		UserID:   id.UserID,
		UserName: id.Name,
		Text:     msg.Content,
	}
	personas := llm.ExtractMentions(msg.Content)
	if len(personas) > 0 {
		req.Persona = &personas[0]
	}
	if o.relay.TryGame(ctx, req) || len(personas) == 0 {
		return
	}

	o.streams.Add(1)
	go func() {
		defer o.streams.Done()
		for _, p := range personas {
			r := req
			r.Persona = &p
			o.relay.Stream(ctx, r)
		}
	}()
}

func (o *Orchestrator) handleMarkAsRead(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	req, err := decode[models.MarkMessagesAsReadRequest](data)
	if err != nil {
		return err
	}
	if req.RoomID == "" {
		return fmt.Errorf("room id is required: %w", cerrors.ErrInvalidInput)
	}
	if len(req.MessageIDs) == 0 {
		return nil
	}
	if err := o.store.MarkAsRead(ctx, req.RoomID, c.UserID(), req.MessageIDs); err != nil {
		return err
	}
	if hub := o.hubs.Lookup(req.RoomID); hub != nil {
		hub.BroadcastExcept(models.EventMessagesRead, models.MessagesRead{UserID: c.UserID(), MessageIDs: req.MessageIDs}, c)
	}
	return nil
}

func (o *Orchestrator) handleReaction(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	req, err := decode[models.MessageReactionRequest](data)
	if err != nil {
		return err
	}
	if req.MessageID == "" || req.Reaction == "" {
		return fmt.Errorf("message id and reaction are required: %w", cerrors.ErrInvalidInput)
	}
	if req.Type != models.ReactionAdd && req.Type != models.ReactionRemove {
		return fmt.Errorf("unsupported reaction type %q: %w", req.Type, cerrors.ErrInvalidInput)
	}

	msg, err := o.store.UpdateReaction(ctx, req.MessageID, req.Reaction, c.UserID(), req.Type)
	if err != nil {
		return err
	}
	o.hubs.Broadcast(msg.RoomID, models.EventMessageReactionUpdate, models.ReactionUpdate{
		MessageID: msg.ID,
		Reactions: msg.Reactions,
	})
	return nil
}
