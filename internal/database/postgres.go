package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("database_connected")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func dbError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, cerrors.ErrNotFound)
	}
	return cerrors.DatabaseError{Operation: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// User Repository Implementation
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, name, email, password_hash, profile_image, created_at FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.ProfileImage, &user.CreatedAt,
	)
	if err != nil {
		return nil, dbError("get_user_by_email", err)
	}
	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	query := `
		INSERT INTO users (id, name, email, password_hash, profile_image, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at`

	err := db.pool.QueryRow(ctx, query, user.ID, user.Name, user.Email, user.PasswordHash, user.ProfileImage).Scan(&user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email already registered: %w", cerrors.ErrInvalidInput)
		}
		return dbError("create_user", err)
	}
	return nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, name, email, profile_image, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Name, &user.Email, &user.ProfileImage, &user.CreatedAt,
	)
	if err != nil {
		return nil, dbError("get_user_by_id", err)
	}
	return user, nil
}

// Room Repository Implementation
func (db *PostgresDB) CreateRoom(ctx context.Context, req *models.CreateRoomRequest, creatorID string) (*models.Room, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, dbError("create_room_begin", err)
	}
	defer tx.Rollback(ctx)

	room := &models.Room{ID: uuid.NewString(), Name: req.Name, IsPublic: req.IsPublic, CreatorID: creatorID}
	err = tx.QueryRow(ctx,
		`INSERT INTO rooms (id, name, is_public, creator_id, created_at) VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`,
		room.ID, room.Name, room.IsPublic, room.CreatorID,
	).Scan(&room.CreatedAt)
	if err != nil {
		return nil, dbError("create_room", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)`, room.ID, creatorID); err != nil {
		return nil, dbError("create_room_participant", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, dbError("create_room_commit", err)
	}

	room.Participants, err = db.ListParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (db *PostgresDB) GetRoomByID(ctx context.Context, id string) (*models.Room, error) {
	query := `SELECT id, name, is_public, creator_id, created_at FROM rooms WHERE id = $1`

	room := &models.Room{}
	err := db.pool.QueryRow(ctx, query, id).Scan(&room.ID, &room.Name, &room.IsPublic, &room.CreatorID, &room.CreatedAt)
	if err != nil {
		return nil, dbError("get_room", err)
	}

	room.Participants, err = db.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (db *PostgresDB) ListUserRooms(ctx context.Context, userID string) ([]*models.Room, error) {
	query := `
		SELECT r.id, r.name, r.is_public, r.creator_id, r.created_at
		FROM rooms r
		LEFT JOIN room_participants p ON r.id = p.room_id AND p.user_id = $1
		WHERE r.is_public = true OR p.user_id IS NOT NULL
		ORDER BY r.created_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, dbError("list_rooms", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		if err := rows.Scan(&room.ID, &room.Name, &room.IsPublic, &room.CreatorID, &room.CreatedAt); err != nil {
			return nil, dbError("list_rooms_scan", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list_rooms_rows", err)
	}
	return rooms, nil
}

func (db *PostgresDB) DeleteRoom(ctx context.Context, roomID, requesterID string) error {
	var creatorID string
	err := db.pool.QueryRow(ctx, "SELECT creator_id FROM rooms WHERE id = $1", roomID).Scan(&creatorID)
	if err != nil {
		return dbError("delete_room_lookup", err)
	}
	if creatorID != requesterID {
		return cerrors.AccessDeniedError{Reason: "not the room creator"}
	}

	// participants, messages and reads cascade
	if _, err := db.pool.Exec(ctx, "DELETE FROM rooms WHERE id = $1", roomID); err != nil {
		return dbError("delete_room", err)
	}
	return nil
}

// Participant Repository Implementation
func (db *PostgresDB) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id = $1 AND user_id = $2)`

	var exists bool
	if err := db.pool.QueryRow(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, dbError("is_participant", err)
	}
	return exists, nil
}

func (db *PostgresDB) AddParticipant(ctx context.Context, roomID, userID string) ([]*models.User, error) {
	query := `
		INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING`

	if _, err := db.pool.Exec(ctx, query, roomID, userID); err != nil {
		return nil, dbError("add_participant", err)
	}
	return db.ListParticipants(ctx, roomID)
}

func (db *PostgresDB) RemoveParticipant(ctx context.Context, roomID, userID string) ([]*models.User, error) {
	if _, err := db.pool.Exec(ctx, `DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID); err != nil {
		return nil, dbError("remove_participant", err)
	}
	return db.ListParticipants(ctx, roomID)
}

func (db *PostgresDB) ListParticipants(ctx context.Context, roomID string) ([]*models.User, error) {
	query := `
		SELECT u.id, u.name, u.email, u.profile_image
		FROM room_participants p
		JOIN users u ON p.user_id = u.id
		WHERE p.room_id = $1
		ORDER BY p.joined_at`

	rows, err := db.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, dbError("list_participants", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.ProfileImage); err != nil {
			return nil, dbError("list_participants_scan", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list_participants_rows", err)
	}
	return users, nil
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}

	metadata, err := json.Marshal(nonNilMap(msg.Metadata))
	if err != nil {
		return dbError("save_message_metadata", err)
	}
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return dbError("save_message_reactions", err)
	}

	var fileID *string
	if msg.File != nil {
		fileID = &msg.File.ID
	}
	var senderID *string
	if msg.SenderID != "" {
		senderID = &msg.SenderID
	}

	query := `
		INSERT INTO messages (id, room_id, sender_id, type, content, ai_type, file_id, metadata, reactions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = db.pool.Exec(ctx, query,
		msg.ID, msg.RoomID, senderID, string(msg.Type), msg.Content, msg.AIType, fileID, metadata, reactions, msg.Timestamp,
	)
	if err != nil {
		return dbError("save_message", err)
	}
	return nil
}

const messageSelect = `
	SELECT m.id, m.room_id, m.sender_id, COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(u.profile_image, ''),
	       m.type, m.content, m.ai_type,
	       m.file_id, COALESCE(f.filename, ''), COALESCE(f.original_name, ''), COALESCE(f.mime_type, ''), COALESCE(f.size, 0),
	       m.metadata, m.reactions, m.created_at,
	       COALESCE((SELECT json_agg(json_build_object('userId', r.user_id, 'readAt', r.read_at) ORDER BY r.read_at)
	                 FROM message_reads r WHERE r.message_id = m.id), '[]'::json)
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id
	LEFT JOIN files f ON f.id = m.file_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg                               models.Message
		senderID, fileID                  *string
		senderName, senderEmail, senderPI string
		msgType                           string
		file                              models.File
		metadata, reactions, readers      []byte
	)
	err := row.Scan(
		&msg.ID, &msg.RoomID, &senderID, &senderName, &senderEmail, &senderPI,
		&msgType, &msg.Content, &msg.AIType,
		&fileID, &file.Filename, &file.OriginalName, &file.MimeType, &file.Size,
		&metadata, &reactions, &msg.Timestamp, &readers,
	)
	if err != nil {
		return nil, err
	}

	msg.Type = models.MessageType(msgType)
	if senderID != nil {
		msg.SenderID = *senderID
		msg.Sender = &models.User{ID: *senderID, Name: senderName, Email: senderEmail, ProfileImage: senderPI}
	}
	if fileID != nil {
		file.ID = *fileID
		msg.File = &file
	}
	if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	if err := json.Unmarshal(readers, &msg.Readers); err != nil {
		return nil, fmt.Errorf("decode readers: %w", err)
	}
	return &msg, nil
}

func (db *PostgresDB) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(db.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, dbError("get_message", err)
	}
	return msg, nil
}

func (db *PostgresDB) LoadMessagesBefore(ctx context.Context, roomID string, before *time.Time, limit int) ([]*models.Message, error) {
	query := messageSelect + `
		WHERE m.room_id = $1 AND ($2::timestamptz IS NULL OR m.created_at < $2)
		ORDER BY m.created_at DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, roomID, before, limit)
	if err != nil {
		return nil, dbError("load_messages", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, dbError("load_messages_scan", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("load_messages_rows", err)
	}
	return messages, nil
}

func (db *PostgresDB) MarkAsRead(ctx context.Context, roomID, userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, NOW() FROM messages m WHERE m.room_id = $1 AND m.id = ANY($3)
		ON CONFLICT (message_id, user_id) DO NOTHING`

	if _, err := db.pool.Exec(ctx, query, roomID, userID, messageIDs); err != nil {
		return dbError("mark_as_read", err)
	}
	return nil
}

func (db *PostgresDB) UpdateReaction(ctx context.Context, messageID, reaction, userID string, op models.ReactionOp) (*models.Message, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, dbError("update_reaction_begin", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	if err := tx.QueryRow(ctx, `SELECT reactions FROM messages WHERE id = $1 FOR UPDATE`, messageID).Scan(&raw); err != nil {
		return nil, dbError("update_reaction_lock", err)
	}

	msg := &models.Message{ID: messageID}
	if err := json.Unmarshal(raw, &msg.Reactions); err != nil {
		return nil, dbError("update_reaction_decode", err)
	}
	switch op {
	case models.ReactionAdd:
		msg.AddReaction(reaction, userID)
	case models.ReactionRemove:
		msg.RemoveReaction(reaction, userID)
	default:
		return nil, fmt.Errorf("unsupported reaction op %q: %w", op, cerrors.ErrInvalidInput)
	}

	encoded, err := json.Marshal(nonNilReactions(msg.Reactions))
	if err != nil {
		return nil, dbError("update_reaction_encode", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE messages SET reactions = $2 WHERE id = $1`, messageID, encoded); err != nil {
		return nil, dbError("update_reaction", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, dbError("update_reaction_commit", err)
	}
	return db.GetMessageByID(ctx, messageID)
}

// File Repository Implementation
func (db *PostgresDB) GetFileForUser(ctx context.Context, fileID, userID string) (*models.File, error) {
	query := `SELECT id, user_id, filename, original_name, mime_type, size, created_at FROM files WHERE id = $1 AND user_id = $2`

	f := &models.File{}
	err := db.pool.QueryRow(ctx, query, fileID, userID).Scan(&f.ID, &f.UserID, &f.Filename, &f.OriginalName, &f.MimeType, &f.Size, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cerrors.AccessDeniedError{Reason: "file not found or not owned by user"}
		}
		return nil, dbError("get_file", err)
	}
	return f, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilReactions(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}
