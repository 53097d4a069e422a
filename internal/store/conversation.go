package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `id, display_name, avatar, counterpart_id, counterpart_role,
	last_message_preview, last_message_at, unread_count`

func scanConversation(r rowScanner) (Conversation, error) {
	var (
		c      Conversation
		lastAt int64
		unread int64
	)
	err := r.Scan(&c.ID, &c.DisplayName, &c.Avatar, &c.CounterpartID, &c.CounterpartRole,
		&c.LastMessagePreview, &lastAt, &unread)
	if err != nil {
		return Conversation{}, err
	}
	if lastAt > 0 {
		c.LastMessageTime = time.UnixMilli(lastAt)
	}
	c.UnreadCount = uint(max(unread, 0))
	return c, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// UpsertConversation inserts or overwrites a conversation row.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, display_name, avatar, counterpart_id, counterpart_role,
			last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar = excluded.avatar,
			counterpart_id = excluded.counterpart_id,
			counterpart_role = excluded.counterpart_role,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.DisplayName, c.Avatar, c.CounterpartID, c.CounterpartRole,
		c.LastMessagePreview, unixMilli(c.LastMessageTime), c.UnreadCount, now)
	return err
}

// InsertConversationIfAbsent inserts c unless a row with the same id exists.
// It reports whether a row was inserted.
func (db *DB) InsertConversationIfAbsent(c *Conversation) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO conversations (id, display_name, avatar, counterpart_id, counterpart_role,
			last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		c.ID, c.DisplayName, c.Avatar, c.CounterpartID, c.CounterpartRole,
		c.LastMessagePreview, unixMilli(c.LastMessageTime), c.UnreadCount, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetConversation returns a conversation by id, or nil if unknown.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns conversations, most recent activity first.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`SELECT ` + conversationColumns + `
		FROM conversations
		ORDER BY last_message_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ApplyMessage folds a message into its conversation summary. The preview only
// moves forward in time; unread grows by incrementUnread. It reports whether
// the conversation exists.
func (db *DB) ApplyMessage(conversationID, preview string, at time.Time, incrementUnread uint) (bool, error) {
	ts := unixMilli(at)
	res, err := db.Exec(`
		UPDATE conversations SET
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			last_message_at = MAX(last_message_at, ?),
			unread_count = unread_count + ?,
			updated_at = ?
		WHERE id = ?`,
		ts, preview, ts, incrementUnread, time.Now().UnixMilli(), conversationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ApplyMessageOnce is ApplyMessage for a message with a server id. A msgID
// already applied to the conversation changes nothing and reports applied
// false; found reports whether the conversation exists.
func (db *DB) ApplyMessageOnce(conversationID, msgID, preview string, at time.Time, incrementUnread uint) (found, applied bool, err error) {
	tx, err := db.Begin()
	if err != nil {
		return false, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	switch err := tx.QueryRow(`SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one); {
	case errors.Is(err, sql.ErrNoRows):
		return false, false, nil
	case err != nil:
		return false, false, err
	}

	res, err := tx.Exec(`INSERT OR IGNORE INTO applied_messages (conversation_id, msg_id) VALUES (?, ?)`, conversationID, msgID)
	if err != nil {
		return true, false, fmt.Errorf("record applied message: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return true, false, err
	}

	ts := unixMilli(at)
	if _, err := tx.Exec(`
		UPDATE conversations SET
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			last_message_at = MAX(last_message_at, ?),
			unread_count = unread_count + ?,
			updated_at = ?
		WHERE id = ?`,
		ts, preview, ts, incrementUnread, time.Now().UnixMilli(), conversationID); err != nil {
		return true, false, err
	}
	if err := tx.Commit(); err != nil {
		return true, false, fmt.Errorf("commit apply: %w", err)
	}
	return true, true, nil
}

// ResetUnread zeroes the unread counter. It reports whether the conversation
// exists.
func (db *DB) ResetUnread(conversationID string) (bool, error) {
	res, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), conversationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountConversations returns the number of known conversations.
func (db *DB) CountConversations() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

// TotalUnread sums unread counters across conversations.
func (db *DB) TotalUnread() (uint, error) {
	var n int64
	err := db.QueryRow(`SELECT COALESCE(SUM(unread_count), 0) FROM conversations`).Scan(&n)
	return uint(max(n, 0)), err
}
