package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

const messageColumns = `seq, conversation_id, COALESCE(msg_id, ''), COALESCE(client_id, ''),
	sender_id, content, created_at, is_read, delivery, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var (
		m         Message
		createdAt int64
		delivery  string
	)
	err := r.Scan(&m.Seq, &m.ConversationID, &m.ID, &m.ClientID,
		&m.SenderID, &m.Content, &createdAt, &m.IsRead, &delivery, &m.ErrorMessage)
	if err != nil {
		return Message{}, err
	}
	m.CreatedAt = time.UnixMilli(createdAt)
	m.Delivery = DeliveryState(delivery)
	return m, nil
}

// UpsertMessage stores an acknowledged message. Rows are matched by server id
// first, then by client id; a match is never attempted on content or time.
func (db *DB) UpsertMessage(m *Message) (UpsertResult, error) {
	if m.ID == "" {
		return 0, errors.New("upsert message: missing server id")
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := upsertMessageTx(tx, m)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return res, nil
}

func upsertMessageTx(tx *sql.Tx, m *Message) (UpsertResult, error) {
	delivery := m.Delivery
	if delivery == "" {
		delivery = Sent
	}

	var seq int64
	err := tx.QueryRow(`SELECT seq FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		m.ConversationID, m.ID).Scan(&seq)
	switch {
	case err == nil:
		// A local row for the same client id is the same message; fold it in
		// before the client id moves onto the acknowledged row.
		if m.ClientID != "" {
			if _, err := tx.Exec(`DELETE FROM messages WHERE client_id = ? AND msg_id IS NULL`, m.ClientID); err != nil {
				return 0, fmt.Errorf("fold local message: %w", err)
			}
		}
		if _, err := tx.Exec(`
			UPDATE messages SET
				content = ?,
				sender_id = CASE WHEN ? != '' THEN ? ELSE sender_id END,
				client_id = COALESCE(client_id, ?),
				is_read = MAX(is_read, ?),
				delivery = ?,
				error_message = ''
			WHERE seq = ?`,
			m.Content, m.SenderID, m.SenderID, nullString(m.ClientID), m.IsRead, delivery, seq); err != nil {
			return 0, fmt.Errorf("update message: %w", err)
		}
		return Updated, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("lookup message: %w", err)
	}

	if m.ClientID != "" {
		err := tx.QueryRow(`SELECT seq FROM messages WHERE client_id = ? AND msg_id IS NULL`, m.ClientID).Scan(&seq)
		switch {
		case err == nil:
			if _, err := tx.Exec(`
				UPDATE messages SET
					msg_id = ?,
					conversation_id = ?,
					sender_id = CASE WHEN ? != '' THEN ? ELSE sender_id END,
					content = ?,
					created_at = ?,
					is_read = MAX(is_read, ?),
					delivery = ?,
					error_message = ''
				WHERE seq = ?`,
				m.ID, m.ConversationID, m.SenderID, m.SenderID, m.Content, m.CreatedAt.UnixMilli(), m.IsRead, delivery, seq); err != nil {
				return 0, fmt.Errorf("replace local message: %w", err)
			}
			return Replaced, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("lookup local message: %w", err)
		}
	}

	clientID := nullString(m.ClientID)
	if m.ClientID != "" {
		// The client id may already belong to a row acknowledged under another
		// server id; the unique index keeps it there.
		var taken int
		err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE client_id = ?`, m.ClientID).Scan(&taken)
		if err != nil {
			return 0, fmt.Errorf("lookup client id: %w", err)
		}
		if taken > 0 {
			clientID = nil
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (conversation_id, msg_id, client_id, sender_id, content, created_at, is_read, delivery)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ID, clientID, m.SenderID, m.Content, m.CreatedAt.UnixMilli(), m.IsRead, delivery); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return Inserted, nil
}

// InsertLocal stores a message that has no server id yet.
func (db *DB) InsertLocal(m *Message) error {
	if m.ClientID == "" {
		return errors.New("insert local message: missing client id")
	}
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, client_id, sender_id, content, created_at, delivery, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ClientID, m.SenderID, m.Content, m.CreatedAt.UnixMilli(), m.Delivery, m.ErrorMessage)
	return err
}

// SetLocalDelivery changes the delivery state of a message not yet
// acknowledged. It reports whether such a row existed.
func (db *DB) SetLocalDelivery(clientID string, state DeliveryState, errMsg string) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET delivery = ?, error_message = ? WHERE client_id = ? AND msg_id IS NULL`,
		state, errMsg, clientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteFailed removes a failed local message. Acknowledged messages are
// never deleted.
func (db *DB) DeleteFailed(clientID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE client_id = ? AND msg_id IS NULL AND delivery = ?`, clientID, Failed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetByClientID returns the message composed with clientID, or nil.
func (db *DB) GetByClientID(clientID string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE client_id = ?`, clientID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns a conversation's messages in ascending creation order.
// Ties keep arrival order.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ReplaceMessages makes msgs the acknowledged content of a conversation.
// Local rows (pending or failed) survive so composed text is never lost, and
// so do acknowledged rows newer than the page, which arrived live while the
// page was in flight.
func (db *DB) ReplaceMessages(conversationID string, msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var newest int64 = math.MaxInt64
	if len(msgs) > 0 {
		newest = 0
		for _, m := range msgs {
			newest = max(newest, m.CreatedAt.UnixMilli())
		}
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id IS NOT NULL AND created_at <= ?`,
		conversationID, newest); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for _, m := range msgs {
		if _, err := upsertMessageTx(tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// HistoryOverlap reports whether the conversation holds acknowledged rows and
// whether any of msgs is already among them.
func (db *DB) HistoryOverlap(conversationID string, msgs []*Message) (stored, overlap bool, err error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND msg_id IS NOT NULL`,
		conversationID).Scan(&n); err != nil {
		return false, false, err
	}
	if n == 0 {
		return false, false, nil
	}
	for _, m := range msgs {
		var one int
		err := db.QueryRow(`SELECT 1 FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, m.ID).Scan(&one)
		switch {
		case err == nil:
			return true, true, nil
		case !errors.Is(err, sql.ErrNoRows):
			return true, false, err
		}
	}
	return true, false, nil
}

// MergeMessages upserts a batch of acknowledged messages in one transaction.
func (db *DB) MergeMessages(msgs []*Message) (inserted int, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		res, err := upsertMessageTx(tx, m)
		if err != nil {
			return 0, err
		}
		if res == Inserted {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}
	return inserted, nil
}

// MarkConversationRead flags every message of a conversation as read.
func (db *DB) MarkConversationRead(conversationID string) (int64, error) {
	res, err := db.Exec(`UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND is_read = 0`, conversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
