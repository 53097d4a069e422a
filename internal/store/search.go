package store

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages returns messages whose content contains query, newest first.
// An empty conversationID searches every loaded conversation.
func (db *DB) SearchMessages(query, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + messageColumns + `
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY created_at DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
