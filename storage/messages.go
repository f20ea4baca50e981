package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertMessage inserts one direct message row and returns its assigned ID.
func (s *Store) InsertMessage(message Message) (int64, error) {
	if message.Sender == "" {
		return 0, errors.New("sender is required")
	}
	if message.Recipient == "" {
		return 0, errors.New("recipient is required")
	}
	if len(message.Envelope) == 0 {
		return 0, errors.New("envelope is required")
	}
	if message.CreatedAt == "" {
		message.CreatedAt = nowTimestamp()
	}

	res, err := s.db.Exec(
		`INSERT INTO messages (sender, recipient, created_at, status, envelope)
		VALUES (?, ?, ?, ?, ?)`,
		message.Sender,
		message.Recipient,
		message.CreatedAt,
		nullString(message.Status),
		message.Envelope,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message from %q to %q: %w", message.Sender, message.Recipient, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted message id: %w", err)
	}

	return id, nil
}

// InsertMessages inserts several direct message rows in one transaction.
// Either all rows land or none do.
func (s *Store) InsertMessages(messages []Message) ([]int64, error) {
	if len(messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin message insert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ids := make([]int64, 0, len(messages))
	for _, message := range messages {
		if message.Sender == "" || message.Recipient == "" || len(message.Envelope) == 0 {
			return nil, errors.New("sender, recipient and envelope are required")
		}
		if message.CreatedAt == "" {
			message.CreatedAt = nowTimestamp()
		}

		res, err := tx.Exec(
			`INSERT INTO messages (sender, recipient, created_at, status, envelope)
			VALUES (?, ?, ?, ?, ?)`,
			message.Sender,
			message.Recipient,
			message.CreatedAt,
			nullString(message.Status),
			message.Envelope,
		)
		if err != nil {
			return nil, fmt.Errorf("insert message from %q to %q: %w", message.Sender, message.Recipient, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read inserted message id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message insert transaction: %w", err)
	}

	return ids, nil
}

// GetMessage fetches one direct message by ID.
func (s *Store) GetMessage(id int64) (*Message, error) {
	row := s.db.QueryRow(
		`SELECT id, sender, recipient, created_at, status, envelope
		FROM messages
		WHERE id = ?`,
		id,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return message, nil
}

// MessagesTo returns messages addressed to an identity with id > afterID,
// ascending by id. No matching rows yields an empty slice, not an error.
func (s *Store) MessagesTo(recipient string, afterID int64) ([]Message, error) {
	if recipient == "" {
		return nil, errors.New("recipient is required")
	}

	rows, err := s.db.Query(
		`SELECT id, sender, recipient, created_at, status, envelope
		FROM messages
		WHERE recipient = ? AND id > ?
		ORDER BY id ASC`,
		recipient,
		afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages to %q after id %d: %w", recipient, afterID, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Conversation returns every message exchanged between two identities,
// ascending by id. ID order is the only safe chronological order: the
// created_at strings are not guaranteed unique across senders.
func (s *Store) Conversation(a, b string) ([]Message, error) {
	if a == "" || b == "" {
		return nil, errors.New("both identities are required")
	}

	rows, err := s.db.Query(
		`SELECT id, sender, recipient, created_at, status, envelope
		FROM messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY id ASC`,
		a, b,
		b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("get conversation between %q and %q: %w", a, b, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// CountDeliveredOrRead counts messages from sender to recipient whose
// status has progressed to delivered or read.
func (s *Store) CountDeliveredOrRead(sender, recipient string) (int64, error) {
	if sender == "" || recipient == "" {
		return 0, errors.New("sender and recipient are required")
	}

	var count int64
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages
		WHERE sender = ? AND recipient = ? AND status IN (?, ?)`,
		sender,
		recipient,
		StatusDelivered,
		StatusRead,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count delivered/read from %q to %q: %w", sender, recipient, err)
	}

	return count, nil
}

// MarkDelivered advances a message's status to delivered. It is a no-op
// for messages already delivered or read; status never regresses.
func (s *Store) MarkDelivered(id int64) error {
	_, err := s.db.Exec(
		`UPDATE messages
		SET status = ?
		WHERE id = ? AND (status IS NULL OR status = ?)`,
		StatusDelivered,
		id,
		StatusSent,
	)
	if err != nil {
		return fmt.Errorf("mark message %d delivered: %w", id, err)
	}

	return nil
}

// MarkConversationRead marks every message from sender to recipient as read.
func (s *Store) MarkConversationRead(sender, recipient string) error {
	if sender == "" || recipient == "" {
		return errors.New("sender and recipient are required")
	}

	_, err := s.db.Exec(
		`UPDATE messages
		SET status = ?
		WHERE sender = ? AND recipient = ?`,
		StatusRead,
		sender,
		recipient,
	)
	if err != nil {
		return fmt.Errorf("mark conversation %q -> %q read: %w", sender, recipient, err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message Message
		status  sql.NullString
	)

	if err := row.Scan(
		&message.ID,
		&message.Sender,
		&message.Recipient,
		&message.CreatedAt,
		&status,
		&message.Envelope,
	); err != nil {
		return nil, err
	}

	message.Status = stringOrEmpty(status)
	return &message, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}
