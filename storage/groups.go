package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// CreateGroup inserts a group plus its member list and returns the group ID.
// The creator is always a member, whether or not it appears in members.
func (s *Store) CreateGroup(group Group, members []string) (int64, error) {
	if group.Name == "" {
		return 0, errors.New("group name is required")
	}
	if group.Creator == "" {
		return 0, errors.New("group creator is required")
	}
	if group.CreatedAt == "" {
		group.CreatedAt = nowTimestamp()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin group create transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.Exec(
		`INSERT INTO groups (name, description, creator, created_at)
		VALUES (?, ?, ?, ?)`,
		group.Name,
		group.Description,
		group.Creator,
		group.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert group %q: %w", group.Name, err)
	}

	groupID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted group id: %w", err)
	}

	seen := map[string]bool{}
	for _, identity := range append([]string{group.Creator}, members...) {
		if identity == "" || seen[identity] {
			continue
		}
		seen[identity] = true
		if _, err := tx.Exec(
			`INSERT INTO group_members (group_id, identity) VALUES (?, ?)`,
			groupID,
			identity,
		); err != nil {
			return 0, fmt.Errorf("insert group member %q: %w", identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit group create transaction: %w", err)
	}

	return groupID, nil
}

// GetGroup fetches group metadata by ID.
func (s *Store) GetGroup(id int64) (*Group, error) {
	var group Group
	err := s.db.QueryRow(
		`SELECT id, name, description, creator, created_at
		FROM groups
		WHERE id = ?`,
		id,
	).Scan(&group.ID, &group.Name, &group.Description, &group.Creator, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get group %d: %w", id, err)
	}

	return &group, nil
}

// GroupsFor returns every group an identity belongs to, ordered by id.
func (s *Store) GroupsFor(identity string) ([]Group, error) {
	if identity == "" {
		return nil, errors.New("identity is required")
	}

	rows, err := s.db.Query(
		`SELECT g.id, g.name, g.description, g.creator, g.created_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.identity = ?
		ORDER BY g.id ASC`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("get groups for %q: %w", identity, err)
	}
	defer rows.Close()

	groups := make([]Group, 0)
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &group.Creator, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		groups = append(groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}

	return groups, nil
}

// GroupMembers returns the member identities of a group, sorted.
func (s *Store) GroupMembers(groupID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT identity FROM group_members
		WHERE group_id = ?
		ORDER BY identity ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("get members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan group member row: %w", err)
		}
		members = append(members, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group member rows: %w", err)
	}

	return members, nil
}

// InsertGroupMessage inserts one group message row and returns its ID.
func (s *Store) InsertGroupMessage(message GroupMessage) (int64, error) {
	if message.GroupID <= 0 {
		return 0, errors.New("group id is required")
	}
	if message.Sender == "" {
		return 0, errors.New("sender is required")
	}
	if len(message.Envelope) == 0 {
		return 0, errors.New("envelope is required")
	}
	if message.CreatedAt == "" {
		message.CreatedAt = nowTimestamp()
	}

	res, err := s.db.Exec(
		`INSERT INTO group_messages (group_id, sender, created_at, envelope)
		VALUES (?, ?, ?, ?)`,
		message.GroupID,
		message.Sender,
		message.CreatedAt,
		message.Envelope,
	)
	if err != nil {
		return 0, fmt.Errorf("insert group message to group %d: %w", message.GroupID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted group message id: %w", err)
	}

	return id, nil
}

// GetGroupMessage fetches one group message by ID.
func (s *Store) GetGroupMessage(id int64) (*GroupMessage, error) {
	var message GroupMessage
	err := s.db.QueryRow(
		`SELECT id, group_id, sender, created_at, envelope
		FROM group_messages
		WHERE id = ?`,
		id,
	).Scan(&message.ID, &message.GroupID, &message.Sender, &message.CreatedAt, &message.Envelope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get group message %d: %w", id, err)
	}

	return &message, nil
}

// GroupConversation returns every message of a group, ascending by id.
func (s *Store) GroupConversation(groupID int64) ([]GroupMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, group_id, sender, created_at, envelope
		FROM group_messages
		WHERE group_id = ?
		ORDER BY id ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("get conversation of group %d: %w", groupID, err)
	}
	defer rows.Close()

	messages := make([]GroupMessage, 0)
	for rows.Next() {
		var message GroupMessage
		if err := rows.Scan(&message.ID, &message.GroupID, &message.Sender, &message.CreatedAt, &message.Envelope); err != nil {
			return nil, fmt.Errorf("scan group message row: %w", err)
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group message rows: %w", err)
	}

	return messages, nil
}
