package storage

import (
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// StatusSent is the initial status of an outbound message.
	StatusSent = "sent"
	// StatusDelivered means the recipient's client has fetched the message.
	StatusDelivered = "delivered"
	// StatusRead means the recipient has opened the conversation.
	StatusRead = "read"
)

// TimestampLayout is the wall-clock format of created_at columns.
const TimestampLayout = "2006-01-02 15:04:05"

// Message is one row of the messages table. Status is the raw stored
// string; an empty string means the column is NULL. ID is assigned by
// SQLite and strictly increasing in insertion order.
type Message struct {
	ID        int64
	Sender    string
	Recipient string
	CreatedAt string
	Status    string
	Envelope  []byte
}

// GroupMessage is one row of the group_messages table. Group messages
// carry no per-recipient status.
type GroupMessage struct {
	ID        int64
	GroupID   int64
	Sender    string
	CreatedAt string
	Envelope  []byte
}

// Group is the stored metadata of one group.
type Group struct {
	ID          int64
	Name        string
	Description string
	Creator     string
	CreatedAt   string
}

// Contact maps an identity to its published public keys (base64).
type Contact struct {
	Identity           string
	SigningPublicKey   string
	AgreementPublicKey string
	AddedAt            string
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func stringOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// Now renders the current wall-clock time in TimestampLayout. Callers
// inserting several rows that must share one timestamp capture it once.
func Now() string {
	return time.Now().Format(TimestampLayout)
}

func nowTimestamp() string {
	return Now()
}
