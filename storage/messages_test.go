package storage

import (
	"errors"
	"testing"
)

func TestInsertMessageAssignsIncreasingIDs(t *testing.T) {
	store := newTestStore(t)

	first := mustInsertMessage(t, store, "bob", "alice", StatusSent)
	second := mustInsertMessage(t, store, "carol", "alice", StatusSent)
	third := mustInsertMessage(t, store, "bob", "alice", "")

	if !(first < second && second < third) {
		t.Fatalf("expected strictly increasing ids, got %d, %d, %d", first, second, third)
	}

	fetched, err := store.GetMessage(third)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if fetched.Status != "" {
		t.Fatalf("expected absent status to round-trip as empty, got %q", fetched.Status)
	}
	if fetched.CreatedAt == "" {
		t.Fatalf("expected created_at to be filled in")
	}
}

func TestMessagesToReturnsOnlyNewerAscending(t *testing.T) {
	store := newTestStore(t)

	old := mustInsertMessage(t, store, "bob", "alice", StatusSent)
	mustInsertMessage(t, store, "alice", "bob", StatusSent) // outbound, not to alice
	newer := mustInsertMessage(t, store, "carol", "alice", StatusSent)
	newest := mustInsertMessage(t, store, "bob", "alice", StatusSent)

	messages, err := store.MessagesTo("alice", old)
	if err != nil {
		t.Fatalf("MessagesTo failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages after id %d, got %d", old, len(messages))
	}
	if messages[0].ID != newer || messages[1].ID != newest {
		t.Fatalf("expected ascending ids [%d %d], got [%d %d]", newer, newest, messages[0].ID, messages[1].ID)
	}

	none, err := store.MessagesTo("alice", newest)
	if err != nil {
		t.Fatalf("MessagesTo with max cursor failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no messages past id %d, got %d", newest, len(none))
	}
}

func TestConversationCoversBothDirections(t *testing.T) {
	store := newTestStore(t)

	a := mustInsertMessage(t, store, "alice", "bob", StatusSent)
	b := mustInsertMessage(t, store, "bob", "alice", StatusSent)
	mustInsertMessage(t, store, "alice", "carol", StatusSent)

	conversation, err := store.Conversation("alice", "bob")
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(conversation) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conversation))
	}
	if conversation[0].ID != a || conversation[1].ID != b {
		t.Fatalf("expected id order [%d %d], got [%d %d]", a, b, conversation[0].ID, conversation[1].ID)
	}

	empty, err := store.Conversation("alice", "nobody")
	if err != nil {
		t.Fatalf("Conversation with stranger failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty conversation, got %d messages", len(empty))
	}
}

func TestMarkDeliveredNeverRegresses(t *testing.T) {
	store := newTestStore(t)

	id := mustInsertMessage(t, store, "bob", "alice", StatusSent)

	if err := store.MarkDelivered(id); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	if err := store.MarkDelivered(id); err != nil {
		t.Fatalf("repeated MarkDelivered failed: %v", err)
	}

	if err := store.MarkConversationRead("bob", "alice"); err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}
	if err := store.MarkDelivered(id); err != nil {
		t.Fatalf("MarkDelivered after read failed: %v", err)
	}

	message, err := store.GetMessage(id)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if message.Status != StatusRead {
		t.Fatalf("expected status to stay %q, got %q", StatusRead, message.Status)
	}
}

func TestCountDeliveredOrRead(t *testing.T) {
	store := newTestStore(t)

	delivered := mustInsertMessage(t, store, "alice", "carol", StatusSent)
	mustInsertMessage(t, store, "alice", "carol", StatusSent)
	mustInsertMessage(t, store, "carol", "alice", StatusSent)

	count, err := store.CountDeliveredOrRead("alice", "carol")
	if err != nil {
		t.Fatalf("CountDeliveredOrRead failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 before delivery, got %d", count)
	}

	if err := store.MarkDelivered(delivered); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}

	count, err = store.CountDeliveredOrRead("alice", "carol")
	if err != nil {
		t.Fatalf("CountDeliveredOrRead after delivery failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 delivered message, got %d", count)
	}
}

func TestGetMessageMissingReturnsErrNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetMessage(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertMessagesIsAtomic(t *testing.T) {
	store := newTestStore(t)

	_, err := store.InsertMessages([]Message{
		{Sender: "alice", Recipient: "bob", Envelope: []byte("e1")},
		{Sender: "alice", Recipient: "", Envelope: []byte("e2")},
	})
	if err == nil {
		t.Fatalf("expected invalid batch to fail")
	}

	messages, err := store.MessagesTo("bob", 0)
	if err != nil {
		t.Fatalf("MessagesTo failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected rollback to leave no rows, got %d", len(messages))
	}

	ids, err := store.InsertMessages([]Message{
		{Sender: "alice", Recipient: "bob", Status: StatusSent, Envelope: []byte("e1")},
		{Sender: "alice", Recipient: "carol", Status: StatusSent, Envelope: []byte("e1")},
	})
	if err != nil {
		t.Fatalf("InsertMessages failed: %v", err)
	}
	if len(ids) != 2 || ids[0] >= ids[1] {
		t.Fatalf("expected 2 increasing ids, got %v", ids)
	}
}
