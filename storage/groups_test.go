package storage

import (
	"errors"
	"testing"
)

func TestCreateGroupIncludesCreatorOnce(t *testing.T) {
	store := newTestStore(t)

	groupID, err := store.CreateGroup(Group{
		Name:        "ops",
		Description: "operations chatter",
		Creator:     "alice",
	}, []string{"bob", "carol", "alice", "bob"})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	members, err := store.GroupMembers(groupID)
	if err != nil {
		t.Fatalf("GroupMembers failed: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(members) != len(want) {
		t.Fatalf("expected members %v, got %v", want, members)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Fatalf("expected members %v, got %v", want, members)
		}
	}

	group, err := store.GetGroup(groupID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if group.Name != "ops" || group.Creator != "alice" {
		t.Fatalf("unexpected group metadata: %+v", group)
	}
	if group.CreatedAt == "" {
		t.Fatalf("expected created_at to be filled in")
	}
}

func TestGroupsForReturnsMembershipsOnly(t *testing.T) {
	store := newTestStore(t)

	opsID, err := store.CreateGroup(Group{Name: "ops", Creator: "alice"}, []string{"bob"})
	if err != nil {
		t.Fatalf("CreateGroup ops failed: %v", err)
	}
	if _, err := store.CreateGroup(Group{Name: "private", Creator: "carol"}, nil); err != nil {
		t.Fatalf("CreateGroup private failed: %v", err)
	}

	groups, err := store.GroupsFor("bob")
	if err != nil {
		t.Fatalf("GroupsFor failed: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != opsID {
		t.Fatalf("expected bob in group %d only, got %+v", opsID, groups)
	}

	none, err := store.GroupsFor("mallory")
	if err != nil {
		t.Fatalf("GroupsFor stranger failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no groups for stranger, got %+v", none)
	}
}

func TestGroupMessagesRoundTrip(t *testing.T) {
	store := newTestStore(t)

	groupID, err := store.CreateGroup(Group{Name: "ops", Creator: "alice"}, []string{"bob"})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	first, err := store.InsertGroupMessage(GroupMessage{
		GroupID:  groupID,
		Sender:   "alice",
		Envelope: []byte("g1"),
	})
	if err != nil {
		t.Fatalf("InsertGroupMessage failed: %v", err)
	}
	second, err := store.InsertGroupMessage(GroupMessage{
		GroupID:  groupID,
		Sender:   "bob",
		Envelope: []byte("g2"),
	})
	if err != nil {
		t.Fatalf("InsertGroupMessage second failed: %v", err)
	}

	conversation, err := store.GroupConversation(groupID)
	if err != nil {
		t.Fatalf("GroupConversation failed: %v", err)
	}
	if len(conversation) != 2 {
		t.Fatalf("expected 2 group messages, got %d", len(conversation))
	}
	if conversation[0].ID != first || conversation[1].ID != second {
		t.Fatalf("expected id order [%d %d], got [%d %d]", first, second, conversation[0].ID, conversation[1].ID)
	}

	if _, err := store.GetGroup(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing group, got %v", err)
	}
	if _, err := store.GetGroupMessage(999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing group message, got %v", err)
	}
}
