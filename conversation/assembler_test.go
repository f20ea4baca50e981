package conversation

import (
	"errors"
	"reflect"
	"testing"

	"sealmsg/storage"
)

// fakeSource implements Source in memory with injectable failures.
type fakeSource struct {
	messages      []storage.Message
	groupMessages []storage.GroupMessage
	group         *storage.Group
	plaintexts    map[int64]string

	conversationErr error
	groupInfoErr    error
	groupMessageErr error
}

func (f *fakeSource) Conversation(contact string) ([]storage.Message, error) {
	if f.conversationErr != nil {
		return nil, f.conversationErr
	}
	return f.messages, nil
}

func (f *fakeSource) GroupConversation(groupID int64) ([]storage.GroupMessage, error) {
	if f.groupMessageErr != nil {
		return nil, f.groupMessageErr
	}
	return f.groupMessages, nil
}

func (f *fakeSource) GroupInfo(groupID int64) (*storage.Group, error) {
	if f.groupInfoErr != nil {
		return nil, f.groupInfoErr
	}
	return f.group, nil
}

func (f *fakeSource) DecryptMessage(id int64) (string, error) {
	text, ok := f.plaintexts[id]
	if !ok {
		return "", errors.New("no session key for message")
	}
	return text, nil
}

func (f *fakeSource) DecryptGroupMessage(id int64) (string, error) {
	return f.DecryptMessage(id)
}

func TestAssembleContactAttributionAndPlaceholders(t *testing.T) {
	source := &fakeSource{
		messages: []storage.Message{
			{ID: 1, Sender: "bob", Recipient: "alice", CreatedAt: "2026-08-30 09:15:00", Status: ""},
			{ID: 2, Sender: "alice", Recipient: "bob", CreatedAt: "2026-08-30 09:16:30", Status: "delivered"},
			{ID: 3, Sender: "bob", Recipient: "carol", CreatedAt: "2026-08-30 09:17:00", Status: ""},
			{ID: 4, Sender: "alice", Recipient: "bob", CreatedAt: "2026-08-30 09:18:00", Status: "read"},
		},
		plaintexts: map[int64]string{
			1: "hi alice",
			2: "hi bob",
			// 4 has no plaintext: decryption fails despite authorization.
		},
	}

	timeline, err := NewAssembler(source, "alice").Assemble(ContactTarget("bob"))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if timeline.Header != "Conversation with bob" {
		t.Fatalf("unexpected header %q", timeline.Header)
	}
	if len(timeline.Entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(timeline.Entries))
	}

	received := timeline.Entries[0]
	if received.Attribution != AttributionOther || received.Text != "hi alice" {
		t.Fatalf("unexpected received entry: %+v", received)
	}
	if received.HasBadge {
		t.Fatalf("received entries must not carry a status badge")
	}
	if received.TimeLabel != "09:15" {
		t.Fatalf("expected time label 09:15, got %q", received.TimeLabel)
	}

	sent := timeline.Entries[1]
	if sent.Attribution != AttributionSelf || !sent.HasBadge || sent.Badge != StatusDelivered {
		t.Fatalf("unexpected sent entry: %+v", sent)
	}

	// Message 3 is third-party: placeholder without a decrypt attempt.
	foreign := timeline.Entries[2]
	if foreign.Text != PlaceholderEncrypted {
		t.Fatalf("expected %q for third-party message, got %q", PlaceholderEncrypted, foreign.Text)
	}

	// Message 4 is authorized but fails to decrypt; the badge still derives
	// solely from the status field.
	failed := timeline.Entries[3]
	if failed.Text != PlaceholderDecryptFailed {
		t.Fatalf("expected %q, got %q", PlaceholderDecryptFailed, failed.Text)
	}
	if failed.Attribution != AttributionSelf || failed.Badge != StatusRead {
		t.Fatalf("unexpected failed-decrypt entry: %+v", failed)
	}
}

func TestAssembleContactEmptyIsNotAnError(t *testing.T) {
	source := &fakeSource{plaintexts: map[int64]string{}}

	timeline, err := NewAssembler(source, "alice").Assemble(ContactTarget("bob"))
	if err != nil {
		t.Fatalf("Assemble of empty conversation failed: %v", err)
	}
	if len(timeline.Entries) != 0 {
		t.Fatalf("expected empty timeline, got %d entries", len(timeline.Entries))
	}
}

func TestAssembleContactStoreFailurePropagates(t *testing.T) {
	storeErr := errors.New("disk unplugged")
	source := &fakeSource{conversationErr: storeErr}

	if _, err := NewAssembler(source, "alice").Assemble(ContactTarget("bob")); !errors.Is(err, storeErr) {
		t.Fatalf("expected store failure to propagate, got %v", err)
	}
}

func TestAssembleIsIdempotent(t *testing.T) {
	source := &fakeSource{
		messages: []storage.Message{
			{ID: 1, Sender: "bob", Recipient: "alice", CreatedAt: "2026-08-30 09:15:00"},
			{ID: 2, Sender: "alice", Recipient: "bob", CreatedAt: "2026-08-30 09:16:00", Status: "sent"},
		},
		plaintexts: map[int64]string{1: "a", 2: "b"},
	}
	assembler := NewAssembler(source, "alice")

	first, err := assembler.Assemble(ContactTarget("bob"))
	if err != nil {
		t.Fatalf("first Assemble failed: %v", err)
	}
	second, err := assembler.Assemble(ContactTarget("bob"))
	if err != nil {
		t.Fatalf("second Assemble failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical timelines, got %+v then %+v", first, second)
	}
}

func TestAssembleGroupHeaderAndFixedBadge(t *testing.T) {
	source := &fakeSource{
		group: &storage.Group{ID: 7, Name: "ops", Creator: "alice"},
		groupMessages: []storage.GroupMessage{
			{ID: 1, GroupID: 7, Sender: "alice", CreatedAt: "2026-08-30 10:00:00"},
			{ID: 2, GroupID: 7, Sender: "bob", CreatedAt: "2026-08-30 10:01:00"},
			{ID: 3, GroupID: 7, Sender: "carol", CreatedAt: "2026-08-30 10:02:00"},
		},
		plaintexts: map[int64]string{1: "standup?", 2: "five minutes"},
	}

	timeline, err := NewAssembler(source, "alice").Assemble(GroupTarget(7))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if timeline.Header != "Group: ops" {
		t.Fatalf("unexpected header %q", timeline.Header)
	}

	self := timeline.Entries[0]
	if self.Attribution != AttributionSelf || !self.HasBadge || self.Badge != StatusPending {
		t.Fatalf("expected fixed pending badge on group self entry, got %+v", self)
	}

	other := timeline.Entries[1]
	if other.Attribution != AttributionOther || other.HasBadge {
		t.Fatalf("unexpected group member entry: %+v", other)
	}

	// Group decryption is always attempted; a failure renders the
	// decrypt-failed placeholder.
	if timeline.Entries[2].Text != PlaceholderDecryptFailed {
		t.Fatalf("expected %q, got %q", PlaceholderDecryptFailed, timeline.Entries[2].Text)
	}
}

func TestAssembleGroupMetadataFailureDegradesHeader(t *testing.T) {
	source := &fakeSource{
		groupInfoErr: errors.New("metadata unavailable"),
		groupMessages: []storage.GroupMessage{
			{ID: 1, GroupID: 7, Sender: "bob", CreatedAt: "2026-08-30 10:00:00"},
		},
		plaintexts: map[int64]string{1: "still here"},
	}

	timeline, err := NewAssembler(source, "alice").Assemble(GroupTarget(7))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if timeline.Header != DefaultGroupHeader {
		t.Fatalf("expected fallback header %q, got %q", DefaultGroupHeader, timeline.Header)
	}
	if len(timeline.Entries) != 1 || timeline.Entries[0].Text != "still here" {
		t.Fatalf("metadata failure must not abort assembly: %+v", timeline.Entries)
	}
}

func TestAssembleGroupStoreFailurePropagates(t *testing.T) {
	storeErr := errors.New("disk unplugged")
	source := &fakeSource{groupMessageErr: storeErr}

	if _, err := NewAssembler(source, "alice").Assemble(GroupTarget(7)); !errors.Is(err, storeErr) {
		t.Fatalf("expected store failure to propagate, got %v", err)
	}
}

func TestAssembleWithoutTarget(t *testing.T) {
	if _, err := NewAssembler(&fakeSource{}, "alice").Assemble(Target{}); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestTimeLabel(t *testing.T) {
	cases := []struct {
		createdAt string
		want      string
	}{
		{"2026-08-30 09:15:42", "09:15"},
		{"2026-08-30 09:15", "09:15"},
		{"garbage", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := TimeLabel(tc.createdAt); got != tc.want {
			t.Fatalf("TimeLabel(%q) = %q, want %q", tc.createdAt, got, tc.want)
		}
	}
}
