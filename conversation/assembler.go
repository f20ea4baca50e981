package conversation

import (
	"errors"
	"fmt"

	"sealmsg/storage"
)

// Placeholder texts for messages that cannot be shown as plaintext.
const (
	// PlaceholderEncrypted marks messages the local identity is not
	// entitled to decrypt.
	PlaceholderEncrypted = "[encrypted]"
	// PlaceholderDecryptFailed marks messages that passed the
	// authorization gate but failed to decrypt.
	PlaceholderDecryptFailed = "[decryption failed]"
	// DefaultGroupHeader is used when group metadata cannot be loaded.
	DefaultGroupHeader = "Group Conversation"
)

// ErrNoTarget means Assemble was called without a selected conversation.
var ErrNoTarget = errors.New("conversation: no target selected")

// Attribution says which side of the timeline an entry belongs to.
type Attribution int

const (
	// AttributionOther marks entries sent by a remote identity.
	AttributionOther Attribution = iota
	// AttributionSelf marks entries sent by the local identity.
	AttributionSelf
)

// Entry is the render-ready, derived form of one message. It is recomputed
// on every load and never persisted.
type Entry struct {
	Attribution Attribution
	Sender      string
	Text        string
	TimeLabel   string

	// HasBadge is true only for self entries; Badge is then the delivery
	// state to show. Group self entries carry a fixed pending badge since
	// groups track no per-recipient status.
	HasBadge bool
	Badge    Status
}

// Timeline is an assembled conversation: header plus ordered entries.
// Zero entries is a valid state (render an empty-conversation hint), and
// is distinct from an assembly error.
type Timeline struct {
	Header  string
	Entries []Entry
}

// Source is the slice of the messenger core the assembler reads from.
type Source interface {
	Conversation(contact string) ([]storage.Message, error)
	GroupConversation(groupID int64) ([]storage.GroupMessage, error)
	GroupInfo(groupID int64) (*storage.Group, error)
	DecryptMessage(id int64) (string, error)
	DecryptGroupMessage(id int64) (string, error)
}

// Assembler turns a conversation target into an ordered timeline of
// render entries for one local identity.
type Assembler struct {
	source        Source
	localIdentity string
}

// NewAssembler creates an assembler bound to a message source and identity.
func NewAssembler(source Source, localIdentity string) *Assembler {
	return &Assembler{source: source, localIdentity: localIdentity}
}

// Assemble loads, authorizes, decrypts and orders the messages of a
// conversation target. A store read failure is a terminal error; an empty
// conversation is not.
func (a *Assembler) Assemble(target Target) (*Timeline, error) {
	switch target.Kind() {
	case TargetContact:
		return a.assembleContact(target.Contact())
	case TargetGroup:
		return a.assembleGroup(target.GroupID())
	default:
		return nil, ErrNoTarget
	}
}

func (a *Assembler) assembleContact(contact string) (*Timeline, error) {
	messages, err := a.source.Conversation(contact)
	if err != nil {
		return nil, fmt.Errorf("load conversation with %q: %w", contact, err)
	}

	timeline := &Timeline{
		Header:  "Conversation with " + contact,
		Entries: make([]Entry, 0, len(messages)),
	}

	for _, message := range messages {
		entry := Entry{
			Sender:    message.Sender,
			TimeLabel: TimeLabel(message.CreatedAt),
		}

		if CanAttemptDecrypt(message.Sender, message.Recipient, a.localIdentity) {
			text, err := a.source.DecryptMessage(message.ID)
			if err != nil {
				entry.Text = PlaceholderDecryptFailed
			} else {
				entry.Text = text
			}
		} else {
			entry.Text = PlaceholderEncrypted
		}

		if message.Sender == a.localIdentity {
			entry.Attribution = AttributionSelf
			entry.HasBadge = true
			entry.Badge = ClassifyStatus(message.Status)
		}

		timeline.Entries = append(timeline.Entries, entry)
	}

	return timeline, nil
}

func (a *Assembler) assembleGroup(groupID int64) (*Timeline, error) {
	// Metadata failure degrades to a generic header; it never aborts
	// assembly.
	header := DefaultGroupHeader
	if group, err := a.source.GroupInfo(groupID); err == nil && group != nil {
		header = "Group: " + group.Name
	}

	messages, err := a.source.GroupConversation(groupID)
	if err != nil {
		return nil, fmt.Errorf("load conversation of group %d: %w", groupID, err)
	}

	timeline := &Timeline{
		Header:  header,
		Entries: make([]Entry, 0, len(messages)),
	}

	for _, message := range messages {
		entry := Entry{
			Sender:    message.Sender,
			TimeLabel: TimeLabel(message.CreatedAt),
		}

		// Group envelopes are sealed to the member set, so decryption is
		// always attempted; non-members simply fail into the placeholder.
		text, err := a.source.DecryptGroupMessage(message.ID)
		if err != nil {
			entry.Text = PlaceholderDecryptFailed
		} else {
			entry.Text = text
		}

		if message.Sender == a.localIdentity {
			entry.Attribution = AttributionSelf
			entry.HasBadge = true
			entry.Badge = StatusPending
		}

		timeline.Entries = append(timeline.Entries, entry)
	}

	return timeline, nil
}

// TimeLabel extracts the HH:MM label from a "YYYY-MM-DD HH:MM:SS"
// wall-clock timestamp. Malformed timestamps yield an empty label.
func TimeLabel(createdAt string) string {
	if len(createdAt) < 16 {
		return ""
	}
	return createdAt[11:16]
}
