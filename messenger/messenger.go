// Package messenger binds the local identity's key material to the
// message store: it seals outgoing envelopes, opens incoming ones and
// exposes the conversation views the sync layer renders from.
package messenger

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"errors"
	"fmt"

	"sealmsg/crypto"
	"sealmsg/storage"
)

// ErrNotGroupMember means the local identity tried to post to a group it
// does not belong to.
var ErrNotGroupMember = errors.New("messenger: not a member of this group")

// Messenger is the per-identity core. It owns no goroutines; all methods
// are safe for concurrent use because the store and keys are.
type Messenger struct {
	identity string
	store    *storage.Store
	keys     *crypto.IdentityKeys
}

// Open binds an identity and its keys to a store. The identity's own
// published keys are registered as a contact so peers sharing the store
// can look them up, and so the sender's own envelopes verify.
func Open(identity string, store *storage.Store, keys *crypto.IdentityKeys) (*Messenger, error) {
	if identity == "" {
		return nil, errors.New("identity is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if keys == nil {
		return nil, errors.New("identity keys are required")
	}

	err := store.UpsertContact(storage.Contact{
		Identity:           identity,
		SigningPublicKey:   crypto.EncodePublicKey(keys.SigningPublic()),
		AgreementPublicKey: crypto.EncodePublicKey(keys.AgreementPublic().Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("register local keys: %w", err)
	}

	return &Messenger{
		identity: identity,
		store:    store,
		keys:     keys,
	}, nil
}

// Identity returns the local identity name.
func (m *Messenger) Identity() string {
	return m.identity
}

// Fingerprint returns the hex fingerprint of the local signing key.
func (m *Messenger) Fingerprint() string {
	return m.keys.Fingerprint()
}

// AddContact registers a peer's published keys. Both keys must parse;
// re-adding an existing identity rotates its keys.
func (m *Messenger) AddContact(identity, signingKey, agreementKey string) error {
	if _, err := crypto.ParseSigningPublicKey(signingKey); err != nil {
		return fmt.Errorf("add contact %q: %w", identity, err)
	}
	if _, err := crypto.ParseAgreementPublicKey(agreementKey); err != nil {
		return fmt.Errorf("add contact %q: %w", identity, err)
	}

	return m.store.UpsertContact(storage.Contact{
		Identity:           identity,
		SigningPublicKey:   signingKey,
		AgreementPublicKey: agreementKey,
	})
}

// ListContacts returns every known identity except the local one.
func (m *Messenger) ListContacts() ([]string, error) {
	return m.store.ListContacts(m.identity)
}

// SendToRecipients seals one envelope to the local identity plus every
// listed recipient and inserts one message row per recipient, all sharing
// the envelope and timestamp. Returns the assigned row IDs in recipient
// order.
func (m *Messenger) SendToRecipients(recipients []string, text string) ([]int64, error) {
	if len(recipients) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if text == "" {
		return nil, errors.New("message text is required")
	}

	envelope, err := m.sealFor(recipients, text)
	if err != nil {
		return nil, err
	}

	createdAt := storage.Now()
	rows := make([]storage.Message, 0, len(recipients))
	for _, recipient := range recipients {
		rows = append(rows, storage.Message{
			Sender:    m.identity,
			Recipient: recipient,
			CreatedAt: createdAt,
			Status:    storage.StatusSent,
			Envelope:  envelope,
		})
	}

	ids, err := m.store.InsertMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("store message to %d recipients: %w", len(recipients), err)
	}

	return ids, nil
}

// SendToGroup seals one envelope to the full member set and stores it as
// a group message. The local identity must be a member.
func (m *Messenger) SendToGroup(groupID int64, text string) (int64, error) {
	if text == "" {
		return 0, errors.New("message text is required")
	}

	members, err := m.store.GroupMembers(groupID)
	if err != nil {
		return 0, err
	}

	isMember := false
	for _, member := range members {
		if member == m.identity {
			isMember = true
			break
		}
	}
	if !isMember {
		return 0, ErrNotGroupMember
	}

	envelope, err := m.sealFor(members, text)
	if err != nil {
		return 0, err
	}

	id, err := m.store.InsertGroupMessage(storage.GroupMessage{
		GroupID:  groupID,
		Sender:   m.identity,
		Envelope: envelope,
	})
	if err != nil {
		return 0, fmt.Errorf("store message to group %d: %w", groupID, err)
	}

	return id, nil
}

// CreateGroup creates a group with the local identity as creator and
// returns the new group ID. Every member must be a known contact so
// later envelopes can be sealed to them.
func (m *Messenger) CreateGroup(name, description string, members []string) (int64, error) {
	for _, member := range members {
		if member == m.identity {
			continue
		}
		if _, err := m.store.GetContact(member); err != nil {
			return 0, fmt.Errorf("group member %q: %w", member, err)
		}
	}

	return m.store.CreateGroup(storage.Group{
		Name:        name,
		Description: description,
		Creator:     m.identity,
	}, members)
}

// ListGroups returns every group the local identity belongs to.
func (m *Messenger) ListGroups() ([]storage.Group, error) {
	return m.store.GroupsFor(m.identity)
}

// GroupInfo fetches group metadata.
func (m *Messenger) GroupInfo(groupID int64) (*storage.Group, error) {
	return m.store.GetGroup(groupID)
}

// GroupMembers returns the member identities of a group.
func (m *Messenger) GroupMembers(groupID int64) ([]string, error) {
	return m.store.GroupMembers(groupID)
}

// Conversation returns the full exchange between the local identity and
// one contact, ascending by id.
func (m *Messenger) Conversation(contact string) ([]storage.Message, error) {
	return m.store.Conversation(m.identity, contact)
}

// GroupConversation returns every message of a group, ascending by id.
func (m *Messenger) GroupConversation(groupID int64) ([]storage.GroupMessage, error) {
	return m.store.GroupConversation(groupID)
}

// Inbox returns messages addressed to the local identity with id above
// the cursor, ascending.
func (m *Messenger) Inbox(afterID int64) ([]storage.Message, error) {
	return m.store.MessagesTo(m.identity, afterID)
}

// MarkDelivered advances one inbound message to delivered. Idempotent;
// never regresses a read message.
func (m *Messenger) MarkDelivered(id int64) error {
	return m.store.MarkDelivered(id)
}

// MarkConversationRead marks everything the contact sent to the local
// identity as read.
func (m *Messenger) MarkConversationRead(contact string) error {
	return m.store.MarkConversationRead(contact, m.identity)
}

// DeliveredOrReadCount counts outbound messages to a contact that the
// far side has fetched or read.
func (m *Messenger) DeliveredOrReadCount(contact string) (int64, error) {
	return m.store.CountDeliveredOrRead(m.identity, contact)
}

// DecryptMessage opens one direct message for the local identity. The
// sender's signature is verified when the sender is a known contact.
func (m *Messenger) DecryptMessage(id int64) (string, error) {
	message, err := m.store.GetMessage(id)
	if err != nil {
		return "", err
	}
	return m.open(message.Envelope, message.Sender)
}

// DecryptGroupMessage opens one group message for the local identity.
func (m *Messenger) DecryptGroupMessage(id int64) (string, error) {
	message, err := m.store.GetGroupMessage(id)
	if err != nil {
		return "", err
	}
	return m.open(message.Envelope, message.Sender)
}

func (m *Messenger) open(envelope []byte, sender string) (string, error) {
	senderKey, err := m.signingKeyOf(sender)
	if err != nil {
		return "", err
	}

	plaintext, err := crypto.OpenEnvelope(envelope, m.identity, m.keys.Agreement, senderKey)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// signingKeyOf resolves a sender's verification key. An unknown sender
// yields nil, which skips signature verification rather than failing the
// whole decryption.
func (m *Messenger) signingKeyOf(sender string) (ed25519.PublicKey, error) {
	contact, err := m.store.GetContact(sender)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return crypto.ParseSigningPublicKey(contact.SigningPublicKey)
}

func (m *Messenger) agreementKeyOf(identity string) (*ecdh.PublicKey, error) {
	if identity == m.identity {
		return m.keys.AgreementPublic(), nil
	}

	contact, err := m.store.GetContact(identity)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient %q: %w", identity, err)
	}
	return crypto.ParseAgreementPublicKey(contact.AgreementPublicKey)
}

// sealFor builds the envelope recipient set with the local identity as
// implicit first recipient, so the sender can reopen its own messages.
func (m *Messenger) sealFor(recipients []string, text string) ([]byte, error) {
	sealed := make([]crypto.Recipient, 0, len(recipients)+1)
	sealed = append(sealed, crypto.Recipient{
		Identity: m.identity,
		Key:      m.keys.AgreementPublic(),
	})

	for _, recipient := range recipients {
		key, err := m.agreementKeyOf(recipient)
		if err != nil {
			return nil, err
		}
		sealed = append(sealed, crypto.Recipient{Identity: recipient, Key: key})
	}

	envelope, err := crypto.SealEnvelope(m.identity, m.keys.Signing, sealed, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}

	return envelope, nil
}
