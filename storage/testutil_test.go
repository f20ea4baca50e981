package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustInsertMessage(t *testing.T, store *Store, sender, recipient, status string) int64 {
	t.Helper()

	id, err := store.InsertMessage(Message{
		Sender:    sender,
		Recipient: recipient,
		Status:    status,
		Envelope:  []byte("envelope-" + sender + "-" + recipient),
	})
	if err != nil {
		t.Fatalf("insert message %q -> %q: %v", sender, recipient, err)
	}

	return id
}

func mustAddContact(t *testing.T, store *Store, identity string) {
	t.Helper()

	err := store.UpsertContact(Contact{
		Identity:           identity,
		SigningPublicKey:   "sign-" + identity,
		AgreementPublicKey: "agree-" + identity,
	})
	if err != nil {
		t.Fatalf("add contact %q: %v", identity, err)
	}
}
