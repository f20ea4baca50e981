package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertContact inserts or replaces the published keys for an identity.
func (s *Store) UpsertContact(contact Contact) error {
	if contact.Identity == "" {
		return errors.New("identity is required")
	}
	if contact.SigningPublicKey == "" {
		return errors.New("signing public key is required")
	}
	if contact.AgreementPublicKey == "" {
		return errors.New("agreement public key is required")
	}
	if contact.AddedAt == "" {
		contact.AddedAt = nowTimestamp()
	}

	_, err := s.db.Exec(
		`INSERT INTO contacts (identity, signing_public_key, agreement_public_key, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			signing_public_key = excluded.signing_public_key,
			agreement_public_key = excluded.agreement_public_key`,
		contact.Identity,
		contact.SigningPublicKey,
		contact.AgreementPublicKey,
		contact.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert contact %q: %w", contact.Identity, err)
	}

	return nil
}

// GetContact fetches one contact by identity.
func (s *Store) GetContact(identity string) (*Contact, error) {
	if identity == "" {
		return nil, errors.New("identity is required")
	}

	var contact Contact
	err := s.db.QueryRow(
		`SELECT identity, signing_public_key, agreement_public_key, added_at
		FROM contacts
		WHERE identity = ?`,
		identity,
	).Scan(&contact.Identity, &contact.SigningPublicKey, &contact.AgreementPublicKey, &contact.AddedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact %q: %w", identity, err)
	}

	return &contact, nil
}

// ListContacts returns every known identity except the excluded one, sorted.
func (s *Store) ListContacts(excluding string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT identity FROM contacts
		WHERE identity != ?
		ORDER BY identity ASC`,
		excluding,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	identities := make([]string, 0)
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		identities = append(identities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows: %w", err)
	}

	return identities, nil
}
