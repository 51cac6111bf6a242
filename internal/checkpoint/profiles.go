package checkpoint

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// MasterKeyEnv holds the base64 AES-256 key that encrypts stored profiles.
const MasterKeyEnv = "DSV_EXTRACT_MASTER_KEY"

const (
	profileCipherV1  = byte(1)
	minCipherPayload = 1 + 12 // version + nonce
)

// ErrProfileNotFound is returned when a named profile does not exist.
var ErrProfileNotFound = errors.New("profile not found")

type ProfileInfo struct {
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SaveProfile stores an extraction config under name, encrypted with the
// master key. The name is bound into the ciphertext.
func (s *State) SaveProfile(name, description string, config []byte) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}

	sealed, err := sealProfile(name, config)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO profiles (name, description, config_enc, created_at, updated_at)
		VALUES (?, ?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			config_enc = excluded.config_enc,
			updated_at = datetime('now')
	`, name, description, sealed)
	return err
}

// GetProfile returns the decrypted config for a profile.
func (s *State) GetProfile(name string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRow(`SELECT config_enc FROM profiles WHERE name = ?`, name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return openProfile(name, sealed)
}

// DeleteProfile removes a profile.
func (s *State) DeleteProfile(name string) error {
	res, err := s.db.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return nil
}

// ListProfiles returns stored profiles ordered by name.
func (s *State) ListProfiles() ([]ProfileInfo, error) {
	rows, err := s.db.Query(`
		SELECT name, COALESCE(description, ''), created_at, updated_at
		FROM profiles
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []ProfileInfo
	for rows.Next() {
		var p ProfileInfo
		var createdAt, updatedAt string
		if err := rows.Scan(&p.Name, &p.Description, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(sqliteTime, createdAt)
		p.UpdatedAt, _ = time.Parse(sqliteTime, updatedAt)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func profileAEAD() (cipher.AEAD, error) {
	key, err := masterKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

// sealProfile returns version || nonce || ciphertext.
func sealProfile(name string, plaintext []byte) ([]byte, error) {
	gcm, err := profileAEAD()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, profileCipherV1)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, []byte(name)), nil
}

func openProfile(name string, payload []byte) ([]byte, error) {
	if len(payload) < minCipherPayload {
		return nil, errors.New("encrypted profile payload is too short")
	}
	if payload[0] != profileCipherV1 {
		return nil, fmt.Errorf("unsupported profile cipher version: %d", payload[0])
	}
	gcm, err := profileAEAD()
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(payload) < 1+n {
		return nil, errors.New("encrypted profile payload missing nonce")
	}
	plaintext, err := gcm.Open(nil, payload[1:1+n], payload[1+n:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("decrypt profile: %w", err)
	}
	return plaintext, nil
}

func masterKey() ([]byte, error) {
	raw := os.Getenv(MasterKeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", MasterKeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64-encoded: %w", MasterKeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes (got %d)", MasterKeyEnv, len(key))
	}
	return key, nil
}
