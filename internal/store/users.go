package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Rounds  = 150_000
	pbkdf2KeyLen  = 32
	pbkdf2SaltLen = 16
)

// ErrAuthFailed is returned for an unknown username or a wrong password;
// callers must not be able to tell the two apart.
var ErrAuthFailed = errors.New("authentication failed")

// User is a gateway account with its governance role.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func hashPassword(password string, salt []byte) string {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(key)
}

// UpsertUser creates the user or, if the username exists, replaces their
// password and role.
func (s *Store) UpsertUser(ctx context.Context, username, password, role string) error {
	if username == "" || password == "" || role == "" {
		return fmt.Errorf("username, password and role are all required")
	}
	salt := make([]byte, pbkdf2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, password_hash, salt, role, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash,
		   salt = excluded.salt, role = excluded.role`,
		username, hashPassword(password, salt), saltHex, role, now())
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", username, err)
	}
	return nil
}

// Authenticate verifies the password and returns the stored account.
func (s *Store) Authenticate(ctx context.Context, username, password string) (User, error) {
	var storedHash, saltHex, role string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, salt, role FROM users WHERE username = ?`,
		username).Scan(&storedHash, &saltHex, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrAuthFailed
	}
	if err != nil {
		return User{}, fmt.Errorf("querying user %s: %w", username, err)
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return User{}, fmt.Errorf("decoding salt for %s: %w", username, err)
	}
	if subtle.ConstantTimeCompare([]byte(hashPassword(password, salt)), []byte(storedHash)) != 1 {
		return User{}, ErrAuthFailed
	}
	return User{Username: username, Role: role}, nil
}

// GetUser looks up an account without checking credentials. Approval
// execution uses this to replay with the original requester's identity.
func (s *Store) GetUser(ctx context.Context, username string) (User, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM users WHERE username = ?`, username).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s not found", username)
	}
	if err != nil {
		return User{}, fmt.Errorf("querying user %s: %w", username, err)
	}
	return User{Username: username, Role: role}, nil
}

// CountUsers returns the number of accounts, used to decide whether the
// first-run bootstrap should seed defaults.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}
