package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/erazemk/boxanizer/internal/db"
)

// Setting keys.
const (
	settingJWTSecret     = "jwt_secret"
	settingOwnerName     = "owner_username"
	settingOwnerPassword = "owner_password_hash"
)

// GetJWTSecret retrieves the JWT secret from the database.
// If no secret exists, it generates one, stores it, and returns it.
// Uses insert-if-absent + re-SELECT to avoid TOCTOU race on concurrent startup.
func GetJWTSecret(ctx context.Context, database *db.DB) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	candidate := hex.EncodeToString(buf)

	_, err := database.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`,
		settingJWTSecret, candidate,
	)
	if err != nil {
		return "", fmt.Errorf("storing jwt_secret: %w", err)
	}

	secret, err := GetSetting(ctx, database, settingJWTSecret)
	if err != nil {
		return "", fmt.Errorf("querying jwt_secret: %w", err)
	}
	return secret, nil
}

// GetSetting returns the value stored under key, or "" if unset.
func GetSetting(ctx context.Context, database *db.DB, key string) (string, error) {
	var value string
	err := database.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func SetSetting(ctx context.Context, database *db.DB, key, value string) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// SetOwner stores the device owner's username and bcrypt password hash.
func SetOwner(ctx context.Context, database *db.DB, username, passwordHash string) error {
	if err := SetSetting(ctx, database, settingOwnerName, username); err != nil {
		return err
	}
	return SetSetting(ctx, database, settingOwnerPassword, passwordHash)
}

// GetOwner returns the owner's username and password hash. Both are empty if
// no owner has been created yet.
func GetOwner(ctx context.Context, database *db.DB) (username, passwordHash string, err error) {
	username, err = GetSetting(ctx, database, settingOwnerName)
	if err != nil {
		return "", "", err
	}
	passwordHash, err = GetSetting(ctx, database, settingOwnerPassword)
	if err != nil {
		return "", "", err
	}
	return username, passwordHash, nil
}

// UpdateOwnerPassword replaces the owner's password hash.
func UpdateOwnerPassword(ctx context.Context, database *db.DB, passwordHash string) error {
	return SetSetting(ctx, database, settingOwnerPassword, passwordHash)
}
