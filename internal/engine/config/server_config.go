// Package config implements the two persisted JSON file formats spec.md §6
// names (hardware configuration, server configuration), written atomically
// via a temp-file-then-rename helper, plus yaml-based loading of the
// static device-profile-shaped configuration the teacher's
// devicemanagement.NewConfig reads.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
)

// UserRecord is the on-disk shape of one credential, mirroring
// original_source/linear_stage/generic/server_config.py's UserConfig.
type UserRecord struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	HashedPassword string    `json:"hashed_password"`
	AccessLevel    string    `json:"access_level"`
}

// JWTConfig carries the signing secret and algorithm name.
type JWTConfig struct {
	Secret        string `json:"secret"`
	Algorithm     string `json:"algorithm"`
	ExpireSeconds int    `json:"expire_seconds"`
}

// AuthConfig is the persisted user list plus JWT settings.
type AuthConfig struct {
	Users []UserRecord `json:"users"`
	JWT   JWTConfig    `json:"jwt"`
}

// CORSConfig is the persisted CORS policy.
type CORSConfig struct {
	Origins          []string `json:"origins"`
	AllowCredentials bool     `json:"allow_credentials"`
	AllowMethods     []string `json:"allow_methods"`
	AllowHeaders     []string `json:"allow_headers"`
}

// ServerConfig is the full server-configuration file (spec.md §6 "Persisted
// state": "users, JWT config, CORS").
type ServerConfig struct {
	Auth AuthConfig `json:"auth"`
	CORS CORSConfig `json:"cors"`
}

// LoadServerConfig reads and parses a ServerConfig from path.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read server config: %w", err)
	}
	var cfg ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse server config: %w", err)
	}
	return &cfg, nil
}

// SaveServerConfig writes cfg to path atomically: marshal to a sibling
// temp file, fsync, then rename over the destination. This is the
// "overwritten atomically on shutdown and on credential change" behaviour
// spec.md §6 requires.
func SaveServerConfig(path string, cfg *ServerConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal server config: %w", err)
	}
	return writeFileAtomic(path, data)
}

// ToUser converts a persisted UserRecord into an auth.User. The hashed
// password is carried through as opaque bytes; it is never re-hashed.
func (r UserRecord) ToUser() (*auth.User, error) {
	level, err := auth.ParseAccessLevel(r.AccessLevel)
	if err != nil {
		return nil, err
	}
	return &auth.User{
		ID:             r.ID,
		Username:       r.Username,
		HashedPassword: []byte(r.HashedPassword),
		AccessLevel:    level,
	}, nil
}

// writeFileAtomic is the shared temp-file-then-rename primitive used by
// both persisted file formats.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename temp file into place: %w", err)
	}
	return nil
}
