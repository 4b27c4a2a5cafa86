// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth provides the local token accessor used to open chat
// sessions and call the REST API.
package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/fsnotify/fsnotify"
)

// EnvToken overrides the stored token when set.
const EnvToken = "GOVCHAT_TOKEN"

// TokenSource is what session and API code need from the accessor.
type TokenSource interface {
	// Token returns the current token and whether one is available.
	Token() (string, bool)
}

// TokenStore keeps the auth token on disk (0600) and, while loaded, sealed
// in a memguard Enclave so the plaintext is only in memory for the
// duration of a Token call.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type TokenStore struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewTokenStore creates a store backed by path. Nothing is read until Load.
func NewTokenStore(path string, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStore{path: filepath.Clean(path), logger: logger}
}

// Path returns the token file location.
func (s *TokenStore) Path() string {
	return s.path
}

// Load reads the token file. A missing file leaves the store empty.
func (s *TokenStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	s.set(bytes.TrimSpace(data))
	return nil
}

// Token returns the environment override if set, else the stored token.
func (s *TokenStore) Token() (string, bool) {
	if v := os.Getenv(EnvToken); v != "" {
		return v, true
	}

	s.mu.RLock()
	enclave := s.enclave
	s.mu.RUnlock()
	if enclave == nil {
		return "", false
	}

	buf, err := enclave.Open()
	if err != nil {
		s.logger.Error("open token enclave", "error", err)
		return "", false
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true
}

// Save writes the token to disk and seals it in memory.
func (s *TokenStore) Save(token string) error {
	if token == "" {
		return errors.New("token is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token), 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace token file: %w", err)
	}

	s.set([]byte(token))
	s.logger.Info("token saved", "path", s.path, "token_present", true)
	return nil
}

// Clear removes the token from disk and memory.
func (s *TokenStore) Clear() error {
	s.set(nil)
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	s.logger.Info("token cleared", "path", s.path)
	return nil
}

// set seals data (which memguard wipes) or empties the store.
func (s *TokenStore) set(data []byte) {
	var enclave *memguard.Enclave
	if len(data) > 0 {
		enclave = memguard.NewEnclave(data)
	}
	s.mu.Lock()
	s.enclave = enclave
	s.mu.Unlock()
}

// Watch reloads the token whenever the file changes, so the next session
// picks up a token written by another process (e.g. `govchat login` in a
// second terminal). It blocks until ctx is done.
func (s *TokenStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	// The directory is watched because Save replaces the file by rename.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if err := s.Load(); err != nil {
				s.logger.Warn("token reload failed", "path", s.path, "error", err)
				continue
			}
			_, present := s.Token()
			s.logger.Debug("token reloaded", "op", event.Op.String(), "token_present", present)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("token watcher error", "error", err)
		}
	}
}

var _ TokenSource = (*TokenStore)(nil)
