// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists finished chat turns in BadgerDB.
//
// Keys are laid out so that a prefix scan returns one session's turns in
// the order they were appended:
//
//	turn/<session-id>/<20-digit sequence>  ->  JSON chatstream.Message
//	seq/<session-id>                       ->  badger.Sequence lease
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/AleutianAI/govchat/pkg/validation"
	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a session has no stored turns.
var ErrNotFound = errors.New("session not found")

// sequenceBandwidth is how many sequence numbers are leased per disk write.
const sequenceBandwidth = 64

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory keeps everything in RAM. Used by tests and `serve --in-memory`.
	InMemory bool

	// SyncWrites trades latency for durability.
	SyncWrites bool

	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives BadgerDB's own log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// =============================================================================
// Store
// =============================================================================

// Store is the turn history of every hub session.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Appends to the same session
// are ordered by the session's badger.Sequence.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// Open opens (or creates) a Store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger, seqs: make(map[string]*badger.Sequence)}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.start()
	}
	return s, nil
}

// Append stores a finished turn and returns its sequence number within
// the session.
func (s *Store) Append(sessionID string, msg chatstream.Message) (uint64, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return 0, err
	}

	seq, err := s.sequence(sessionID)
	if err != nil {
		return 0, err
	}
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", sessionID, err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode turn: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(turnKey(sessionID, n), data)
	})
	if err != nil {
		return 0, fmt.Errorf("write turn: %w", err)
	}
	return n, nil
}

// List returns page (1-based) of a session's turns in append order and
// the total number of turns. A session without turns is ErrNotFound.
func (s *Store) List(sessionID string, page, pageSize int) ([]chatstream.Message, int, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, 0, err
	}
	if page < 1 || pageSize < 1 {
		return nil, 0, fmt.Errorf("invalid page %d size %d", page, pageSize)
	}

	skip := (page - 1) * pageSize
	var (
		out   []chatstream.Message
		total int
	)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sessionPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			total++
			if total <= skip || len(out) >= pageSize {
				continue
			}
			var msg chatstream.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return fmt.Errorf("decode turn %s: %w", it.Item().Key(), err)
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, ErrNotFound
	}
	return out, total, nil
}

// Close releases sequence leases, stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}

	s.mu.Lock()
	var errs []error
	for id, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence %s: %w", id, err))
		}
	}
	s.seqs = map[string]*badger.Sequence{}
	s.mu.Unlock()

	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *Store) sequence(sessionID string) (*badger.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.seqs[sessionID]; ok {
		return seq, nil
	}
	seq, err := s.db.GetSequence([]byte("seq/"+sessionID), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("open sequence for %s: %w", sessionID, err)
	}
	s.seqs[sessionID] = seq
	return seq, nil
}

func sessionPrefix(sessionID string) []byte {
	return []byte("turn/" + sessionID + "/")
}

func turnKey(sessionID string, n uint64) []byte {
	return []byte(fmt.Sprintf("turn/%s/%020d", sessionID, n))
}

// =============================================================================
// Value-log GC
// =============================================================================

type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				// ErrNoRewrite means there was nothing to collect.
				if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					r.logger.Warn("badger value log gc error", "error", err)
				}
			}
		}
	}()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}
