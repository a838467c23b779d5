// Package filestore persists a storage scope as a single JSON file, optionally sealed with
// a passphrase-derived key.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/agromarket/internal/crypto/clientcrypto"
	"github.com/and161185/agromarket/internal/errs"
)

const (
	docVersion = 1
	sealAAD    = "agm-filestore-v1"
)

// document is the on-disk layout. Exactly one of Entries or Sealed is used.
type document struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries,omitempty"`
	Salt    []byte            `json:"salt,omitempty"`
	Sealed  []byte            `json:"sealed,omitempty"`
}

// Store is a file-backed storage.Storage. Safe for concurrent use within one process.
type Store struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
	salt       []byte
	key        []byte
	log        *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPassphrase seals the file with a key derived from passphrase.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) {
		if passphrase != "" {
			s.passphrase = []byte(passphrase)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New constructs a Store writing to path. The file is created on first write.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get implements storage.Storage.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

// Set implements storage.Storage. A corrupt file is replaced.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.loadOrReset()
	entries[key] = value
	return s.save(entries)
}

// Remove implements storage.Storage.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.loadOrReset()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.save(entries)
}

// Clear implements storage.Storage by deleting the file.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore: clear: %w", err)
	}
	return nil
}

func (s *Store) loadOrReset() map[string]string {
	entries, err := s.load()
	if err != nil {
		s.log.Warn("storage file unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		return map[string]string{}
	}
	return entries
}

func (s *Store) load() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read: %w", err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("filestore: %w: %v", errs.ErrCorrupt, err)
	}
	if doc.Sealed == nil {
		if s.passphrase != nil && len(doc.Entries) > 0 {
			s.log.Warn("storage file is not sealed; it will be sealed on next write", zap.String("path", s.path))
		}
		if doc.Entries == nil {
			doc.Entries = map[string]string{}
		}
		return doc.Entries, nil
	}
	if s.passphrase == nil {
		return nil, fmt.Errorf("filestore: %w: file is sealed and no passphrase is configured", errs.ErrCorrupt)
	}
	key := s.keyFor(doc.Salt)
	pt, err := clientcrypto.Open(key, doc.Sealed, []byte(sealAAD))
	if err != nil {
		return nil, fmt.Errorf("filestore: %w: unseal: %v", errs.ErrCorrupt, err)
	}
	entries := map[string]string{}
	if err := json.Unmarshal(pt, &entries); err != nil {
		return nil, fmt.Errorf("filestore: %w: %v", errs.ErrCorrupt, err)
	}
	return entries, nil
}

// keyFor derives the key once per salt.
func (s *Store) keyFor(salt []byte) []byte {
	if s.key != nil && string(s.salt) == string(salt) {
		return s.key
	}
	s.salt = append([]byte(nil), salt...)
	s.key = clientcrypto.DeriveKey(s.passphrase, s.salt)
	return s.key
}

func (s *Store) save(entries map[string]string) error {
	doc := document{Version: docVersion}
	if s.passphrase == nil {
		doc.Entries = entries
	} else {
		if s.salt == nil {
			salt, err := clientcrypto.Rand(clientcrypto.SaltLen)
			if err != nil {
				return err
			}
			s.keyFor(salt)
		}
		pt, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		sealed, err := clientcrypto.Seal(s.key, pt, []byte(sealAAD))
		if err != nil {
			return err
		}
		doc.Salt = s.salt
		doc.Sealed = sealed
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("filestore: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".agm-*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: %w: %v", errs.ErrUnavailable, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
