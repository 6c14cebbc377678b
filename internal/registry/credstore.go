package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"polymarket-mm/internal/exchange"
)

// CredentialStore persists derived L2 API credentials to JSON files, one per
// wallet address, so a process restart can skip re-deriving (or re-minting)
// credentials against the exchange on every boot. Writes go to a .tmp file
// first and are renamed over the target so a crash mid-write never leaves a
// corrupt cache entry behind.
type CredentialStore struct {
	dir string
	mu  sync.Mutex
}

// OpenCredentialStore creates a credential cache backed by dir, creating it
// if it doesn't exist.
func OpenCredentialStore(dir string) (*CredentialStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential store dir: %w", err)
	}
	return &CredentialStore{dir: dir}, nil
}

func (s *CredentialStore) path(walletID string) string {
	return filepath.Join(s.dir, "creds_"+walletID+".json")
}

// Save atomically persists creds for walletID.
func (s *CredentialStore) Save(walletID string, creds exchange.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	path := s.path(walletID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load returns the cached credentials for walletID, or nil, nil if nothing
// is cached yet.
func (s *CredentialStore) Load(walletID string) (*exchange.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(walletID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds exchange.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &creds, nil
}

// Forget removes any cached credentials for walletID. Used when the cache
// turns out to be stale (e.g. the exchange rejects the cached key).
func (s *CredentialStore) Forget(walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(walletID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
