package registry

import (
	"testing"

	"polymarket-mm/internal/exchange"
)

func TestCredentialStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := OpenCredentialStore(dir)
	if err != nil {
		t.Fatalf("OpenCredentialStore: %v", err)
	}

	want := exchange.Credentials{ApiKey: "key", Secret: "c2VjcmV0", Passphrase: "pass"}
	if err := s.Save("0xabc", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("0xabc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestCredentialStoreLoadMissingReturnsNil(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := OpenCredentialStore(dir)
	if err != nil {
		t.Fatalf("OpenCredentialStore: %v", err)
	}

	got, err := s.Load("0xnotthere")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing wallet, got %+v", got)
	}
}

func TestCredentialStoreForgetRemovesEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := OpenCredentialStore(dir)
	if err != nil {
		t.Fatalf("OpenCredentialStore: %v", err)
	}

	if err := s.Save("0xabc", exchange.Credentials{ApiKey: "key", Secret: "s", Passphrase: "p"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Forget("0xabc"); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	got, err := s.Load("0xabc")
	if err != nil {
		t.Fatalf("Load after Forget: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after Forget, got %+v", got)
	}
}

func TestBootstrapSkipsDeriveWhenCredentialsCached(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := OpenCredentialStore(dir)
	if err != nil {
		t.Fatalf("OpenCredentialStore: %v", err)
	}

	r := New()
	id, err := r.Add(WalletConfig{PrivateKey: randomKeyHex(t), ChainID: 137})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	w, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	cached := exchange.Credentials{ApiKey: "cached-key", Secret: "cached-secret", Passphrase: "cached-pass"}
	if err := store.Save(w.ID, cached); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Bootstrap is called with a nil *exchange.Client: if it reached the
	// derive-or-mint path it would nil-dereference, so a successful return
	// here proves the cache hit short-circuited before touching c.
	if err := Bootstrap(nil, nil, w, store); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !w.Auth.HasL2Credentials() {
		t.Fatal("expected cached credentials to populate the wallet's Auth")
	}
	if w.Auth.Credentials() != cached {
		t.Fatalf("expected cached credentials %+v, got %+v", cached, w.Auth.Credentials())
	}
}
