// Package registry manages the set of wallets a single bot process trades
// from: signer derivation, funder-address resolution for proxy/Magic
// wallets, and L2 credential bootstrap (derive-existing-else-mint-new).
package registry

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/pkg/clobtypes"
	"polymarket-mm/pkg/types"
)

// WalletConfig is the input needed to add one wallet to the registry.
type WalletConfig struct {
	PrivateKey    string
	SignatureType types.SignatureType
	FunderAddress string // required when SignatureType != SigEOA
	ChainID       int64
}

// Wallet is one registered signer. PrivateKey is never exposed through
// String/GoString so a Wallet can be logged or included in a struct dump
// without leaking key material.
type Wallet struct {
	ID            string
	Address       common.Address
	FunderAddress common.Address
	SignatureType types.SignatureType
	ChainID       int64
	Auth          *exchange.Auth

	privateKey *ecdsa.PrivateKey
}

// String omits all secret material, satisfying fmt.Stringer without risk.
func (w *Wallet) String() string {
	return fmt.Sprintf("Wallet{id=%s address=%s funder=%s sigType=%d}", w.ID, w.Address.Hex(), w.FunderAddress.Hex(), w.SignatureType)
}

// GoString mirrors String for %#v formatting — never the default struct dump,
// which would otherwise print privateKey's field layout.
func (w *Wallet) GoString() string {
	return w.String()
}

// Registry holds every wallet this process is configured to trade from.
// The first wallet added becomes the default.
type Registry struct {
	mu        sync.RWMutex
	wallets   map[string]*Wallet
	defaultID string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{wallets: make(map[string]*Wallet)}
}

// Add derives a signer from cfg, validates the funder/signature-type
// pairing, and inserts the wallet keyed by its checksummed EOA address.
// Adding the same address twice is refused.
func (r *Registry) Add(cfg WalletConfig) (string, error) {
	keyHex := cfg.PrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return "", clobtypes.Wrap(clobtypes.KindValidation, "parse private key", err, nil)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	id := address.Hex()

	var funder common.Address
	if cfg.SignatureType == types.SigEOA {
		funder = address
	} else {
		if cfg.FunderAddress == "" {
			return "", clobtypes.New(clobtypes.KindValidation, "funder_address is required for non-EOA signature types", map[string]any{"signature_type": cfg.SignatureType})
		}
		funder = common.HexToAddress(cfg.FunderAddress)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.wallets[id]; exists {
		return "", clobtypes.New(clobtypes.KindValidation, "wallet already registered", map[string]any{"address": id})
	}

	auth, err := exchange.NewAuthFromKey(privateKey, funder, big.NewInt(cfg.ChainID), cfg.SignatureType)
	if err != nil {
		return "", clobtypes.Wrap(clobtypes.KindAuthentication, "build authenticator", err, nil)
	}

	w := &Wallet{
		ID:            id,
		Address:       address,
		FunderAddress: funder,
		SignatureType: cfg.SignatureType,
		ChainID:       cfg.ChainID,
		Auth:          auth,
		privateKey:    privateKey,
	}
	r.wallets[id] = w
	if r.defaultID == "" {
		r.defaultID = id
	}

	return id, nil
}

// Remove deletes a wallet. Removing the default wallet promotes an
// arbitrary remaining wallet to default, or clears it if none remain.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.wallets[id]; !ok {
		return clobtypes.New(clobtypes.KindValidation, "wallet not found", map[string]any{"id": id})
	}
	delete(r.wallets, id)

	if r.defaultID == id {
		r.defaultID = ""
		for otherID := range r.wallets {
			r.defaultID = otherID
			break
		}
	}
	return nil
}

// Get returns the wallet for id, or the default wallet when id is empty.
func (r *Registry) Get(id string) (*Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == "" {
		id = r.defaultID
	}
	w, ok := r.wallets[id]
	if !ok {
		return nil, clobtypes.New(clobtypes.KindValidation, "wallet not found", map[string]any{"id": id})
	}
	return w, nil
}

// DefaultID returns the current default wallet ID, or "" if the registry is empty.
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// IDs returns every registered wallet ID.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.wallets))
	for id := range r.wallets {
		ids = append(ids, id)
	}
	return ids
}

// Bootstrap derives or mints L2 API credentials for wallet w via c: it first
// attempts the derive-existing path, falling back to minting new credentials
// on failure, matching the exchange's own derive-or-mint ordering. store may
// be nil, in which case no caching is attempted.
func Bootstrap(ctx context.Context, c *exchange.Client, w *Wallet, store *CredentialStore) error {
	if w.Auth.HasL2Credentials() {
		return nil
	}

	if store != nil {
		cached, err := store.Load(w.ID)
		if err == nil && cached != nil {
			w.Auth.SetCredentials(*cached)
			return nil
		}
	}

	if _, err := c.DeriveAPIKey(ctx); err != nil {
		return clobtypes.Wrap(clobtypes.KindAuthentication, "derive or mint API key", err, map[string]any{"wallet": w.ID})
	}

	if store != nil {
		if err := store.Save(w.ID, w.Auth.Credentials()); err != nil {
			return clobtypes.Wrap(clobtypes.KindUnknown, "cache derived credentials", err, map[string]any{"wallet": w.ID})
		}
	}
	return nil
}
