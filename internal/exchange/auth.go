package exchange

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/decimalutil"
	"polymarket-mm/pkg/types"
)

// Credentials holds the L2 API key triplet returned by /auth/derive-api-key.
// These are used for HMAC-signed trading requests (L2 auth).
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Auth handles two layers of Polymarket authentication:
//
//   - L1 (EIP-712): Used only once to derive L2 API keys. Signs a typed-data
//     "ClobAuth" message with the wallet's private key, proving ownership.
//
//   - L2 (HMAC-SHA256): Used for all trading operations. Signs
//     "timestamp + method + path [+ body]" with the derived API secret.
//
// The funderAddress may differ from address when using a proxy/multisig wallet.
type Auth struct {
	privateKey    *ecdsa.PrivateKey   // EOA private key for L1 signing
	address       common.Address      // EOA address derived from privateKey
	funderAddress common.Address      // proxy/funder wallet (== address if no proxy)
	chainID       *big.Int            // Polygon chain ID (137 mainnet, 80002 amoy)
	sigType       types.SignatureType // 0 = EOA
	creds         Credentials         // L2 API credentials (derived or configured)
}

// NewAuth creates an Auth instance from config.
func NewAuth(cfg config.Config) (*Auth, error) {
	// Strip 0x prefix if present
	keyHex := cfg.Wallet.PrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	var funder common.Address
	if cfg.Wallet.FunderAddress != "" {
		funder = common.HexToAddress(cfg.Wallet.FunderAddress)
	} else {
		funder = address
	}

	a, err := NewAuthFromKey(privateKey, funder, big.NewInt(int64(cfg.Wallet.ChainID)), types.SignatureType(cfg.Wallet.SignatureType))
	if err != nil {
		return nil, err
	}
	a.creds = Credentials{
		ApiKey:     cfg.API.ApiKey,
		Secret:     cfg.API.Secret,
		Passphrase: cfg.API.Passphrase,
	}
	return a, nil
}

// NewAuthFromKey builds an Auth directly from an already-parsed private key,
// used by internal/registry when managing more than one wallet — config.Load
// only ever produces a single wallet, so the registry needs a path that
// doesn't round-trip through Config.
func NewAuthFromKey(privateKey *ecdsa.PrivateKey, funder common.Address, chainID *big.Int, sigType types.SignatureType) (*Auth, error) {
	return &Auth{
		privateKey:    privateKey,
		address:       crypto.PubkeyToAddress(privateKey.PublicKey),
		funderAddress: funder,
		chainID:       chainID,
		sigType:       sigType,
	}, nil
}

// Address returns the signer's Ethereum address.
func (a *Auth) Address() common.Address {
	return a.address
}

// ChainID returns the configured chain ID.
func (a *Auth) ChainID() *big.Int {
	return a.chainID
}

// FunderAddress returns the funder/proxy wallet address.
func (a *Auth) FunderAddress() common.Address {
	return a.funderAddress
}

// HasL2Credentials returns whether L2 API credentials are configured.
func (a *Auth) HasL2Credentials() bool {
	return a.creds.ApiKey != "" && a.creds.Secret != "" && a.creds.Passphrase != ""
}

// SetCredentials sets the L2 API credentials (after deriving them via L1).
func (a *Auth) SetCredentials(creds Credentials) {
	a.creds = creds
}

// Credentials returns the current L2 API credentials, for callers that
// persist them (e.g. a credential cache) between process restarts.
func (a *Auth) Credentials() Credentials {
	return a.creds
}

// L1Headers generates headers for L1-authenticated endpoints (key management).
func (a *Auth) L1Headers(nonce int) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.signClobAuth(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign clob auth: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.Itoa(nonce),
	}, nil
}

// L2Headers generates headers for L2-authenticated trading endpoints.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", sanitizeSignError(err))
	}

	return map[string]string{
		"POLY_ADDRESS":    a.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    a.creds.ApiKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

// WSAuthPayload returns credentials for the user WebSocket channel.
func (a *Auth) WSAuthPayload() *types.WSAuth {
	return &types.WSAuth{
		ApiKey:     a.creds.ApiKey,
		Secret:     a.creds.Secret,
		Passphrase: a.creds.Passphrase,
	}
}

// signClobAuth produces an EIP-712 signature for L1 authentication.
func (a *Auth) signClobAuth(timestamp string, nonce int) (string, error) {
	sig, err := a.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   "This message attests that I control the given wallet",
		},
		"ClobAuth",
	)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	return "0x" + common.Bytes2Hex(sig), nil
}

// SignTypedData signs EIP-712 typed data and adjusts V to 27/28.
func (a *Auth) SignTypedData(
	domain *apitypes.TypedDataDomain,
	typesDef apitypes.Types,
	message apitypes.TypedDataMessage,
	primaryType string,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// buildHMAC computes the HMAC-SHA256 signature for L2 auth.
// message = timestamp + method + requestPath [+ body]. The body's single
// quotes are normalized to double quotes before hashing so the signature
// matches regardless of which language's JSON serializer produced it.
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	secretBytes, err := decodeSecret(a.creds.Secret)
	if err != nil {
		return "", err
	}

	message := timestamp + method + path
	if body != "" {
		message += strings.ReplaceAll(body, "'", "\"")
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return sig, nil
}

// VerifyHMAC recomputes the L2 signature and compares it to sig in constant
// time, used when a derived-credentials response must be cross-checked
// against a locally-held secret.
func (a *Auth) VerifyHMAC(timestamp, method, path, body, sig string) (bool, error) {
	expected, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1, nil
}

func decodeSecret(secret string) ([]byte, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var err error
	for _, dec := range decoders {
		if b, decErr := dec.DecodeString(secret); decErr == nil {
			return b, nil
		} else {
			err = decErr
		}
	}
	return nil, fmt.Errorf("decode secret: %w", sanitizeSignError(err))
}

// sanitizeSignError strips any error down to its type name, so a signing
// failure can never echo key material embedded in a wrapped error's text.
func sanitizeSignError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%T", err)
}

// PriceToAmounts converts a price and size to makerAmount and takerAmount,
// both integer wei (6-decimal USDC / 6-decimal outcome tokens), using
// decimal arithmetic throughout — never float64 — per the rounding rules in
// decimalutil. size is always USD notional, not a token count; token
// quantity is derived by dividing by price. amountDecimals is the market's
// tick-size-derived rounding precision for the divided token quantity.
//
// For BUY: the maker pays makerAmount USDC (= size) and receives
// takerAmount tokens (= size/price).
// For SELL: the maker gives makerAmount tokens (= size/price) and receives
// takerAmount USDC (= size).
func PriceToAmounts(price, size decimal.Decimal, side types.Side, amountDecimals int32) (makerAmt, takerAmt *big.Int, err error) {
	if price.IsZero() {
		return nil, nil, fmt.Errorf("price must be non-zero")
	}

	sizeRounded := decimalutil.QuantizeSize(size)
	tokenQty := sizeRounded.Div(price).RoundHalfUp(amountDecimals)

	switch side {
	case types.BUY:
		makerAmt = decimalutil.ToWei(sizeRounded).BigInt()
		takerAmt = decimalutil.ToWei(tokenQty).BigInt()
	case types.SELL:
		makerAmt = decimalutil.ToWei(tokenQty).BigInt()
		takerAmt = decimalutil.ToWei(sizeRounded).BigInt()
	default:
		return nil, nil, fmt.Errorf("unknown side %q", side)
	}

	return makerAmt, takerAmt, nil
}
