// Package delegation models the custody collaborator: a delegator public key
// identifying the account and a signer that signs on the delegator's behalf.
package delegation

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrMissingPublicKey is returned when no delegator key was supplied.
var ErrMissingPublicKey = errors.New("delegator public key not available from delegation context")

// Signer signs transactions for the delegator. Implementations never expose
// the private key.
type Signer interface {
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Context is what the hosting framework hands to a tool about the delegation
// under which it runs.
type Context struct {
	// PublicKey is the hex encoded secp256k1 public key, compressed (33 bytes)
	// or uncompressed (65 bytes), with or without the 0x prefix.
	PublicKey string
	Signer    Signer
}

// Address derives the delegator's account address from PublicKey.
func (c Context) Address() (common.Address, error) {
	return AddressFromPublicKey(c.PublicKey)
}

// AddressFromPublicKey converts a hex public key into an account address.
func AddressFromPublicKey(publicKey string) (common.Address, error) {
	raw := strings.TrimSpace(publicKey)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	if len(raw) == 2 {
		return common.Address{}, ErrMissingPublicKey
	}
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode delegator public key: %w", err)
	}

	var pub *ecdsa.PublicKey
	switch len(decoded) {
	case 33:
		pub, err = crypto.DecompressPubkey(decoded)
	case 65:
		pub, err = crypto.UnmarshalPubkey(decoded)
	default:
		return common.Address{}, fmt.Errorf("delegator public key has unexpected length %d", len(decoded))
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("parse delegator public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// KeyedSigner signs with a locally held key. It stands in for a remote
// custody signer in development and tests.
type KeyedSigner struct {
	key *ecdsa.PrivateKey
}

// NewKeyedSigner wraps an existing private key.
func NewKeyedSigner(key *ecdsa.PrivateKey) (*KeyedSigner, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}
	return &KeyedSigner{key: key}, nil
}

// NewKeyedSignerFromHex parses a hex private key.
func NewKeyedSignerFromHex(privateKey string) (*KeyedSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyedSigner{key: key}, nil
}

// PublicKeyHex returns the uncompressed public key as 0x prefixed hex.
func (s *KeyedSigner) PublicKeyHex() string {
	return hexutil.Encode(crypto.FromECDSAPub(&s.key.PublicKey))
}

// Address returns the signer's account address.
func (s *KeyedSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Context returns a delegation context backed by this signer.
func (s *KeyedSigner) Context() Context {
	return Context{PublicKey: s.PublicKeyHex(), Signer: s}
}

// SignTx implements Signer.
func (s *KeyedSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chainID == nil {
		return nil, errors.New("chain id is required for signing")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
