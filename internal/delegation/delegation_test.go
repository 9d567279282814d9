package delegation

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestAddressFromPublicKeyFormats(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)

	uncompressed := hex.EncodeToString(crypto.FromECDSAPub(&key.PublicKey))
	compressed := hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey))

	for _, input := range []string{uncompressed, "0x" + uncompressed, "0X" + uncompressed, "0x" + compressed, " " + compressed + " "} {
		got, err := AddressFromPublicKey(input)
		if err != nil {
			t.Fatalf("derive from %s: %v", input[:10], err)
		}
		if got != want {
			t.Fatalf("got %s want %s", got.Hex(), want.Hex())
		}
	}
}

func TestAddressFromPublicKeyErrors(t *testing.T) {
	if _, err := AddressFromPublicKey("  "); !errors.Is(err, ErrMissingPublicKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := AddressFromPublicKey("0xzz"); err == nil {
		t.Fatalf("expected hex decode error")
	}
	if _, err := AddressFromPublicKey("0x"); !errors.Is(err, ErrMissingPublicKey) {
		t.Fatalf("expected missing key error for bare prefix, got %v", err)
	}
	if _, err := AddressFromPublicKey("0x010"); err == nil {
		t.Fatalf("expected odd length error")
	}
	if _, err := AddressFromPublicKey("0x0102"); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestKeyedSignerSignsForDerivedAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewKeyedSigner(key)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	dctx := signer.Context()
	addr, err := dctx.Address()
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	if addr != signer.Address() {
		t.Fatalf("derived %s, signer %s", addr.Hex(), signer.Address().Hex())
	}

	chainID := big.NewInt(8453)
	to := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: chainID, Nonce: 1, Gas: 21000, To: &to, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2)})
	signed, err := dctx.Signer.SignTx(context.Background(), tx, chainID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != addr {
		t.Fatalf("sender %s does not match %s", sender.Hex(), addr.Hex())
	}
}

func TestNewKeyedSignerFromHex(t *testing.T) {
	if _, err := NewKeyedSignerFromHex("not-hex"); err == nil {
		t.Fatalf("expected parse error")
	}
	signer, err := NewKeyedSignerFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if signer.Address() != common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23") {
		t.Fatalf("unexpected address %s", signer.Address().Hex())
	}
}
