package inMemoryWalletSigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/walletbridge/remote-signer-go/pkg/ethsig"
)

// InMemoryWalletSigner signs with a secp256k1 key held in process memory.
// EIP-191 personal-sign, no user interaction. Intended for tests and the
// responder CLI; a production mobile wallet supplies its own IWalletSigner.
type InMemoryWalletSigner struct {
	logger     *zap.Logger
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewInMemoryWalletSigner wraps an existing private key
func NewInMemoryWalletSigner(key *ecdsa.PrivateKey, logger *zap.Logger) *InMemoryWalletSigner {
	return &InMemoryWalletSigner{
		logger:     logger,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewInMemoryWalletSignerFromHex loads a hex-encoded private key (with or
// without 0x prefix)
func NewInMemoryWalletSignerFromHex(keyHex string, logger *zap.Logger) (*InMemoryWalletSigner, error) {
	keyHex = strings.TrimPrefix(keyHex, "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("error loading private key: %w", err)
	}
	return NewInMemoryWalletSigner(key, logger), nil
}

// Address returns the wallet address derived from the key
func (s *InMemoryWalletSigner) Address() common.Address {
	return s.address
}

// SignMessage personal-signs message with the in-memory key
func (s *InMemoryWalletSigner) SignMessage(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sig, err := ethsig.PersonalSign(message, s.privateKey)
	if err != nil {
		return "", err
	}
	s.logger.Sugar().Debugw("Signed message", "address", s.address.Hex(), "message_len", len(message))
	return sig, nil
}
