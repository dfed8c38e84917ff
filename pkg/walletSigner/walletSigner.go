package walletSigner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// IWalletSigner is the signing primitive the responder is handed: "ask the
// wallet to sign this text". On a real device this prompts the user; the
// in-memory implementation signs immediately with a local key.
type IWalletSigner interface {
	// Address is the wallet address signatures are attributed to
	Address() common.Address
	// SignMessage signs a human-readable message and returns the 0x-hex
	// encoded signature. Blocking; honors ctx cancellation.
	SignMessage(ctx context.Context, message string) (string, error)
}
