package initiator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RemoteSigner is the capability handed to a wallet-client abstraction once
// the session is authenticated. It binds the responder's address to
// RequestSignature; every SignMessage call round-trips to the mobile device.
type RemoteSigner struct {
	address   common.Address
	initiator *Initiator
}

// Address is the authenticated wallet address
func (s *RemoteSigner) Address() common.Address {
	return s.address
}

// SignMessage relays message to the remote wallet and returns the raw
// signature bytes
func (s *RemoteSigner) SignMessage(ctx context.Context, message string) ([]byte, error) {
	sigHex, err := s.initiator.RequestSignature(ctx, message)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return nil, fmt.Errorf("responder returned undecodable signature: %w", err)
	}
	return sig, nil
}
