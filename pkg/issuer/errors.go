package issuer

import (
	"errors"
	"fmt"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
)

var (
	ErrZeroAddress = errors.New("zero address")
	ErrZeroAmount  = errors.New("zero amount")
	ErrNotOwner    = errors.New("caller is not the issuer owner")
	ErrPaused      = errors.New("issuer is paused")
)

// InvalidChainIDError is returned when a message's destination chain does not
// match the ledger the issuer executes on. This check runs before any other.
type InvalidChainIDError struct {
	Got  authmsg.ChainID
	Want authmsg.ChainID
}

func (e *InvalidChainIDError) Error() string {
	return fmt.Sprintf("invalid destination chain: got %d, this ledger is %d", e.Got, e.Want)
}

// SourceChainNotSupportedError is returned when the message's source chain is
// not registered or has been disabled.
type SourceChainNotSupportedError struct {
	ChainID authmsg.ChainID
}

func (e *SourceChainNotSupportedError) Error() string {
	return fmt.Sprintf("source chain %d is not supported", e.ChainID)
}

// NonceAlreadyUsedError is returned for a (source chain, nonce) pair that has
// already been consumed by a mint. Consumption is permanent.
type NonceAlreadyUsedError struct {
	SourceChainID authmsg.ChainID
	Nonce         uint64
}

func (e *NonceAlreadyUsedError) Error() string {
	return fmt.Sprintf("nonce %d from source chain %d already consumed", e.Nonce, e.SourceChainID)
}
