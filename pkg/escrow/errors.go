package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
	"github.com/yieldbridge/yieldbridge/node/pkg/db"
)

var (
	ErrZeroAddress  = errors.New("zero address")
	ErrZeroAmount   = errors.New("zero amount")
	ErrNotOwner     = errors.New("caller is not the escrow owner")
	ErrPaused       = errors.New("escrow is paused")
	ErrUnknownNonce = errors.New("no deposit record for nonce")
)

// ChainNotSupportedError is returned when a deposit targets a destination
// chain that is not registered or has been disabled.
type ChainNotSupportedError struct {
	ChainID authmsg.ChainID
}

func (e *ChainNotSupportedError) Error() string {
	return fmt.Sprintf("destination chain %d is not supported", e.ChainID)
}

// NonceAlreadyUsedError is returned when refund or completion is attempted on
// a record that already left the Pending state. It carries the terminal status
// so tooling can tell the two outcomes apart.
type NonceAlreadyUsedError struct {
	Nonce  uint64
	Status db.DepositStatus
}

func (e *NonceAlreadyUsedError) Error() string {
	return fmt.Sprintf("nonce %d already used: deposit is %s", e.Nonce, e.Status)
}

// SlippageExceededError is returned when a refund would redeem fewer assets
// than the caller's minimum. The refund is rejected before any state changes.
type SlippageExceededError struct {
	Redeemed *big.Int
	Min      *big.Int
}

func (e *SlippageExceededError) Error() string {
	return fmt.Sprintf("refund slippage exceeded: would redeem %s, minimum %s", e.Redeemed, e.Min)
}
