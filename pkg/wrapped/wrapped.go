// package wrapped implements the destination-side balance ledger for the
// wrapped representation of the deposit asset. Mint and burn are restricted to
// exactly one authorized caller, the bridge (the destination issuer).
package wrapped

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrOnlyBridge  = errors.New("caller is not the authorized bridge")
	ErrNotOwner    = errors.New("caller is not the ledger owner")
	ErrZeroAddress = errors.New("zero address")
	ErrZeroAmount  = errors.New("zero amount")
)

// InsufficientBalanceError carries the offending balances so callers can react
// programmatically.
type InsufficientBalanceError struct {
	Have *big.Int
	Need *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s", e.Have, e.Need)
}

type Ledger struct {
	logger *zap.Logger

	mutex       sync.Mutex
	owner       common.Address
	bridge      common.Address
	balances    map[common.Address]*big.Int
	totalSupply *big.Int
}

func NewLedger(logger *zap.Logger, owner common.Address) *Ledger {
	return &Ledger{
		logger:      logger,
		owner:       owner,
		balances:    make(map[common.Address]*big.Int),
		totalSupply: new(big.Int),
	}
}

// SetBridge binds the single address allowed to mint and burn. Owner only.
// Rebinding is an administrative transfer of the authorization.
func (l *Ledger) SetBridge(caller common.Address, bridge common.Address) error {
	if bridge == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	l.bridge = bridge
	if l.logger != nil {
		l.logger.Info("bridge binding changed", zap.Stringer("bridge", bridge))
	}
	return nil
}

// TransferOwnership hands ledger administration to a new owner. Owner only.
func (l *Ledger) TransferOwnership(caller common.Address, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	l.owner = newOwner
	return nil
}

// Mint credits amount to an account. Bridge only.
func (l *Ledger) Mint(caller common.Address, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.bridge == (common.Address{}) || caller != l.bridge {
		return ErrOnlyBridge
	}

	l.balanceLocked(to).Add(l.balanceLocked(to), amount)
	l.totalSupply.Add(l.totalSupply, amount)
	return nil
}

// Burn debits amount from an account. Bridge only.
func (l *Ledger) Burn(caller common.Address, from common.Address, amount *big.Int) error {
	if from == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.bridge == (common.Address{}) || caller != l.bridge {
		return ErrOnlyBridge
	}

	have := l.balanceLocked(from)
	if have.Cmp(amount) < 0 {
		return &InsufficientBalanceError{Have: new(big.Int).Set(have), Need: new(big.Int).Set(amount)}
	}

	have.Sub(have, amount)
	l.totalSupply.Sub(l.totalSupply, amount)
	return nil
}

// Transfer moves balance between holders.
func (l *Ledger) Transfer(caller common.Address, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	have := l.balanceLocked(caller)
	if have.Cmp(amount) < 0 {
		return &InsufficientBalanceError{Have: new(big.Int).Set(have), Need: new(big.Int).Set(amount)}
	}

	have.Sub(have, amount)
	l.balanceLocked(to).Add(l.balanceLocked(to), amount)
	return nil
}

func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return new(big.Int).Set(l.balanceLocked(addr))
}

func (l *Ledger) TotalSupply() *big.Int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return new(big.Int).Set(l.totalSupply)
}

func (l *Ledger) Owner() common.Address {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.owner
}

func (l *Ledger) Bridge() common.Address {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.bridge
}

func (l *Ledger) balanceLocked(addr common.Address) *big.Int {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	return b
}
