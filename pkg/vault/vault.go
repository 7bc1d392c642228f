package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type (
	// ShareVault is the boundary to an external yield-bearing vault. Shares
	// represent a claim on a pooled position; their asset value is derived
	// from the vault's live exchange rate and changes as yield accrues.
	ShareVault interface {
		// Deposit moves assets from the depositor into the vault and credits
		// the depositor with shares priced at the current exchange rate.
		Deposit(depositor common.Address, assets *big.Int) (shares *big.Int, err error)
		// Redeem burns shares held by holder and pays the resulting assets
		// out to receiver.
		Redeem(holder common.Address, shares *big.Int, receiver common.Address) (assets *big.Int, err error)
		// ConvertToAssets prices shares at the live exchange rate.
		ConvertToAssets(shares *big.Int) *big.Int
		// ConvertToShares prices assets at the live exchange rate.
		ConvertToShares(assets *big.Int) *big.Int
		BalanceOf(holder common.Address) *big.Int
		TotalAssets() *big.Int
		TotalShares() *big.Int
	}

	// AssetLedger is the balance ledger of the deposit asset.
	AssetLedger interface {
		Transfer(from common.Address, to common.Address, amount *big.Int) error
		BalanceOf(addr common.Address) *big.Int
	}
)

// VaultDepositFailedError is returned when the vault credits zero shares for a
// non-zero deposit.
type VaultDepositFailedError struct {
	Assets *big.Int
}

func (e *VaultDepositFailedError) Error() string {
	return fmt.Sprintf("vault deposit failed: %s assets yielded zero shares", e.Assets)
}

// VaultWithdrawFailedError is returned when the vault pays out zero assets for
// a non-zero share redemption.
type VaultWithdrawFailedError struct {
	Shares *big.Int
}

func (e *VaultWithdrawFailedError) Error() string {
	return fmt.Sprintf("vault withdraw failed: %s shares yielded zero assets", e.Shares)
}

// InsufficientBalanceError carries the offending balances so callers can react
// programmatically.
type InsufficientBalanceError struct {
	Have *big.Int
	Need *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s", e.Have, e.Need)
}
