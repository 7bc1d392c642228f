package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Adapter wraps the external share vault on behalf of a single holder identity
// (the escrow). All conversions delegate to the vault's live exchange rate and
// are never cached, so yield accrued between deposit and redemption is always
// reflected.
type Adapter struct {
	vault  ShareVault
	asset  AssetLedger
	holder common.Address
}

func NewAdapter(shareVault ShareVault, asset AssetLedger, holder common.Address) *Adapter {
	return &Adapter{
		vault:  shareVault,
		asset:  asset,
		holder: holder,
	}
}

// DepositToVault routes assets held by the adapter's holder into the vault.
// A non-zero deposit that yields zero shares fails; the vault must never be
// able to swallow value. The zero-share condition is checked before any value
// moves, so a rejected deposit leaves both ledgers untouched.
func (a *Adapter) DepositToVault(assets *big.Int) (*big.Int, error) {
	if assets.Sign() > 0 && a.vault.ConvertToShares(assets).Sign() == 0 {
		return nil, &VaultDepositFailedError{Assets: new(big.Int).Set(assets)}
	}

	shares, err := a.vault.Deposit(a.holder, assets)
	if err != nil {
		return nil, err
	}
	if assets.Sign() > 0 && shares.Sign() == 0 {
		return nil, &VaultDepositFailedError{Assets: new(big.Int).Set(assets)}
	}
	return shares, nil
}

// RedeemFromVault redeems shares from the holder's position and pays the
// assets out to receiver. A non-zero redemption that yields zero assets fails,
// before the vault is asked to burn anything.
func (a *Adapter) RedeemFromVault(shares *big.Int, receiver common.Address) (*big.Int, error) {
	if shares.Sign() > 0 && a.vault.ConvertToAssets(shares).Sign() == 0 {
		return nil, &VaultWithdrawFailedError{Shares: new(big.Int).Set(shares)}
	}

	assets, err := a.vault.Redeem(a.holder, shares, receiver)
	if err != nil {
		return nil, err
	}
	if shares.Sign() > 0 && assets.Sign() == 0 {
		return nil, &VaultWithdrawFailedError{Shares: new(big.Int).Set(shares)}
	}
	return assets, nil
}

// ShareValue prices shares at the vault's live exchange rate.
func (a *Adapter) ShareValue(shares *big.Int) *big.Int {
	return a.vault.ConvertToAssets(shares)
}

// SharesForAssets prices assets at the vault's live exchange rate.
func (a *Adapter) SharesForAssets(assets *big.Int) *big.Int {
	return a.vault.ConvertToShares(assets)
}

// TotalVaultAssets returns the live asset value of the holder's aggregate
// vault position.
func (a *Adapter) TotalVaultAssets() *big.Int {
	return a.vault.ConvertToAssets(a.vault.BalanceOf(a.holder))
}

// TotalVaultShares returns the holder's aggregate share balance.
func (a *Adapter) TotalVaultShares() *big.Int {
	return a.vault.BalanceOf(a.holder)
}

// Asset returns the deposit asset ledger the adapter accepts.
func (a *Adapter) Asset() AssetLedger {
	return a.asset
}

// Holder returns the identity the vault position is held under.
func (a *Adapter) Holder() common.Address {
	return a.holder
}
