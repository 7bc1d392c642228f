package vault

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryAsset is an in-process deposit asset ledger used by devnet mode and
// tests.
type MemoryAsset struct {
	mutex       sync.Mutex
	balances    map[common.Address]*big.Int
	totalSupply *big.Int
}

func NewMemoryAsset() *MemoryAsset {
	return &MemoryAsset{
		balances:    make(map[common.Address]*big.Int),
		totalSupply: new(big.Int),
	}
}

// Mint credits amount to an account. Test and devnet setup only.
func (a *MemoryAsset) Mint(to common.Address, amount *big.Int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.credit(to, amount)
	a.totalSupply.Add(a.totalSupply, amount)
}

func (a *MemoryAsset) Transfer(from common.Address, to common.Address, amount *big.Int) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	have := a.balanceLocked(from)
	if have.Cmp(amount) < 0 {
		return &InsufficientBalanceError{Have: new(big.Int).Set(have), Need: new(big.Int).Set(amount)}
	}

	have.Sub(have, amount)
	a.credit(to, amount)
	return nil
}

func (a *MemoryAsset) BalanceOf(addr common.Address) *big.Int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return new(big.Int).Set(a.balanceLocked(addr))
}

func (a *MemoryAsset) TotalSupply() *big.Int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return new(big.Int).Set(a.totalSupply)
}

func (a *MemoryAsset) credit(to common.Address, amount *big.Int) {
	a.balanceLocked(to).Add(a.balanceLocked(to), amount)
}

func (a *MemoryAsset) balanceLocked(addr common.Address) *big.Int {
	b, ok := a.balances[addr]
	if !ok {
		b = new(big.Int)
		a.balances[addr] = b
	}
	return b
}

// MemoryVault is an in-process share-based yield vault. The first deposit is
// priced 1:1; later deposits and all redemptions are priced by the live
// totals. Conversions round down, so rounding can only ever favor the pool,
// never fabricate value.
type MemoryVault struct {
	mutex       sync.Mutex
	asset       *MemoryAsset
	address     common.Address
	shares      map[common.Address]*big.Int
	totalShares *big.Int
	totalAssets *big.Int
}

func NewMemoryVault(asset *MemoryAsset, address common.Address) *MemoryVault {
	return &MemoryVault{
		asset:       asset,
		address:     address,
		shares:      make(map[common.Address]*big.Int),
		totalShares: new(big.Int),
		totalAssets: new(big.Int),
	}
}

func (v *MemoryVault) Deposit(depositor common.Address, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() < 0 {
		return nil, fmt.Errorf("invalid deposit amount")
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	shares := v.convertToSharesLocked(assets)
	if assets.Sign() > 0 && shares.Sign() == 0 {
		// Reject before moving value; the pool must not absorb a deposit it
		// cannot credit shares for.
		return nil, &VaultDepositFailedError{Assets: new(big.Int).Set(assets)}
	}

	if err := v.asset.Transfer(depositor, v.address, assets); err != nil {
		return nil, err
	}

	v.shareBalanceLocked(depositor).Add(v.shareBalanceLocked(depositor), shares)
	v.totalShares.Add(v.totalShares, shares)
	v.totalAssets.Add(v.totalAssets, assets)

	return new(big.Int).Set(shares), nil
}

func (v *MemoryVault) Redeem(holder common.Address, shares *big.Int, receiver common.Address) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, fmt.Errorf("invalid share amount")
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	have := v.shareBalanceLocked(holder)
	if have.Cmp(shares) < 0 {
		return nil, &InsufficientBalanceError{Have: new(big.Int).Set(have), Need: new(big.Int).Set(shares)}
	}

	assets := v.convertToAssetsLocked(shares)
	if shares.Sign() > 0 && assets.Sign() == 0 {
		// Reject before burning; shares must never be destroyed for nothing.
		return nil, &VaultWithdrawFailedError{Shares: new(big.Int).Set(shares)}
	}

	if err := v.asset.Transfer(v.address, receiver, assets); err != nil {
		return nil, err
	}

	have.Sub(have, shares)
	v.totalShares.Sub(v.totalShares, shares)
	v.totalAssets.Sub(v.totalAssets, assets)

	return assets, nil
}

func (v *MemoryVault) ConvertToAssets(shares *big.Int) *big.Int {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.convertToAssetsLocked(shares)
}

func (v *MemoryVault) ConvertToShares(assets *big.Int) *big.Int {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.convertToSharesLocked(assets)
}

func (v *MemoryVault) BalanceOf(holder common.Address) *big.Int {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return new(big.Int).Set(v.shareBalanceLocked(holder))
}

func (v *MemoryVault) TotalAssets() *big.Int {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return new(big.Int).Set(v.totalAssets)
}

func (v *MemoryVault) TotalShares() *big.Int {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return new(big.Int).Set(v.totalShares)
}

// AccrueYield simulates yield by minting basis points of the current assets
// into the vault's position. Devnet and test use only.
func (v *MemoryVault) AccrueYield(bps uint64) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	gain := new(big.Int).Mul(v.totalAssets, new(big.Int).SetUint64(bps))
	gain.Div(gain, big.NewInt(10_000))
	if gain.Sign() == 0 {
		return
	}

	v.asset.Mint(v.address, gain)
	v.totalAssets.Add(v.totalAssets, gain)
}

func (v *MemoryVault) convertToSharesLocked(assets *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 || v.totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	shares := new(big.Int).Mul(assets, v.totalShares)
	return shares.Div(shares, v.totalAssets)
}

func (v *MemoryVault) convertToAssetsLocked(shares *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 {
		return new(big.Int)
	}
	assets := new(big.Int).Mul(shares, v.totalAssets)
	return assets.Div(assets, v.totalShares)
}

func (v *MemoryVault) shareBalanceLocked(holder common.Address) *big.Int {
	b, ok := v.shares[holder]
	if !ok {
		b = new(big.Int)
		v.shares[holder] = b
	}
	return b
}
