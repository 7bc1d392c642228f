package wrapped

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	ownerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bridgeAddr = common.HexToAddress("0x0000000000000000000000000000000000000002")
	userAddr   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	otherAddr  = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(zaptest.NewLogger(t), ownerAddr)
	require.NoError(t, l.SetBridge(ownerAddr, bridgeAddr))
	return l
}

func TestMintRestrictedToBridge(t *testing.T) {
	l := newTestLedger(t)

	err := l.Mint(userAddr, userAddr, big.NewInt(100))
	assert.ErrorIs(t, err, ErrOnlyBridge)
	assert.Equal(t, big.NewInt(0), l.BalanceOf(userAddr))

	require.NoError(t, l.Mint(bridgeAddr, userAddr, big.NewInt(100)))
	assert.Equal(t, big.NewInt(100), l.BalanceOf(userAddr))
	assert.Equal(t, big.NewInt(100), l.TotalSupply())
}

func TestMintBeforeBridgeBound(t *testing.T) {
	l := NewLedger(zaptest.NewLogger(t), ownerAddr)

	// The zero bridge binding must not authorize anyone, including a caller
	// presenting the zero address.
	err := l.Mint(common.Address{}, userAddr, big.NewInt(1))
	assert.ErrorIs(t, err, ErrOnlyBridge)
}

func TestBurnRestrictedToBridge(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(bridgeAddr, userAddr, big.NewInt(100)))

	err := l.Burn(userAddr, userAddr, big.NewInt(50))
	assert.ErrorIs(t, err, ErrOnlyBridge)

	require.NoError(t, l.Burn(bridgeAddr, userAddr, big.NewInt(50)))
	assert.Equal(t, big.NewInt(50), l.BalanceOf(userAddr))
	assert.Equal(t, big.NewInt(50), l.TotalSupply())

	err = l.Burn(bridgeAddr, userAddr, big.NewInt(51))
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, big.NewInt(50), insufficient.Have)
	assert.Equal(t, big.NewInt(51), insufficient.Need)
}

func TestMintValidation(t *testing.T) {
	l := newTestLedger(t)

	assert.ErrorIs(t, l.Mint(bridgeAddr, common.Address{}, big.NewInt(1)), ErrZeroAddress)
	assert.ErrorIs(t, l.Mint(bridgeAddr, userAddr, nil), ErrZeroAmount)
	assert.ErrorIs(t, l.Mint(bridgeAddr, userAddr, big.NewInt(0)), ErrZeroAmount)
}

func TestSetBridgeAdmin(t *testing.T) {
	l := NewLedger(zaptest.NewLogger(t), ownerAddr)

	assert.ErrorIs(t, l.SetBridge(ownerAddr, common.Address{}), ErrZeroAddress)
	assert.ErrorIs(t, l.SetBridge(userAddr, bridgeAddr), ErrNotOwner)

	require.NoError(t, l.SetBridge(ownerAddr, bridgeAddr))
	assert.Equal(t, bridgeAddr, l.Bridge())

	// Rebinding transfers the authorization.
	require.NoError(t, l.SetBridge(ownerAddr, otherAddr))
	assert.ErrorIs(t, l.Mint(bridgeAddr, userAddr, big.NewInt(1)), ErrOnlyBridge)
	require.NoError(t, l.Mint(otherAddr, userAddr, big.NewInt(1)))
}

func TestTransferOwnership(t *testing.T) {
	l := newTestLedger(t)

	assert.ErrorIs(t, l.TransferOwnership(ownerAddr, common.Address{}), ErrZeroAddress)
	assert.ErrorIs(t, l.TransferOwnership(userAddr, userAddr), ErrNotOwner)

	require.NoError(t, l.TransferOwnership(ownerAddr, userAddr))
	assert.Equal(t, userAddr, l.Owner())

	assert.ErrorIs(t, l.SetBridge(ownerAddr, otherAddr), ErrNotOwner)
	require.NoError(t, l.SetBridge(userAddr, otherAddr))
}

func TestTransferBetweenHolders(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Mint(bridgeAddr, userAddr, big.NewInt(100)))

	require.NoError(t, l.Transfer(userAddr, otherAddr, big.NewInt(40)))
	assert.Equal(t, big.NewInt(60), l.BalanceOf(userAddr))
	assert.Equal(t, big.NewInt(40), l.BalanceOf(otherAddr))

	err := l.Transfer(userAddr, otherAddr, big.NewInt(61))
	var insufficient *InsufficientBalanceError
	assert.ErrorAs(t, err, &insufficient)
}
