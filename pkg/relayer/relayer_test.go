package relayer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
	"github.com/yieldbridge/yieldbridge/node/pkg/db"
	"github.com/yieldbridge/yieldbridge/node/pkg/escrow"
	"github.com/yieldbridge/yieldbridge/node/pkg/issuer"
	"github.com/yieldbridge/yieldbridge/node/pkg/relayersigner"
	"github.com/yieldbridge/yieldbridge/node/pkg/vault"
	"github.com/yieldbridge/yieldbridge/node/pkg/wrapped"
)

const (
	sourceChain      = authmsg.ChainID(1)
	destinationChain = authmsg.ChainID(100)
)

var (
	ownerAddr     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	depositorAddr = common.HexToAddress("0x0000000000000000000000000000000000000002")
	recipientAddr = common.HexToAddress("0x0000000000000000000000000000000000000003")
	remoteAddr    = common.HexToAddress("0x0000000000000000000000000000000000000004")
	issuerAddr    = common.HexToAddress("0x0000000000000000000000000000000000000005")
	tokenAddr     = common.HexToAddress("0x0000000000000000000000000000000000000006")
	vaultAddr     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	escrowAddr    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// checkpointStore records every persisted checkpoint.
type checkpointStore struct {
	stored []uint64
	loaded uint64
}

func (s *checkpointStore) StoreRelayerCheckpoint(chain authmsg.ChainID, nonce uint64) error {
	s.stored = append(s.stored, nonce)
	return nil
}

func (s *checkpointStore) GetRelayerCheckpoint(chain authmsg.ChainID) (uint64, error) {
	return s.loaded, nil
}

type testEnv struct {
	relayer *Relayer
	escrow  *escrow.Escrow
	issuer  *issuer.Issuer
	ledger  *wrapped.Ledger
	store   *checkpointStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)

	asset := vault.NewMemoryAsset()
	shareVault := vault.NewMemoryVault(asset, vaultAddr)
	adapter := vault.NewAdapter(shareVault, asset, escrowAddr)
	e := escrow.NewEscrow(logger, nil, adapter, sourceChain, ownerAddr, nil)
	require.NoError(t, e.AddChain(ownerAddr, destinationChain, remoteAddr))
	asset.Mint(depositorAddr, big.NewInt(1_000_000))

	ledger := wrapped.NewLedger(logger, ownerAddr)
	require.NoError(t, ledger.SetBridge(ownerAddr, issuerAddr))
	i := issuer.NewIssuer(logger, nil, ledger, destinationChain, issuerAddr, ownerAddr, nil)
	require.NoError(t, i.AddSourceChain(ownerAddr, sourceChain, tokenAddr, remoteAddr))

	signer, err := relayersigner.GenerateSignerWithPrivatekeyUnsafe(nil)
	require.NoError(t, err)
	require.NoError(t, i.SetRelayer(ownerAddr, relayersigner.Address(signer)))

	store := &checkpointStore{}
	r := NewRelayer(logger, store, signer, e, i, Config{
		PollInterval:     time.Millisecond,
		DeadlineValidity: time.Minute,
		SubmitsPerSecond: 1000,
	})

	return &testEnv{relayer: r, escrow: e, issuer: i, ledger: ledger, store: store}
}

func (env *testEnv) deposit(t *testing.T, amount int64) uint64 {
	t.Helper()
	record, err := env.escrow.Deposit(depositorAddr, recipientAddr, big.NewInt(amount), destinationChain)
	require.NoError(t, err)
	return record.Nonce
}

func TestRelayDepositToMint(t *testing.T) {
	env := newTestEnv(t)

	env.deposit(t, 1000)
	env.deposit(t, 250)

	env.relayer.RunCycle(context.Background())

	assert.Equal(t, big.NewInt(1250), env.ledger.BalanceOf(recipientAddr))
	assert.True(t, env.issuer.IsNonceConsumed(sourceChain, 1))
	assert.True(t, env.issuer.IsNonceConsumed(sourceChain, 2))
	assert.Equal(t, uint64(2), env.relayer.Checkpoint())
	assert.Equal(t, []uint64{2}, env.store.stored)
}

func TestRelayDoesNotDoubleMint(t *testing.T) {
	env := newTestEnv(t)

	env.deposit(t, 1000)

	env.relayer.RunCycle(context.Background())
	env.relayer.RunCycle(context.Background())
	env.relayer.RunCycle(context.Background())

	assert.Equal(t, big.NewInt(1000), env.ledger.BalanceOf(recipientAddr))
	assert.Equal(t, big.NewInt(1000), env.ledger.TotalSupply())
}

func TestRelaySkipsRefundedDeposits(t *testing.T) {
	env := newTestEnv(t)

	nonce := env.deposit(t, 1000)
	_, err := env.escrow.Refund(ownerAddr, nonce, nil)
	require.NoError(t, err)

	env.deposit(t, 500)

	env.relayer.RunCycle(context.Background())

	// The refunded deposit is passed over, the live one is minted.
	assert.False(t, env.issuer.IsNonceConsumed(sourceChain, nonce))
	assert.Equal(t, big.NewInt(500), env.ledger.BalanceOf(recipientAddr))
	assert.Equal(t, uint64(2), env.relayer.Checkpoint())
}

func TestRelaySkipsConsumedNonces(t *testing.T) {
	env := newTestEnv(t)

	env.deposit(t, 1000)

	// A lost checkpoint replays the deposit on the next cycle.
	env.relayer.RunCycle(context.Background())
	env.relayer.checkpoint = 0
	env.relayer.RunCycle(context.Background())

	assert.Equal(t, big.NewInt(1000), env.ledger.BalanceOf(recipientAddr))
	assert.Equal(t, uint64(1), env.relayer.Checkpoint())
}

func TestRelayRetriesFailedSubmission(t *testing.T) {
	env := newTestEnv(t)

	env.deposit(t, 1000)

	// Untrusted relayer key: every submission is rejected.
	require.NoError(t, env.issuer.SetRelayer(ownerAddr, ownerAddr))
	env.relayer.RunCycle(context.Background())

	assert.Equal(t, uint64(0), env.relayer.Checkpoint())
	assert.Equal(t, big.NewInt(0), env.ledger.BalanceOf(recipientAddr))

	// Once the key is trusted again the next cycle delivers the deposit.
	require.NoError(t, env.issuer.SetRelayer(ownerAddr, relayersigner.Address(env.relayer.signer)))
	env.relayer.RunCycle(context.Background())

	assert.Equal(t, uint64(1), env.relayer.Checkpoint())
	assert.Equal(t, big.NewInt(1000), env.ledger.BalanceOf(recipientAddr))
}

func TestRelayFailureBlocksLaterDeposits(t *testing.T) {
	env := newTestEnv(t)

	env.deposit(t, 1000)
	env.deposit(t, 500)

	require.NoError(t, env.issuer.SetRelayer(ownerAddr, ownerAddr))
	env.relayer.RunCycle(context.Background())

	// Nothing is minted out of order past the failed item.
	assert.Equal(t, uint64(0), env.relayer.Checkpoint())
	assert.Equal(t, big.NewInt(0), env.ledger.TotalSupply())
}

func TestRelayWithStubCheckpointStore(t *testing.T) {
	env := newTestEnv(t)

	// A store that discards checkpoints still relays; the checkpoint is
	// tracked in memory for the life of the process.
	r := NewRelayer(zaptest.NewLogger(t), &db.MockRelayerDB{}, env.relayer.signer, env.escrow, env.issuer, Config{})

	env.deposit(t, 1000)
	r.RunCycle(context.Background())

	assert.Equal(t, big.NewInt(1000), env.ledger.BalanceOf(recipientAddr))
	assert.Equal(t, uint64(1), r.Checkpoint())
}

func TestRelayResumesFromPersistedCheckpoint(t *testing.T) {
	env := newTestEnv(t)

	env.deposit(t, 1000)
	env.deposit(t, 500)

	// Pretend the first deposit was handled by a previous process.
	env.store.loaded = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.relayer.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return env.issuer.IsNonceConsumed(sourceChain, 2)
	}, 5*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.False(t, env.issuer.IsNonceConsumed(sourceChain, 1))
	assert.Equal(t, big.NewInt(500), env.ledger.BalanceOf(recipientAddr))
}
