package db

import (
	"math/big"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	conn, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &Database{db: conn}
}

func testRecord(nonce uint64) *DepositRecord {
	return &DepositRecord{
		Depositor:          common.HexToAddress("0x0290fb167208af455bb137780163b7b7a9a10c16"),
		Recipient:          common.HexToAddress("0x8e9d23a9b997cf6f24d6479ff18f2e9dbbcd4a6f"),
		Amount:             big.NewInt(1000),
		Shares:             big.NewInt(1000),
		Nonce:              nonce,
		SourceChainID:      1,
		DestinationChainID: 100,
		CreatedAt:          time.Unix(1700000000, 0).UTC(),
		Status:             DepositPending,
	}
}

func TestDepositRecordMarshalRoundtrip(t *testing.T) {
	r := testRecord(3)
	b, err := r.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalDepositRecord(b)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = UnmarshalDepositRecord(b[:len(b)-1])
	assert.Error(t, err)
}

func TestStoreAndGetDepositRecord(t *testing.T) {
	d := newTestDatabase(t)

	_, err := d.GetDepositRecord(1, 3)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	r := testRecord(3)
	require.NoError(t, d.StoreDepositRecord(r))

	got, err := d.GetDepositRecord(1, 3)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	// Status transitions rewrite the record in place.
	r.Status = DepositRefunded
	require.NoError(t, d.StoreDepositRecord(r))

	got, err = d.GetDepositRecord(1, 3)
	require.NoError(t, err)
	assert.Equal(t, DepositRefunded, got.Status)
}

func TestGetEscrowDataOrdersByNonce(t *testing.T) {
	d := newTestDatabase(t)
	logger := zaptest.NewLogger(t)

	for _, nonce := range []uint64{5, 1, 12, 3} {
		require.NoError(t, d.StoreDepositRecord(testRecord(nonce)))
	}
	// A record on another chain must not leak into the listing.
	other := testRecord(2)
	other.SourceChainID = 7
	require.NoError(t, d.StoreDepositRecord(other))

	records, err := d.GetEscrowData(logger, 1)
	require.NoError(t, err)
	require.Len(t, records, 4)

	nonces := make([]uint64, 0, len(records))
	for _, r := range records {
		nonces = append(nonces, r.Nonce)
	}
	assert.Equal(t, []uint64{1, 3, 5, 12}, nonces)
}

func TestConsumedNonces(t *testing.T) {
	d := newTestDatabase(t)
	logger := zaptest.NewLogger(t)

	k := NonceKey{SourceChainID: 1, Nonce: 42}
	consumed, err := d.IsNonceConsumed(k)
	require.NoError(t, err)
	assert.False(t, consumed)

	require.NoError(t, d.StoreConsumedNonce(k))

	consumed, err = d.IsNonceConsumed(k)
	require.NoError(t, err)
	assert.True(t, consumed)

	// Same nonce on a different source chain is a different key.
	consumed, err = d.IsNonceConsumed(NonceKey{SourceChainID: 2, Nonce: 42})
	require.NoError(t, err)
	assert.False(t, consumed)

	require.NoError(t, d.StoreConsumedNonce(NonceKey{SourceChainID: 2, Nonce: 42}))

	keys, err := d.GetIssuerData(logger)
	require.NoError(t, err)
	assert.ElementsMatch(t, []NonceKey{
		{SourceChainID: 1, Nonce: 42},
		{SourceChainID: 2, Nonce: 42},
	}, keys)
}

func TestRelayerCheckpoint(t *testing.T) {
	d := newTestDatabase(t)

	nonce, err := d.GetRelayerCheckpoint(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	require.NoError(t, d.StoreRelayerCheckpoint(1, 17))

	nonce, err = d.GetRelayerCheckpoint(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), nonce)
}
