package authmsg

import (
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *AuthorizationMessage {
	return &AuthorizationMessage{
		Depositor:          common.HexToAddress("0x0290fb167208af455bb137780163b7b7a9a10c16"),
		Recipient:          common.HexToAddress("0x8e9d23a9b997cf6f24d6479ff18f2e9dbbcd4a6f"),
		Amount:             big.NewInt(1000),
		Shares:             big.NewInt(1000),
		Nonce:              7,
		SourceChainID:      1,
		DestinationChainID: 100,
		Deadline:           1700000000,
	}
}

func generateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func signMessage(t *testing.T, msg *AuthorizationMessage, ds common.Hash, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	digest, err := msg.SigningDigest(ds)
	require.NoError(t, err)
	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	return sig
}

func TestVerifyRoundtrip(t *testing.T) {
	key := generateKey(t)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	ds := DomainSeparator(100, common.HexToAddress("0x0000000000000000000000000000000000000bb1"))

	msg := testMessage()
	sig := signMessage(t, msg, ds, key)

	digest, err := msg.SigningDigest(ds)
	require.NoError(t, err)
	assert.True(t, Verify(digest, sig, signer))
	assert.NoError(t, VerifyOrReject(digest, sig, signer))
}

func TestVerifyRejectsWrongExpectedSigner(t *testing.T) {
	keyA := generateKey(t)
	keyB := generateKey(t)
	ds := DomainSeparator(100, common.HexToAddress("0x0000000000000000000000000000000000000bb1"))

	msg := testMessage()
	sig := signMessage(t, msg, ds, keyA)

	digest, err := msg.SigningDigest(ds)
	require.NoError(t, err)

	assert.False(t, Verify(digest, sig, ethcrypto.PubkeyToAddress(keyB.PublicKey)))
	err = VerifyOrReject(digest, sig, ethcrypto.PubkeyToAddress(keyB.PublicKey))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsTamperedFields(t *testing.T) {
	key := generateKey(t)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	ds := DomainSeparator(100, common.HexToAddress("0x0000000000000000000000000000000000000bb1"))

	sig := signMessage(t, testMessage(), ds, key)

	tests := []struct {
		label  string
		mutate func(m *AuthorizationMessage)
	}{
		{label: "Depositor", mutate: func(m *AuthorizationMessage) { m.Depositor[0] ^= 0x01 }},
		{label: "Recipient", mutate: func(m *AuthorizationMessage) { m.Recipient[19] ^= 0x01 }},
		{label: "Amount", mutate: func(m *AuthorizationMessage) { m.Amount = big.NewInt(1001) }},
		{label: "Shares", mutate: func(m *AuthorizationMessage) { m.Shares = big.NewInt(999) }},
		{label: "Nonce", mutate: func(m *AuthorizationMessage) { m.Nonce = 8 }},
		{label: "SourceChain", mutate: func(m *AuthorizationMessage) { m.SourceChainID = 2 }},
		{label: "DestinationChain", mutate: func(m *AuthorizationMessage) { m.DestinationChainID = 101 }},
		{label: "Deadline", mutate: func(m *AuthorizationMessage) { m.Deadline++ }},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			tampered := testMessage()
			tc.mutate(tampered)
			digest, err := tampered.SigningDigest(ds)
			require.NoError(t, err)
			assert.False(t, Verify(digest, sig, signer))
		})
	}
}

func TestDomainSeparatorBindsContext(t *testing.T) {
	contract := common.HexToAddress("0x0000000000000000000000000000000000000bb1")
	dsA := DomainSeparator(100, contract)
	dsB := DomainSeparator(101, contract)
	dsC := DomainSeparator(100, common.HexToAddress("0x0000000000000000000000000000000000000bb2"))

	assert.NotEqual(t, dsA, dsB)
	assert.NotEqual(t, dsA, dsC)

	// A signature under one separator must not verify under another.
	key := generateKey(t)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	msg := testMessage()
	sig := signMessage(t, msg, dsA, key)
	digestB, err := msg.SigningDigest(dsB)
	require.NoError(t, err)
	assert.False(t, Verify(digestB, sig, signer))
}

func TestRecoverSignerMalformed(t *testing.T) {
	digest := ethcrypto.Keccak256Hash([]byte("digest"))

	tests := []struct {
		label string
		sig   []byte
	}{
		{label: "Empty", sig: []byte{}},
		{label: "TooShort", sig: make([]byte, 64)},
		{label: "TooLong", sig: make([]byte, 66)},
		{label: "BadRecoveryId", sig: append(make([]byte, 64), 9)},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			_, err := RecoverSigner(digest, tc.sig)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestRecoverSignerNormalizesV(t *testing.T) {
	key := generateKey(t)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	digest := ethcrypto.Keccak256Hash([]byte("some digest"))

	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	// On-wire signatures carry v in {27,28}; recovery must accept both forms.
	wire := make([]byte, SignatureLength)
	copy(wire, sig)
	wire[64] += 27

	recovered, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)

	recovered, err = RecoverSigner(digest, wire)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)
}

func TestCheckDeadline(t *testing.T) {
	now := time.Unix(1700000000, 0)

	assert.NoError(t, CheckDeadline(1700000001, now))
	// Equality is accepted.
	assert.NoError(t, CheckDeadline(1700000000, now))

	err := CheckDeadline(1699999999, now)
	require.Error(t, err)

	var expired *SignatureExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, uint64(1699999999), expired.Deadline)
	assert.Equal(t, uint64(1700000000), expired.Now)
}

func TestMessageMarshalRoundtrip(t *testing.T) {
	msg := testMessage()
	b, err := msg.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = Unmarshal(b[:len(b)-1])
	assert.Error(t, err)
}

func TestStructHashRejectsBadValues(t *testing.T) {
	msg := testMessage()
	msg.Amount = nil
	_, err := msg.StructHash()
	assert.Error(t, err)

	msg = testMessage()
	msg.Shares = big.NewInt(-1)
	_, err = msg.StructHash()
	assert.Error(t, err)
}
