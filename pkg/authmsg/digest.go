package authmsg

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Canonical type descriptor strings. These bind the protocol name and message
// layout into every signature and must match the strings used by signers
// byte-for-byte.
const (
	domainType  = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	messageType = "AuthorizationMessage(address depositor,address recipient,uint256 amount,uint256 shares,uint256 nonce,uint256 sourceChainId,uint256 destinationChainId,uint256 deadline)"

	protocolName    = "YieldBridge"
	protocolVersion = "1"
)

// SignatureLength is the expected length of a relayer signature: r(32) s(32) v(1).
const SignatureLength = 65

var (
	domainTypeHash  = crypto.Keccak256Hash([]byte(domainType))
	messageTypeHash = crypto.Keccak256Hash([]byte(messageType))
	nameHash        = crypto.Keccak256Hash([]byte(protocolName))
	versionHash     = crypto.Keccak256Hash([]byte(protocolVersion))
)

// DomainSeparator derives the verifying context binding for one deployment of
// the issuer. Signatures produced under one separator never verify under
// another, which is what keeps messages from being replayed across ledgers or
// contract upgrades.
func DomainSeparator(chainID ChainID, verifyingContract common.Address) common.Hash {
	buf := new(bytes.Buffer)
	buf.Write(domainTypeHash.Bytes())
	buf.Write(nameHash.Bytes())
	buf.Write(versionHash.Bytes())
	buf.Write(wordFromUint64(uint64(chainID)))
	buf.Write(wordFromAddress(verifyingContract))
	return crypto.Keccak256Hash(buf.Bytes())
}

// StructHash hashes the message's type descriptor and all eight fields in wire
// order. Every field is bound into the hash, so tampering with any of them
// invalidates the signature.
func (m *AuthorizationMessage) StructHash() (common.Hash, error) {
	amount, err := wordFromBig(m.Amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid amount: %w", err)
	}
	shares, err := wordFromBig(m.Shares)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid shares: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.Write(messageTypeHash.Bytes())
	buf.Write(wordFromAddress(m.Depositor))
	buf.Write(wordFromAddress(m.Recipient))
	buf.Write(amount[:])
	buf.Write(shares[:])
	buf.Write(wordFromUint64(m.Nonce))
	buf.Write(wordFromUint64(uint64(m.SourceChainID)))
	buf.Write(wordFromUint64(uint64(m.DestinationChainID)))
	buf.Write(wordFromUint64(m.Deadline))
	return crypto.Keccak256Hash(buf.Bytes()), nil
}

// SigningDigest computes the EIP-191 digest that is actually signed:
// keccak256(0x19 || 0x01 || domainSeparator || structHash).
func SigningDigest(domainSeparator common.Hash, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())
}

// SigningDigest computes the digest for this message under the given domain.
func (m *AuthorizationMessage) SigningDigest(domainSeparator common.Hash) (common.Hash, error) {
	structHash, err := m.StructHash()
	if err != nil {
		return common.Hash{}, err
	}
	return SigningDigest(domainSeparator, structHash), nil
}

// RecoverSigner recovers the address that signed the digest. The signature
// must be exactly 65 bytes with v in {0,1} or {27,28}. A malformed signature,
// a failed recovery, or a recovered zero address all fail with
// ErrInvalidSignature.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(signature))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", ErrInvalidSignature, signature[64])
	}

	pubKey, err := crypto.Ecrecover(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	addr := common.BytesToAddress(crypto.Keccak256(pubKey[1:])[12:])
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: recovered zero address", ErrInvalidSignature)
	}

	return addr, nil
}

// Verify reports whether the signature over the digest was produced by the
// expected signer. Pure, no side effects.
func Verify(digest common.Hash, signature []byte, expected common.Address) bool {
	recovered, err := RecoverSigner(digest, signature)
	if err != nil {
		return false
	}
	return recovered == expected
}

// VerifyOrReject fails with ErrInvalidSignature when Verify is false.
func VerifyOrReject(digest common.Hash, signature []byte, expected common.Address) error {
	if !Verify(digest, signature, expected) {
		return fmt.Errorf("%w: signer mismatch", ErrInvalidSignature)
	}
	return nil
}

// CheckDeadline fails when the current time is past the deadline. A deadline
// exactly equal to now is still accepted.
func CheckDeadline(deadline uint64, now time.Time) error {
	observed := uint64(now.Unix())
	if observed > deadline {
		return &SignatureExpiredError{Deadline: deadline, Now: observed}
	}
	return nil
}

func wordFromUint64(v uint64) []byte {
	word := make([]byte, wordSize)
	word[24] = byte(v >> 56)
	word[25] = byte(v >> 48)
	word[26] = byte(v >> 40)
	word[27] = byte(v >> 32)
	word[28] = byte(v >> 24)
	word[29] = byte(v >> 16)
	word[30] = byte(v >> 8)
	word[31] = byte(v)
	return word
}

func wordFromAddress(a common.Address) []byte {
	word := make([]byte, wordSize)
	copy(word[wordSize-common.AddressLength:], a[:])
	return word
}
