package authmsg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type (
	// AuthorizationMessage is the structured assertion a relayer signs to
	// authorize issuance on the destination ledger. The field order and the
	// 32-byte word encoding of every field are part of the wire contract;
	// changing either breaks interoperability with existing signers.
	AuthorizationMessage struct {
		// Depositor is the account that escrowed the assets on the source ledger.
		Depositor common.Address
		// Recipient receives the wrapped representation on the destination ledger.
		Recipient common.Address
		// Amount of the deposit asset, in the asset's smallest unit.
		Amount *big.Int
		// Shares received from the vault for the deposit.
		Shares *big.Int
		// Nonce assigned by the source escrow.
		Nonce uint64
		// SourceChainID the deposit was made on.
		SourceChainID ChainID
		// DestinationChainID the wrapped asset is issued on.
		DestinationChainID ChainID
		// Deadline is a unix timestamp after which the message is no longer valid.
		Deadline uint64
	}

	// ChainID of a ledger participating in the bridge.
	ChainID uint64
)

func (c ChainID) String() string {
	return fmt.Sprintf("%d", uint64(c))
}

// wordSize is the width every field is encoded to in the struct hash.
const wordSize = 32

// marshaledLength is the size of the compact binary representation used for
// persistence and relayer transport (not the signing encoding).
const marshaledLength = 20 + 20 + 32 + 32 + 8 + 8 + 8 + 8

// MessageID returns the composite replay-protection identity of the message.
// Nonces are only unique per source chain, so the pair is the key.
func (m *AuthorizationMessage) MessageID() string {
	return fmt.Sprintf("%d/%d", m.SourceChainID, m.Nonce)
}

// Marshal serializes the message for persistence and transport.
func (m *AuthorizationMessage) Marshal() ([]byte, error) {
	amount, err := wordFromBig(m.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	shares, err := wordFromBig(m.Shares)
	if err != nil {
		return nil, fmt.Errorf("invalid shares: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.Write(m.Depositor[:])
	buf.Write(m.Recipient[:])
	buf.Write(amount[:])
	buf.Write(shares[:])
	MustWrite(buf, binary.BigEndian, m.Nonce)
	MustWrite(buf, binary.BigEndian, uint64(m.SourceChainID))
	MustWrite(buf, binary.BigEndian, uint64(m.DestinationChainID))
	MustWrite(buf, binary.BigEndian, m.Deadline)

	return buf.Bytes(), nil
}

// Unmarshal deserializes the binary representation of an AuthorizationMessage.
func Unmarshal(data []byte) (*AuthorizationMessage, error) {
	if len(data) != marshaledLength {
		return nil, fmt.Errorf("invalid message length: %d", len(data))
	}

	m := &AuthorizationMessage{}
	reader := bytes.NewReader(data)

	if n, err := reader.Read(m.Depositor[:]); err != nil || n != 20 {
		return nil, fmt.Errorf("failed to read depositor [%d]: %w", n, err)
	}
	if n, err := reader.Read(m.Recipient[:]); err != nil || n != 20 {
		return nil, fmt.Errorf("failed to read recipient [%d]: %w", n, err)
	}

	var amount, shares [wordSize]byte
	if n, err := reader.Read(amount[:]); err != nil || n != wordSize {
		return nil, fmt.Errorf("failed to read amount [%d]: %w", n, err)
	}
	m.Amount = new(big.Int).SetBytes(amount[:])
	if n, err := reader.Read(shares[:]); err != nil || n != wordSize {
		return nil, fmt.Errorf("failed to read shares [%d]: %w", n, err)
	}
	m.Shares = new(big.Int).SetBytes(shares[:])

	if err := binary.Read(reader, binary.BigEndian, &m.Nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	var src, dst uint64
	if err := binary.Read(reader, binary.BigEndian, &src); err != nil {
		return nil, fmt.Errorf("failed to read source chain: %w", err)
	}
	m.SourceChainID = ChainID(src)
	if err := binary.Read(reader, binary.BigEndian, &dst); err != nil {
		return nil, fmt.Errorf("failed to read destination chain: %w", err)
	}
	m.DestinationChainID = ChainID(dst)

	if err := binary.Read(reader, binary.BigEndian, &m.Deadline); err != nil {
		return nil, fmt.Errorf("failed to read deadline: %w", err)
	}

	return m, nil
}

// wordFromBig encodes a non-negative big integer as a 32-byte big-endian word.
func wordFromBig(v *big.Int) ([wordSize]byte, error) {
	var word [wordSize]byte
	if v == nil {
		return word, fmt.Errorf("value is nil")
	}
	if v.Sign() < 0 {
		return word, fmt.Errorf("value is negative")
	}
	if v.BitLen() > wordSize*8 {
		return word, fmt.Errorf("value exceeds 256 bits")
	}
	v.FillBytes(word[:])
	return word, nil
}

// MustWrite calls binary.Write and panics on errors. Serialization of
// fixed-size values to a bytes.Buffer cannot fail.
func MustWrite(w io.Writer, order binary.ByteOrder, data interface{}) {
	if err := binary.Write(w, order, data); err != nil {
		panic(fmt.Sprintf("failed to write binary data: %v", data))
	}
}
