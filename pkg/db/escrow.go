package db

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
)

// DepositStatus is the life-cycle state of an escrowed deposit. Transitions
// are one-way from Pending; a non-Pending record is immutable.
type DepositStatus uint8

const (
	DepositPending DepositStatus = iota
	DepositCompleted
	DepositRefunded
)

func (s DepositStatus) String() string {
	switch s {
	case DepositPending:
		return "pending"
	case DepositCompleted:
		return "completed"
	case DepositRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DepositRecord is the identity of one escrowed deposit. The Shares field is a
// claim against the escrow's pooled vault position, not a separate asset.
type DepositRecord struct {
	Depositor          common.Address
	Recipient          common.Address
	Amount             *big.Int
	Shares             *big.Int
	Nonce              uint64
	SourceChainID      authmsg.ChainID
	DestinationChainID authmsg.ChainID
	CreatedAt          time.Time
	Status             DepositStatus
}

const depositRecordLength = 20 + 20 + 32 + 32 + 8 + 8 + 8 + 8 + 1

func (r *DepositRecord) Marshal() ([]byte, error) {
	amount, err := writeWord(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	shares, err := writeWord(r.Shares)
	if err != nil {
		return nil, fmt.Errorf("invalid shares: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.Write(r.Depositor[:])
	buf.Write(r.Recipient[:])
	buf.Write(amount[:])
	buf.Write(shares[:])
	authmsg.MustWrite(buf, binary.BigEndian, r.Nonce)
	authmsg.MustWrite(buf, binary.BigEndian, uint64(r.SourceChainID))
	authmsg.MustWrite(buf, binary.BigEndian, uint64(r.DestinationChainID))
	authmsg.MustWrite(buf, binary.BigEndian, uint64(r.CreatedAt.Unix())) //#nosec G115 -- timestamps are non-negative
	authmsg.MustWrite(buf, binary.BigEndian, uint8(r.Status))
	return buf.Bytes(), nil
}

func UnmarshalDepositRecord(data []byte) (*DepositRecord, error) {
	if len(data) != depositRecordLength {
		return nil, fmt.Errorf("invalid deposit record length: %d", len(data))
	}

	r := &DepositRecord{}
	reader := bytes.NewReader(data)

	if n, err := reader.Read(r.Depositor[:]); err != nil || n != 20 {
		return nil, fmt.Errorf("failed to read depositor [%d]: %w", n, err)
	}
	if n, err := reader.Read(r.Recipient[:]); err != nil || n != 20 {
		return nil, fmt.Errorf("failed to read recipient [%d]: %w", n, err)
	}

	var amount, shares [32]byte
	if n, err := reader.Read(amount[:]); err != nil || n != 32 {
		return nil, fmt.Errorf("failed to read amount [%d]: %w", n, err)
	}
	r.Amount = new(big.Int).SetBytes(amount[:])
	if n, err := reader.Read(shares[:]); err != nil || n != 32 {
		return nil, fmt.Errorf("failed to read shares [%d]: %w", n, err)
	}
	r.Shares = new(big.Int).SetBytes(shares[:])

	if err := binary.Read(reader, binary.BigEndian, &r.Nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	var src, dst, createdAt uint64
	if err := binary.Read(reader, binary.BigEndian, &src); err != nil {
		return nil, fmt.Errorf("failed to read source chain: %w", err)
	}
	r.SourceChainID = authmsg.ChainID(src)
	if err := binary.Read(reader, binary.BigEndian, &dst); err != nil {
		return nil, fmt.Errorf("failed to read destination chain: %w", err)
	}
	r.DestinationChainID = authmsg.ChainID(dst)
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to read creation time: %w", err)
	}
	r.CreatedAt = time.Unix(int64(createdAt), 0).UTC() //#nosec G115 -- timestamps fit in int64

	var status uint8
	if err := binary.Read(reader, binary.BigEndian, &status); err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	r.Status = DepositStatus(status)

	return r, nil
}

// EscrowDB is the persistence surface the source escrow writes through.
type EscrowDB interface {
	StoreDepositRecord(r *DepositRecord) error
	GetDepositRecord(chain authmsg.ChainID, nonce uint64) (*DepositRecord, error)
	GetEscrowData(logger *zap.Logger, chain authmsg.ChainID) ([]*DepositRecord, error)
}

type MockEscrowDB struct {
}

func (d *MockEscrowDB) StoreDepositRecord(r *DepositRecord) error {
	return nil
}

func (d *MockEscrowDB) GetDepositRecord(chain authmsg.ChainID, nonce uint64) (*DepositRecord, error) {
	return nil, ErrRecordNotFound
}

func (d *MockEscrowDB) GetEscrowData(logger *zap.Logger, chain authmsg.ChainID) ([]*DepositRecord, error) {
	return nil, nil
}

// StoreDepositRecord upserts a deposit record. Records are rewritten in place
// on status transitions, so overwriting an existing key is expected.
func (d *Database) StoreDepositRecord(r *DepositRecord) error {
	b, err := r.Marshal()
	if err != nil {
		return err
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(depositKey(r.SourceChainID, r.Nonce), b)
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}

	storedDepositsTotal.Inc()

	return nil
}

func (d *Database) GetDepositRecord(chain authmsg.ChainID, nonce uint64) (*DepositRecord, error) {
	var r *DepositRecord
	if err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(depositKey(chain, nonce))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err = UnmarshalDepositRecord(val)
			return err
		})
	}); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return r, nil
}

// GetEscrowData loads every deposit record for the given source chain, in
// nonce order. Used to rebuild the escrow's in-memory state on restart.
func (d *Database) GetEscrowData(logger *zap.Logger, chain authmsg.ChainID) ([]*DepositRecord, error) {
	records := make([]*DepositRecord, 0)
	if err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := depositPrefix(chain)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			err := item.Value(func(val []byte) error {
				r, err := UnmarshalDepositRecord(val)
				if err != nil {
					return fmt.Errorf("failed to unmarshal deposit record for %s: %w", string(key), err)
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("loaded deposit records", zap.Int("count", len(records)))
	}

	return records, nil
}
