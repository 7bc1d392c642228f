package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
)

// NonceKey is the composite identity of one consumed authorization. Nonces are
// only unique per source chain, so both halves are part of the key.
type NonceKey struct {
	SourceChainID authmsg.ChainID
	Nonce         uint64
}

func (k NonceKey) String() string {
	return fmt.Sprintf("%d/%d", k.SourceChainID, k.Nonce)
}

// IssuerDB is the persistence surface the destination issuer writes through.
type IssuerDB interface {
	StoreConsumedNonce(k NonceKey) error
	DeleteConsumedNonce(k NonceKey) error
	IsNonceConsumed(k NonceKey) (bool, error)
	GetIssuerData(logger *zap.Logger) ([]NonceKey, error)
}

type MockIssuerDB struct {
}

func (d *MockIssuerDB) StoreConsumedNonce(k NonceKey) error {
	return nil
}

func (d *MockIssuerDB) DeleteConsumedNonce(k NonceKey) error {
	return nil
}

func (d *MockIssuerDB) IsNonceConsumed(k NonceKey) (bool, error) {
	return false, nil
}

func (d *MockIssuerDB) GetIssuerData(logger *zap.Logger) ([]NonceKey, error) {
	return nil, nil
}

func (d *Database) StoreConsumedNonce(k NonceKey) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(nonceKey(k.SourceChainID, k.Nonce), []byte{1})
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}

	consumedNoncesTotal.Inc()

	return nil
}

// DeleteConsumedNonce unwinds a consumption whose follow-up mint failed. It is
// only ever called inside the issuer's rollback path.
func (d *Database) DeleteConsumedNonce(k NonceKey) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(nonceKey(k.SourceChainID, k.Nonce))
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func (d *Database) IsNonceConsumed(k NonceKey) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(nonceKey(k.SourceChainID, k.Nonce))
		return err
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// GetIssuerData loads the full consumed-nonce set. Used to rebuild the
// issuer's in-memory state on restart.
func (d *Database) GetIssuerData(logger *zap.Logger) ([]NonceKey, error) {
	keys := make([]NonceKey, 0)
	if err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := noncePrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k, err := parseNonceKey(string(it.Item().Key()))
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("loaded consumed nonces", zap.Int("count", len(keys)))
	}

	return keys, nil
}

func parseNonceKey(s string) (NonceKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return NonceKey{}, fmt.Errorf("invalid nonce key: %s", s)
	}
	chain, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return NonceKey{}, fmt.Errorf("invalid chain in nonce key %s: %w", s, err)
	}
	nonce, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return NonceKey{}, fmt.Errorf("invalid nonce in nonce key %s: %w", s, err)
	}
	return NonceKey{SourceChainID: authmsg.ChainID(chain), Nonce: nonce}, nil
}

// RelayerDB persists the relayer's per-source-chain processing checkpoint.
type RelayerDB interface {
	StoreRelayerCheckpoint(chain authmsg.ChainID, nonce uint64) error
	GetRelayerCheckpoint(chain authmsg.ChainID) (uint64, error)
}

type MockRelayerDB struct {
}

func (d *MockRelayerDB) StoreRelayerCheckpoint(chain authmsg.ChainID, nonce uint64) error {
	return nil
}

func (d *MockRelayerDB) GetRelayerCheckpoint(chain authmsg.ChainID) (uint64, error) {
	return 0, nil
}

func (d *Database) StoreRelayerCheckpoint(chain authmsg.ChainID, nonce uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], nonce)
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(chain), b[:])
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// GetRelayerCheckpoint returns the last fully processed nonce for the chain,
// or zero if no checkpoint has been written yet.
func (d *Database) GetRelayerCheckpoint(chain authmsg.ChainID) (uint64, error) {
	var nonce uint64
	if err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(chain))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("invalid checkpoint value length: %d", len(val))
			}
			nonce = binary.BigEndian.Uint64(val)
			return nil
		})
	}); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return nonce, nil
}
