package db

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
)

var storedDepositsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "yieldbridge_db_total_deposits",
		Help: "Total number of deposit records written to the database",
	})

var consumedNoncesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "yieldbridge_db_total_consumed_nonces",
		Help: "Total number of consumed nonces written to the database",
	})

var ErrRecordNotFound = errors.New("requested record not found in store")

type Database struct {
	db *badger.DB
}

func Open(path string) (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Conn returns a pointer to the underlying database connection.
func (d *Database) Conn() *badger.DB {
	return d.db
}

// Nonces are zero-padded in keys so that lexicographic iteration order matches
// numeric order.
func depositKey(chain authmsg.ChainID, nonce uint64) []byte {
	return []byte(fmt.Sprintf("deposit/%d/%020d", chain, nonce))
}

func depositPrefix(chain authmsg.ChainID) []byte {
	return []byte(fmt.Sprintf("deposit/%d/", chain))
}

func nonceKey(chain authmsg.ChainID, nonce uint64) []byte {
	return []byte(fmt.Sprintf("nonce/%d/%020d", chain, nonce))
}

func noncePrefix() []byte {
	return []byte("nonce/")
}

func checkpointKey(chain authmsg.ChainID) []byte {
	return []byte(fmt.Sprintf("relayer/checkpoint/%d", chain))
}

// writeWord encodes a non-negative big integer into a fixed 32-byte
// big-endian word for storage.
func writeWord(v *big.Int) ([32]byte, error) {
	var word [32]byte
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return word, fmt.Errorf("value does not fit in a 256-bit word")
	}
	v.FillBytes(word[:])
	return word, nil
}
