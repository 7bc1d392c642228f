// package escrow implements the source-ledger side of the bridge: it accepts
// deposits of the underlying asset, routes them into the yield vault, and runs
// the Pending -> {Completed, Refunded} life cycle for each deposit record.
package escrow

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
	"github.com/yieldbridge/yieldbridge/node/pkg/db"
	"github.com/yieldbridge/yieldbridge/node/pkg/vault"
)

var (
	depositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yieldbridge_escrow_deposits_total",
			Help: "Total number of deposits accepted by the escrow",
		})
	refundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yieldbridge_escrow_refunds_total",
			Help: "Total number of deposits refunded",
		})
	completionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yieldbridge_escrow_completions_total",
			Help: "Total number of deposits marked completed",
		})
)

// DepositEvent is emitted for every accepted deposit. It is the handoff
// signal observed by the off-ledger relayer.
type DepositEvent struct {
	Depositor          common.Address
	Recipient          common.Address
	Amount             *big.Int
	Shares             *big.Int
	Nonce              uint64
	SourceChainID      authmsg.ChainID
	DestinationChainID authmsg.ChainID
}

// chainEntry is one destination chain in the escrow's registry. Removal only
// clears the enabled flag; the entry itself is kept so history needed by
// already-pending deposits survives.
type chainEntry struct {
	remote  common.Address
	enabled bool
}

type Escrow struct {
	logger  *zap.Logger
	db      db.EscrowDB
	adapter *vault.Adapter
	chainID authmsg.ChainID
	events  chan<- *DepositEvent

	mutex     sync.Mutex
	owner     common.Address
	paused    bool
	nextNonce uint64
	records   map[uint64]*db.DepositRecord
	chains    map[authmsg.ChainID]*chainEntry
}

// NewEscrow creates an escrow for one source chain. The database and events
// channel may both be nil; tests and devnet mode run without them.
func NewEscrow(
	logger *zap.Logger,
	database db.EscrowDB,
	adapter *vault.Adapter,
	chainID authmsg.ChainID,
	owner common.Address,
	events chan<- *DepositEvent,
) *Escrow {
	return &Escrow{
		logger:    logger,
		db:        database,
		adapter:   adapter,
		chainID:   chainID,
		owner:     owner,
		events:    events,
		nextNonce: 1,
		records:   make(map[uint64]*db.DepositRecord),
		chains:    make(map[authmsg.ChainID]*chainEntry),
	}
}

// LoadFromDB rebuilds the in-memory record set after a restart. The nonce
// counter resumes past the highest persisted nonce.
func (e *Escrow) LoadFromDB() error {
	if e.db == nil {
		return nil
	}

	records, err := e.db.GetEscrowData(e.logger, e.chainID)
	if err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	for _, r := range records {
		e.records[r.Nonce] = r
		if r.Nonce >= e.nextNonce {
			e.nextNonce = r.Nonce + 1
		}
	}

	return nil
}

// Deposit pulls amount of the deposit asset from the caller, routes it into
// the vault, and records a Pending deposit bound for destinationChainID. The
// assigned nonce is strictly increasing per escrow instance.
func (e *Escrow) Deposit(caller common.Address, recipient common.Address, amount *big.Int, destinationChainID authmsg.ChainID) (*db.DepositRecord, error) {
	if caller == (common.Address{}) || recipient == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.paused {
		return nil, ErrPaused
	}

	entry, ok := e.chains[destinationChainID]
	if !ok || !entry.enabled {
		return nil, &ChainNotSupportedError{ChainID: destinationChainID}
	}

	if err := e.adapter.Asset().Transfer(caller, e.adapter.Holder(), amount); err != nil {
		return nil, err
	}

	shares, err := e.adapter.DepositToVault(amount)
	if err != nil {
		// Hand the pulled assets back so a failed deposit leaves no trace.
		if undoErr := e.adapter.Asset().Transfer(e.adapter.Holder(), caller, amount); undoErr != nil {
			e.logger.Error("failed to return assets after vault deposit failure",
				zap.Stringer("depositor", caller), zap.Error(undoErr))
		}
		return nil, err
	}

	record := &db.DepositRecord{
		Depositor:          caller,
		Recipient:          recipient,
		Amount:             new(big.Int).Set(amount),
		Shares:             shares,
		Nonce:              e.nextNonce,
		SourceChainID:      e.chainID,
		DestinationChainID: destinationChainID,
		CreatedAt:          time.Now().UTC(),
		Status:             db.DepositPending,
	}

	if e.db != nil {
		if err := e.db.StoreDepositRecord(record); err != nil {
			if undoErr := e.rollbackDepositLocked(record, caller); undoErr != nil {
				e.logger.Error("failed to unwind deposit after store failure", zap.Error(undoErr))
			}
			return nil, err
		}
	}

	e.records[record.Nonce] = record
	e.nextNonce++
	depositsTotal.Inc()

	e.logger.Info("deposit accepted",
		zap.Stringer("depositor", caller),
		zap.Stringer("recipient", recipient),
		zap.String("amount", amount.String()),
		zap.String("shares", shares.String()),
		zap.Uint64("nonce", record.Nonce),
		zap.Stringer("destinationChain", destinationChainID),
	)

	e.publishLocked(record)

	return copyRecord(record), nil
}

// rollbackDepositLocked unwinds the vault position of a deposit whose record
// could not be persisted.
func (e *Escrow) rollbackDepositLocked(record *db.DepositRecord, caller common.Address) error {
	_, err := e.adapter.RedeemFromVault(record.Shares, caller)
	return err
}

func (e *Escrow) publishLocked(record *db.DepositRecord) {
	if e.events == nil {
		return
	}
	evt := &DepositEvent{
		Depositor:          record.Depositor,
		Recipient:          record.Recipient,
		Amount:             new(big.Int).Set(record.Amount),
		Shares:             new(big.Int).Set(record.Shares),
		Nonce:              record.Nonce,
		SourceChainID:      record.SourceChainID,
		DestinationChainID: record.DestinationChainID,
	}
	select {
	case e.events <- evt:
	default:
		// The relayer recovers dropped events by polling the record set.
		e.logger.Warn("deposit event channel full, dropping event", zap.Uint64("nonce", record.Nonce))
	}
}

// Refund redeems a Pending deposit's shares back to the original depositor at
// the live exchange rate. If the redemption would pay out less than minAssets
// the whole operation is rejected with no state change. Owner only.
func (e *Escrow) Refund(caller common.Address, nonce uint64, minAssets *big.Int) (*big.Int, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if caller != e.owner {
		return nil, ErrNotOwner
	}

	record, ok := e.records[nonce]
	if !ok {
		return nil, ErrUnknownNonce
	}
	if record.Status != db.DepositPending {
		return nil, &NonceAlreadyUsedError{Nonce: nonce, Status: record.Status}
	}

	// Preview at the live rate under the lock. The rate cannot move between
	// the preview and the redemption below, so the slippage check is exact.
	redeemable := e.adapter.ShareValue(record.Shares)
	if minAssets != nil && redeemable.Cmp(minAssets) < 0 {
		return nil, &SlippageExceededError{Redeemed: redeemable, Min: new(big.Int).Set(minAssets)}
	}

	if err := e.transitionLocked(record, db.DepositRefunded); err != nil {
		return nil, err
	}

	assets, err := e.adapter.RedeemFromVault(record.Shares, record.Depositor)
	if err != nil {
		// Roll the status back so the refund either fully applies or not at all.
		if undoErr := e.transitionLocked(record, db.DepositPending); undoErr != nil {
			e.logger.Error("failed to roll back refund status", zap.Uint64("nonce", nonce), zap.Error(undoErr))
		}
		return nil, err
	}

	refundsTotal.Inc()
	e.logger.Info("deposit refunded",
		zap.Uint64("nonce", nonce),
		zap.Stringer("depositor", record.Depositor),
		zap.String("assets", assets.String()),
	)

	return assets, nil
}

// MarkCompleted acknowledges destination-side issuance and forecloses any
// future refund of the record. Owner only.
func (e *Escrow) MarkCompleted(caller common.Address, nonce uint64) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}

	record, ok := e.records[nonce]
	if !ok {
		return ErrUnknownNonce
	}
	if record.Status != db.DepositPending {
		return &NonceAlreadyUsedError{Nonce: nonce, Status: record.Status}
	}

	if err := e.transitionLocked(record, db.DepositCompleted); err != nil {
		return err
	}

	completionsTotal.Inc()
	e.logger.Info("deposit completed", zap.Uint64("nonce", nonce))

	return nil
}

// transitionLocked flips a record's status and persists the change. On a
// persistence failure the in-memory status is restored.
func (e *Escrow) transitionLocked(record *db.DepositRecord, status db.DepositStatus) error {
	prev := record.Status
	record.Status = status
	if e.db != nil {
		if err := e.db.StoreDepositRecord(record); err != nil {
			record.Status = prev
			return err
		}
	}
	return nil
}

// AddChain registers (or re-enables) a destination chain. Owner only.
func (e *Escrow) AddChain(caller common.Address, chainID authmsg.ChainID, remote common.Address) error {
	if remote == (common.Address{}) {
		return ErrZeroAddress
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}

	e.chains[chainID] = &chainEntry{remote: remote, enabled: true}
	e.logger.Info("destination chain registered", zap.Stringer("chain", chainID), zap.Stringer("remote", remote))
	return nil
}

// RemoveChain disables a destination chain. The entry is kept so pending
// deposits against it retain their history. Owner only.
func (e *Escrow) RemoveChain(caller common.Address, chainID authmsg.ChainID) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if caller != e.owner {
		return ErrNotOwner
	}

	entry, ok := e.chains[chainID]
	if !ok {
		return &ChainNotSupportedError{ChainID: chainID}
	}

	entry.enabled = false
	e.logger.Info("destination chain disabled", zap.Stringer("chain", chainID))
	return nil
}

// ChainSupported reports whether a destination chain is registered and enabled.
func (e *Escrow) ChainSupported(chainID authmsg.ChainID) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	entry, ok := e.chains[chainID]
	return ok && entry.enabled
}

// Pause gates Deposit. Refund, completion and admin are unaffected.
func (e *Escrow) Pause(caller common.Address) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	e.paused = true
	e.logger.Info("escrow paused")
	return nil
}

func (e *Escrow) Unpause(caller common.Address) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	e.paused = false
	e.logger.Info("escrow unpaused")
	return nil
}

func (e *Escrow) Paused() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.paused
}

// Record returns a copy of the deposit record for the nonce.
func (e *Escrow) Record(nonce uint64) (*db.DepositRecord, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	record, ok := e.records[nonce]
	if !ok {
		return nil, ErrUnknownNonce
	}
	return copyRecord(record), nil
}

// RecordValue prices a record's shares at the vault's live exchange rate. The
// value is derived on every call, never stored, so it tracks accrued yield.
func (e *Escrow) RecordValue(nonce uint64) (*big.Int, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	record, ok := e.records[nonce]
	if !ok {
		return nil, ErrUnknownNonce
	}
	return e.adapter.ShareValue(record.Shares), nil
}

// DepositsSince returns copies of all records with a nonce strictly greater
// than the given one, in ascending nonce order. This is the relayer's polling
// surface.
func (e *Escrow) DepositsSince(nonce uint64) []*db.DepositRecord {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	records := make([]*db.DepositRecord, 0)
	for n, record := range e.records {
		if n > nonce {
			records = append(records, copyRecord(record))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Nonce < records[j].Nonce })
	return records
}

// LastNonce returns the most recently assigned nonce, or zero if there have
// been no deposits.
func (e *Escrow) LastNonce() uint64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.nextNonce - 1
}

func (e *Escrow) ChainID() authmsg.ChainID {
	return e.chainID
}

func (e *Escrow) Owner() common.Address {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.owner
}

func copyRecord(r *db.DepositRecord) *db.DepositRecord {
	c := *r
	c.Amount = new(big.Int).Set(r.Amount)
	c.Shares = new(big.Int).Set(r.Shares)
	return &c
}
