// package issuer implements the destination-ledger side of the bridge: it
// verifies relayer-signed authorization messages and issues the wrapped asset.
package issuer

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
	"github.com/yieldbridge/yieldbridge/node/pkg/db"
	"github.com/yieldbridge/yieldbridge/node/pkg/wrapped"
)

var (
	mintsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yieldbridge_issuer_mints_total",
			Help: "Total number of successful wrapped asset mints",
		})
	mintRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yieldbridge_issuer_mint_rejections_total",
			Help: "Total number of rejected mint submissions by reason",
		}, []string{"reason"})
)

// MintEvent confirms one completed issuance.
type MintEvent struct {
	Recipient     common.Address
	Amount        *big.Int
	Nonce         uint64
	SourceChainID authmsg.ChainID
}

// sourceChainEntry is one trusted source chain in the issuer's registry.
// Removal only clears the enabled flag, never deletes history.
type sourceChainEntry struct {
	sourceToken  common.Address
	remoteBridge common.Address
	enabled      bool
}

type Issuer struct {
	logger *zap.Logger
	db     db.IssuerDB
	ledger *wrapped.Ledger

	chainID authmsg.ChainID
	// address is the issuer's own identity: the verifying context bound into
	// the domain separator and the caller the wrapped ledger authorizes.
	address         common.Address
	domainSeparator common.Hash
	events          chan<- *MintEvent

	mutex    sync.Mutex
	owner    common.Address
	paused   bool
	relayer  common.Address
	consumed map[db.NonceKey]bool
	sources  map[authmsg.ChainID]*sourceChainEntry
}

// NewIssuer creates an issuer for the ledger identified by chainID. The
// database and events channel may both be nil.
func NewIssuer(
	logger *zap.Logger,
	database db.IssuerDB,
	ledger *wrapped.Ledger,
	chainID authmsg.ChainID,
	address common.Address,
	owner common.Address,
	events chan<- *MintEvent,
) *Issuer {
	return &Issuer{
		logger:          logger,
		db:              database,
		ledger:          ledger,
		chainID:         chainID,
		address:         address,
		domainSeparator: authmsg.DomainSeparator(chainID, address),
		events:          events,
		owner:           owner,
		consumed:        make(map[db.NonceKey]bool),
		sources:         make(map[authmsg.ChainID]*sourceChainEntry),
	}
}

// LoadFromDB rebuilds the consumed-nonce set after a restart.
func (i *Issuer) LoadFromDB() error {
	if i.db == nil {
		return nil
	}

	keys, err := i.db.GetIssuerData(i.logger)
	if err != nil {
		return err
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	for _, k := range keys {
		i.consumed[k] = true
	}

	return nil
}

// Mint verifies a relayer-signed authorization message and issues the wrapped
// asset to the message's recipient. The checks run in a fixed order: pause,
// destination chain, field validation, source registry, deadline, nonce,
// signature. A message addressed to the wrong ledger is always reported as
// such, whatever else is wrong with it. The nonce is consumed before the
// ledger mint so a reentrant call cannot pass the nonce check again.
func (i *Issuer) Mint(msg *authmsg.AuthorizationMessage, signature []byte) (*MintEvent, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.paused {
		mintRejectionsTotal.WithLabelValues("paused").Inc()
		return nil, ErrPaused
	}

	if msg.DestinationChainID != i.chainID {
		mintRejectionsTotal.WithLabelValues("invalid_chain").Inc()
		return nil, &InvalidChainIDError{Got: msg.DestinationChainID, Want: i.chainID}
	}

	if msg.Recipient == (common.Address{}) {
		mintRejectionsTotal.WithLabelValues("bad_message").Inc()
		return nil, ErrZeroAddress
	}
	if msg.Amount == nil || msg.Amount.Sign() <= 0 {
		mintRejectionsTotal.WithLabelValues("bad_message").Inc()
		return nil, ErrZeroAmount
	}

	entry, ok := i.sources[msg.SourceChainID]
	if !ok || !entry.enabled {
		mintRejectionsTotal.WithLabelValues("source_not_supported").Inc()
		return nil, &SourceChainNotSupportedError{ChainID: msg.SourceChainID}
	}

	if err := authmsg.CheckDeadline(msg.Deadline, time.Now()); err != nil {
		mintRejectionsTotal.WithLabelValues("expired").Inc()
		return nil, err
	}

	key := db.NonceKey{SourceChainID: msg.SourceChainID, Nonce: msg.Nonce}
	if i.consumed[key] {
		mintRejectionsTotal.WithLabelValues("nonce_used").Inc()
		return nil, &NonceAlreadyUsedError{SourceChainID: msg.SourceChainID, Nonce: msg.Nonce}
	}

	digest, err := msg.SigningDigest(i.domainSeparator)
	if err != nil {
		mintRejectionsTotal.WithLabelValues("bad_message").Inc()
		return nil, err
	}
	if i.relayer == (common.Address{}) {
		mintRejectionsTotal.WithLabelValues("bad_signature").Inc()
		return nil, authmsg.ErrInvalidSignature
	}
	if err := authmsg.VerifyOrReject(digest, signature, i.relayer); err != nil {
		mintRejectionsTotal.WithLabelValues("bad_signature").Inc()
		return nil, err
	}

	// Consume before the external mint call.
	if err := i.consumeLocked(key); err != nil {
		return nil, err
	}

	if err := i.ledger.Mint(i.address, msg.Recipient, msg.Amount); err != nil {
		if undoErr := i.unconsumeLocked(key); undoErr != nil {
			i.logger.Error("failed to roll back nonce consumption", zap.Stringer("nonce", key), zap.Error(undoErr))
		}
		mintRejectionsTotal.WithLabelValues("ledger_mint_failed").Inc()
		return nil, err
	}

	mintsTotal.Inc()

	evt := &MintEvent{
		Recipient:     msg.Recipient,
		Amount:        new(big.Int).Set(msg.Amount),
		Nonce:         msg.Nonce,
		SourceChainID: msg.SourceChainID,
	}

	i.logger.Info("wrapped asset minted",
		zap.Stringer("recipient", evt.Recipient),
		zap.String("amount", evt.Amount.String()),
		zap.Uint64("nonce", evt.Nonce),
		zap.Stringer("sourceChain", evt.SourceChainID),
	)

	if i.events != nil {
		select {
		case i.events <- evt:
		default:
			i.logger.Warn("mint event channel full, dropping event", zap.Uint64("nonce", evt.Nonce))
		}
	}

	return evt, nil
}

func (i *Issuer) consumeLocked(key db.NonceKey) error {
	if i.db != nil {
		if err := i.db.StoreConsumedNonce(key); err != nil {
			return err
		}
	}
	i.consumed[key] = true
	return nil
}

func (i *Issuer) unconsumeLocked(key db.NonceKey) error {
	delete(i.consumed, key)
	if i.db != nil {
		return i.db.DeleteConsumedNonce(key)
	}
	return nil
}

// IsNonceConsumed reports whether the (source chain, nonce) pair has been
// consumed by a mint. Used by the relayer for duplicate suppression.
func (i *Issuer) IsNonceConsumed(sourceChainID authmsg.ChainID, nonce uint64) bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.consumed[db.NonceKey{SourceChainID: sourceChainID, Nonce: nonce}]
}

// SetRelayer binds the trusted relayer address. Owner only.
func (i *Issuer) SetRelayer(caller common.Address, relayer common.Address) error {
	if relayer == (common.Address{}) {
		return ErrZeroAddress
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	if caller != i.owner {
		return ErrNotOwner
	}

	i.relayer = relayer
	i.logger.Info("relayer changed", zap.Stringer("relayer", relayer))
	return nil
}

// AddSourceChain registers (or re-enables) a trusted source chain. Owner only.
func (i *Issuer) AddSourceChain(caller common.Address, chainID authmsg.ChainID, sourceToken common.Address, remoteBridge common.Address) error {
	if sourceToken == (common.Address{}) || remoteBridge == (common.Address{}) {
		return ErrZeroAddress
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	if caller != i.owner {
		return ErrNotOwner
	}

	i.sources[chainID] = &sourceChainEntry{sourceToken: sourceToken, remoteBridge: remoteBridge, enabled: true}
	i.logger.Info("source chain registered", zap.Stringer("chain", chainID), zap.Stringer("remoteBridge", remoteBridge))
	return nil
}

// RemoveSourceChain disables a source chain. The entry is kept so history
// needed by pending operations survives. Owner only.
func (i *Issuer) RemoveSourceChain(caller common.Address, chainID authmsg.ChainID) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if caller != i.owner {
		return ErrNotOwner
	}

	entry, ok := i.sources[chainID]
	if !ok {
		return &SourceChainNotSupportedError{ChainID: chainID}
	}

	entry.enabled = false
	i.logger.Info("source chain disabled", zap.Stringer("chain", chainID))
	return nil
}

// SourceChainSupported reports whether a source chain is registered and enabled.
func (i *Issuer) SourceChainSupported(chainID authmsg.ChainID) bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	entry, ok := i.sources[chainID]
	return ok && entry.enabled
}

func (i *Issuer) Pause(caller common.Address) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if caller != i.owner {
		return ErrNotOwner
	}
	i.paused = true
	i.logger.Info("issuer paused")
	return nil
}

func (i *Issuer) Unpause(caller common.Address) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if caller != i.owner {
		return ErrNotOwner
	}
	i.paused = false
	i.logger.Info("issuer unpaused")
	return nil
}

func (i *Issuer) Paused() bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.paused
}

func (i *Issuer) Relayer() common.Address {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.relayer
}

func (i *Issuer) ChainID() authmsg.ChainID {
	return i.chainID
}

// Address returns the issuer's verifying-context identity.
func (i *Issuer) Address() common.Address {
	return i.address
}

// DomainSeparator returns the separator messages for this issuer must be
// signed under.
func (i *Issuer) DomainSeparator() common.Hash {
	return i.domainSeparator
}
