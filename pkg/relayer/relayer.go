// package relayer implements the off-ledger observe-sign-submit loop that
// bridges deposit events from the source escrow into signed mint instructions
// for the destination issuer. It is the only sequencing authority over deposit
// processing order.
package relayer

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
	"github.com/yieldbridge/yieldbridge/node/pkg/db"
	"github.com/yieldbridge/yieldbridge/node/pkg/issuer"
	"github.com/yieldbridge/yieldbridge/node/pkg/relayersigner"
)

var (
	cyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yieldbridge_relayer_cycles_total",
			Help: "Total number of completed relayer polling cycles",
		})
	submittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yieldbridge_relayer_submitted_total",
			Help: "Total number of mint submissions confirmed by the issuer",
		})
	skippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yieldbridge_relayer_skipped_total",
			Help: "Total number of deposits skipped (already consumed or no longer pending)",
		})
	failedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yieldbridge_relayer_failed_total",
			Help: "Total number of failed mint submissions",
		})
)

// EscrowSource is the relayer's read-only view of the source escrow.
type EscrowSource interface {
	ChainID() authmsg.ChainID
	DepositsSince(nonce uint64) []*db.DepositRecord
}

// IssuerSink is the relayer's submission surface on the destination ledger.
type IssuerSink interface {
	ChainID() authmsg.ChainID
	DomainSeparator() common.Hash
	IsNonceConsumed(sourceChainID authmsg.ChainID, nonce uint64) bool
	Mint(msg *authmsg.AuthorizationMessage, signature []byte) (*issuer.MintEvent, error)
}

// Config holds the relayer's tunables.
type Config struct {
	// PollInterval between cycles.
	PollInterval time.Duration
	// DeadlineValidity is how long a signed message stays submittable.
	DeadlineValidity time.Duration
	// SubmitsPerSecond rate-limits mint submissions.
	SubmitsPerSecond float64
}

type Relayer struct {
	logger *zap.Logger
	db     db.RelayerDB
	signer relayersigner.RelayerSigner
	source EscrowSource
	sink   IssuerSink
	cfg    Config

	limiter    *rate.Limiter
	checkpoint uint64
}

// NewRelayer wires a relayer between one escrow and one issuer. The database
// may be nil, in which case the checkpoint is kept in memory only.
func NewRelayer(
	logger *zap.Logger,
	database db.RelayerDB,
	signer relayersigner.RelayerSigner,
	source EscrowSource,
	sink IssuerSink,
	cfg Config,
) *Relayer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.DeadlineValidity <= 0 {
		cfg.DeadlineValidity = 10 * time.Minute
	}
	if cfg.SubmitsPerSecond <= 0 {
		cfg.SubmitsPerSecond = 10
	}
	return &Relayer{
		logger:  logger,
		db:      database,
		signer:  signer,
		source:  source,
		sink:    sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitsPerSecond), 1),
	}
}

// Run executes polling cycles until the context is cancelled. Cancellation is
// cooperative: the cycle in progress completes, in-flight submissions are not
// aborted.
func (r *Relayer) Run(ctx context.Context) error {
	if r.db != nil {
		checkpoint, err := r.db.GetRelayerCheckpoint(r.source.ChainID())
		if err != nil {
			return err
		}
		r.checkpoint = checkpoint
	}

	r.logger.Info("relayer starting",
		zap.Stringer("sourceChain", r.source.ChainID()),
		zap.Stringer("destinationChain", r.sink.ChainID()),
		zap.Uint64("checkpoint", r.checkpoint),
	)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.RunCycle(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relayer stopping", zap.Uint64("checkpoint", r.checkpoint))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle processes every unprocessed deposit past the checkpoint, in nonce
// order. An individual submission failure ends the cycle early; the checkpoint
// stays behind the failed item so it is retried on the next cycle.
func (r *Relayer) RunCycle(ctx context.Context) {
	records := r.source.DepositsSince(r.checkpoint)
	advanced := false

	for _, record := range records {
		if record.Status != db.DepositPending {
			// Refunded or completed before we observed it; never submittable.
			skippedTotal.Inc()
			r.advance(record.Nonce)
			advanced = true
			continue
		}

		if r.sink.IsNonceConsumed(record.SourceChainID, record.Nonce) {
			// Already minted, e.g. before a restart lost the checkpoint.
			skippedTotal.Inc()
			r.advance(record.Nonce)
			advanced = true
			continue
		}

		if err := r.submit(ctx, record); err != nil {
			failedTotal.Inc()
			r.logger.Warn("mint submission failed, will retry next cycle",
				zap.Uint64("nonce", record.Nonce),
				zap.Error(err),
			)
			break
		}

		submittedTotal.Inc()
		r.advance(record.Nonce)
		advanced = true
	}

	if advanced && r.db != nil {
		if err := r.db.StoreRelayerCheckpoint(r.source.ChainID(), r.checkpoint); err != nil {
			r.logger.Error("failed to persist relayer checkpoint", zap.Error(err))
		}
	}

	cyclesTotal.Inc()
}

// Checkpoint returns the nonce of the last fully processed deposit.
func (r *Relayer) Checkpoint() uint64 {
	return r.checkpoint
}

func (r *Relayer) advance(nonce uint64) {
	if nonce > r.checkpoint {
		r.checkpoint = nonce
	}
}

func (r *Relayer) submit(ctx context.Context, record *db.DepositRecord) error {
	msg := &authmsg.AuthorizationMessage{
		Depositor:          record.Depositor,
		Recipient:          record.Recipient,
		Amount:             new(big.Int).Set(record.Amount),
		Shares:             new(big.Int).Set(record.Shares),
		Nonce:              record.Nonce,
		SourceChainID:      record.SourceChainID,
		DestinationChainID: record.DestinationChainID,
		Deadline:           uint64(time.Now().Add(r.cfg.DeadlineValidity).Unix()),
	}

	digest, err := msg.SigningDigest(r.sink.DomainSeparator())
	if err != nil {
		return err
	}

	signature, err := r.signer.Sign(digest.Bytes())
	if err != nil {
		return err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	// Transient failures are retried with bounded backoff inside the cycle;
	// anything that survives that is retried on the next cycle.
	submit := func() error {
		_, err := r.sink.Mint(msg, signature)
		if err == nil {
			return nil
		}

		var used *issuer.NonceAlreadyUsedError
		if errors.As(err, &used) {
			// Consumed between our check and the submission. Not a failure.
			return nil
		}

		return err
	}

	return backoff.Retry(submit, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx))
}
