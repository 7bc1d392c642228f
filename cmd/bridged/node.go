package bridged

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eth_common "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/yieldbridge/yieldbridge/node/pkg/authmsg"
	"github.com/yieldbridge/yieldbridge/node/pkg/db"
	"github.com/yieldbridge/yieldbridge/node/pkg/escrow"
	"github.com/yieldbridge/yieldbridge/node/pkg/issuer"
	"github.com/yieldbridge/yieldbridge/node/pkg/readiness"
	"github.com/yieldbridge/yieldbridge/node/pkg/relayer"
	"github.com/yieldbridge/yieldbridge/node/pkg/relayersigner"
	"github.com/yieldbridge/yieldbridge/node/pkg/vault"
	"github.com/yieldbridge/yieldbridge/node/pkg/wrapped"
)

var (
	dataDir    *string
	statusAddr *string

	relayerSignerUri *string

	ownerAddress  *string
	escrowAddress *string
	issuerAddress *string
	vaultAddress  *string

	sourceChainID      *uint64
	destinationChainID *uint64

	pollInterval     *string
	deadlineValidity *string
	submitsPerSecond *float64

	logLevel *string

	unsafeDevMode *bool
)

func init() {
	dataDir = NodeCmd.Flags().String("dataDir", "", "Data directory")

	statusAddr = NodeCmd.Flags().String("statusAddr", "[::]:6060", "Listen address for status server (disabled if blank)")

	relayerSignerUri = NodeCmd.Flags().String("relayerSigner", "", "Relayer signer URI, e.g. file://<path-to-hex-key>")

	ownerAddress = NodeCmd.Flags().String("ownerAddress", "", "Address that administers the escrow and issuer")
	escrowAddress = NodeCmd.Flags().String("escrowAddress", "", "Address identifying the source escrow")
	issuerAddress = NodeCmd.Flags().String("issuerAddress", "", "Address identifying the destination issuer")
	vaultAddress = NodeCmd.Flags().String("vaultAddress", "", "Address identifying the yield vault")

	sourceChainID = NodeCmd.Flags().Uint64("sourceChainID", 0, "Chain ID of the source ledger")
	destinationChainID = NodeCmd.Flags().Uint64("destinationChainID", 0, "Chain ID of the destination ledger")

	pollInterval = NodeCmd.Flags().String("pollInterval", "5s", "Relayer polling interval")
	deadlineValidity = NodeCmd.Flags().String("deadlineValidity", "10m", "How long signed authorization messages stay valid")
	submitsPerSecond = NodeCmd.Flags().Float64("submitsPerSecond", 10, "Rate limit for mint submissions")

	logLevel = NodeCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")

	unsafeDevMode = NodeCmd.Flags().Bool("unsafeDevMode", false, "Launch node in unsafe, deterministic devnet mode")
}

const devwarning = `
        +++++++++++++++++++++++++++++++++++++++++++++++++++
        |   NODE IS RUNNING IN INSECURE DEVELOPMENT MODE  |
        |                                                 |
        |      Do not use -unsafeDevMode in prod.         |
        +++++++++++++++++++++++++++++++++++++++++++++++++++

`

// Deterministic devnet identities. Real deployments pass their own addresses.
var (
	devnetOwner  = eth_common.HexToAddress("0x00000000000000000000000000000000deadbee1")
	devnetEscrow = eth_common.HexToAddress("0x00000000000000000000000000000000deadbee2")
	devnetIssuer = eth_common.HexToAddress("0x00000000000000000000000000000000deadbee3")
	devnetVault  = eth_common.HexToAddress("0x00000000000000000000000000000000deadbee4")
)

// NodeCmd represents the node command
var NodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the bridged node",
	Run:   runNode,
}

func parseRelayerConfig() (relayer.Config, error) {
	poll, err := time.ParseDuration(*pollInterval)
	if err != nil {
		return relayer.Config{}, fmt.Errorf("invalid --pollInterval: %w", err)
	}
	validity, err := time.ParseDuration(*deadlineValidity)
	if err != nil {
		return relayer.Config{}, fmt.Errorf("invalid --deadlineValidity: %w", err)
	}
	return relayer.Config{
		PollInterval:     poll,
		DeadlineValidity: validity,
		SubmitsPerSecond: *submitsPerSecond,
	}, nil
}

func newLogger() (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(*logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if *unsafeDevMode {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

func runNode(cmd *cobra.Command, args []string) {
	if *unsafeDevMode {
		fmt.Print(devwarning)
	}

	logger, err := newLogger()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// In devnet mode, we automatically set the flags that rely on deployment
	// specifics to deterministic values.
	if *unsafeDevMode {
		if *ownerAddress == "" {
			*ownerAddress = devnetOwner.Hex()
		}
		if *escrowAddress == "" {
			*escrowAddress = devnetEscrow.Hex()
		}
		if *issuerAddress == "" {
			*issuerAddress = devnetIssuer.Hex()
		}
		if *vaultAddress == "" {
			*vaultAddress = devnetVault.Hex()
		}
		if *sourceChainID == 0 {
			*sourceChainID = 1
		}
		if *destinationChainID == 0 {
			*destinationChainID = 100
		}
		if *dataDir == "" {
			tmp, err := os.MkdirTemp("", "bridged")
			if err != nil {
				logger.Fatal("failed to create devnet data directory", zap.Error(err))
			}
			*dataDir = tmp
		}
	}

	// Verify flags

	if *dataDir == "" {
		logger.Fatal("Please specify --dataDir")
	}
	if *relayerSignerUri == "" && !*unsafeDevMode { // In devnet mode, a key is generated.
		logger.Fatal("Please specify --relayerSigner")
	}
	if *ownerAddress == "" || !eth_common.IsHexAddress(*ownerAddress) {
		logger.Fatal("Please specify a valid --ownerAddress")
	}
	if *escrowAddress == "" || !eth_common.IsHexAddress(*escrowAddress) {
		logger.Fatal("Please specify a valid --escrowAddress")
	}
	if *issuerAddress == "" || !eth_common.IsHexAddress(*issuerAddress) {
		logger.Fatal("Please specify a valid --issuerAddress")
	}
	if *vaultAddress == "" || !eth_common.IsHexAddress(*vaultAddress) {
		logger.Fatal("Please specify a valid --vaultAddress")
	}
	if *sourceChainID == 0 {
		logger.Fatal("Please specify --sourceChainID")
	}
	if *destinationChainID == 0 {
		logger.Fatal("Please specify --destinationChainID")
	}
	if *sourceChainID == *destinationChainID {
		logger.Fatal("--sourceChainID and --destinationChainID must differ")
	}

	relayerCfg, err := parseRelayerConfig()
	if err != nil {
		logger.Fatal("invalid relayer configuration", zap.Error(err))
	}

	// Register components for readiness checks.
	readiness.RegisterComponent(readiness.ReadyDatabase)
	readiness.RegisterComponent(readiness.ReadyEscrow)
	readiness.RegisterComponent(readiness.ReadyIssuer)
	readiness.RegisterComponent(readiness.ReadyRelayer)

	if *statusAddr != "" {
		// Use a custom routing instead of using http.DefaultServeMux directly to
		// avoid accidentally exposing packages that register themselves with it
		// by default (like pprof).
		router := mux.NewRouter()

		// pprof server. NOT necessarily safe to expose publicly - only enable it
		// in dev mode to avoid exposing it by accident.
		if *unsafeDevMode {
			router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
		}

		// Simple endpoint exposing node readiness (safe to expose to untrusted clients)
		router.HandleFunc("/readyz", readiness.Handler)

		// Prometheus metrics (safe to expose to untrusted clients)
		router.Handle("/metrics", promhttp.Handler())

		go func() {
			logger.Info("status server listening", zap.String("addr", *statusAddr))
			logger.Error("status server crashed", zap.Error(http.ListenAndServe(*statusAddr, router)))
		}()
	}

	database := db.OpenDb(logger, dataDir)
	defer database.Close()
	readiness.SetReady(readiness.ReadyDatabase)

	owner := eth_common.HexToAddress(*ownerAddress)
	srcChain := authmsg.ChainID(*sourceChainID)
	dstChain := authmsg.ChainID(*destinationChainID)

	var signer relayersigner.RelayerSigner
	if *relayerSignerUri != "" {
		signer, err = relayersigner.NewRelayerSignerFromUri(*relayerSignerUri, *unsafeDevMode)
		if err != nil {
			logger.Fatal("failed to load relayer signer", zap.Error(err))
		}
	} else {
		// Devnet only: ephemeral key, lost on restart.
		signer, err = relayersigner.GenerateSignerWithPrivatekeyUnsafe(nil)
		if err != nil {
			logger.Fatal("failed to generate relayer signer", zap.Error(err))
		}
	}
	logger.Info("relayer signer loaded", zap.Stringer("address", relayersigner.Address(signer)))

	// Source side: asset, vault, escrow.
	asset := vault.NewMemoryAsset()
	shareVault := vault.NewMemoryVault(asset, eth_common.HexToAddress(*vaultAddress))
	adapter := vault.NewAdapter(shareVault, asset, eth_common.HexToAddress(*escrowAddress))
	e := escrow.NewEscrow(logger, database, adapter, srcChain, owner, nil)
	if err := e.LoadFromDB(); err != nil {
		logger.Fatal("failed to load escrow state", zap.Error(err))
	}
	readiness.SetReady(readiness.ReadyEscrow)

	// Destination side: wrapped ledger, issuer.
	issuerAddr := eth_common.HexToAddress(*issuerAddress)
	ledger := wrapped.NewLedger(logger, owner)
	if err := ledger.SetBridge(owner, issuerAddr); err != nil {
		logger.Fatal("failed to bind issuer to wrapped ledger", zap.Error(err))
	}
	i := issuer.NewIssuer(logger, database, ledger, dstChain, issuerAddr, owner, nil)
	if err := i.LoadFromDB(); err != nil {
		logger.Fatal("failed to load issuer state", zap.Error(err))
	}
	if err := i.SetRelayer(owner, relayersigner.Address(signer)); err != nil {
		logger.Fatal("failed to set relayer on issuer", zap.Error(err))
	}
	readiness.SetReady(readiness.ReadyIssuer)

	// Each side trusts the other by address.
	if !e.ChainSupported(dstChain) {
		if err := e.AddChain(owner, dstChain, issuerAddr); err != nil {
			logger.Fatal("failed to register destination chain", zap.Error(err))
		}
	}
	if !i.SourceChainSupported(srcChain) {
		if err := i.AddSourceChain(owner, srcChain, eth_common.HexToAddress(*vaultAddress), eth_common.HexToAddress(*escrowAddress)); err != nil {
			logger.Fatal("failed to register source chain", zap.Error(err))
		}
	}

	r := relayer.NewRelayer(logger, database, signer, e, i, relayerCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		readiness.SetReady(readiness.ReadyRelayer)
		return r.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("node exited with error", zap.Error(err))
	}

	logger.Info("node shut down cleanly")
}
