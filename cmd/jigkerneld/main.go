// Package main provides the jigkerneld daemon -- a P2P node that serves
// deploy/new/call/commit/replay/sync requests against UTXO-embedded jigs.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/jigkernel/internal/backend"
	"github.com/klingon-exchange/jigkernel/internal/chain"
	"github.com/klingon-exchange/jigkernel/internal/collab"
	kernelconfig "github.com/klingon-exchange/jigkernel/internal/config"
	"github.com/klingon-exchange/jigkernel/internal/kernel"
	"github.com/klingon-exchange/jigkernel/internal/node"
	"github.com/klingon-exchange/jigkernel/internal/rpc"
	"github.com/klingon-exchange/jigkernel/internal/storage"
	"github.com/klingon-exchange/jigkernel/internal/wallet"
	"github.com/klingon-exchange/jigkernel/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir        = flag.String("data-dir", "~/.jigkernel", "Data directory")
		configFile     = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		kernelConfig   = flag.String("kernel-config", "", "Kernel config file path (default: <data-dir>/kernel.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		apiAddr        = flag.String("api", "127.0.0.1:8080", "JSON-RPC API address")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		feeRate        = flag.Uint64("fee-rate", 2, "Purse fee rate, in sat/vbyte")
		account        = flag.Uint("account", 0, "HD account index the purse/owner collaborators derive from")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("jigkerneld %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Determine data directory (testnet uses subdirectory)
	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	// Load or create config file
	var cfg *node.Config
	var err error

	if *configFile != "" {
		cfg, err = node.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = node.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}

	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", node.ConfigPath(effectiveDataDir))

	// Load the kernel's own operating parameters (app string, trust list,
	// per-operation timeouts) -- distinct from the P2P layer's node.Config.
	kernelCfgPath := *kernelConfig
	if kernelCfgPath == "" {
		kernelCfgPath = filepath.Join(expandPath(effectiveDataDir), "kernel.yaml")
	}
	kcfg, err := kernelconfig.Load(kernelCfgPath)
	if err != nil {
		log.Fatal("Failed to load kernel config", "error", err)
	}
	log.Info("Kernel config loaded", "path", kernelCfgPath, "app", kcfg.AppString, "trusted_txids", len(kcfg.TrustedTxIDs))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	dataPath := expandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	// Initialize wallet service (Bitcoin-only: the kernel's owner/purse
	// collaborators sign and fund with the same key material).
	walletNetwork := chain.Mainnet
	if *testnet {
		walletNetwork = chain.Testnet
	}

	backendRegistry := backend.NewDefaultRegistry(walletNetwork)
	log.Info("Backend registry initialized", "network", walletNetwork, "backends", backendRegistry.List())

	walletService := wallet.NewService(&wallet.ServiceConfig{
		DataDir:  dataPath,
		Network:  walletNetwork,
		Backends: backendRegistry,
	})
	log.Info("Wallet service initialized", "network", walletNetwork)

	btcBackend, ok := backendRegistry.Get("BTC")
	if !ok {
		log.Fatal("No BTC backend registered")
	}
	btcParams, ok := chain.Get("BTC", walletNetwork)
	if !ok {
		log.Fatal("No BTC chain params for network", "network", walletNetwork)
	}

	chainAdapter := backend.NewChainAdapter(btcBackend, string(walletNetwork))

	kernelCache := storage.NewCache(store)
	kernelLoader := storage.NewLoader(store)

	// The owner/purse collaborators sign jig ownership and pay commit fees
	// out of the same wallet; if it hasn't been unlocked yet, the kernel is
	// still usable for replay and sync, but Commit reports a wallet error
	// until an operator unlocks it over wallet_unlock and the daemon is
	// restarted.
	var owner collab.Owner
	var purse collab.Purse
	if walletService.IsUnlocked() {
		if w := walletService.GetWallet(); w != nil {
			ownerPurse := wallet.NewOwnerPurse(w, store, btcBackend, btcParams, uint32(*account), *feeRate)
			owner, purse = ownerPurse, ownerPurse
		}
	}

	k := kernel.New(kernel.Config{
		App:    kcfg.AppString,
		Vrun:   0,
		Chain:  chainAdapter,
		Owner:  owner,
		Purse:  purse,
		Cache:  kernelCache,
		Loader: kernelLoader,
		Trust:  kcfg,
		Store:  store,
		Queue:  &collab.Queue{},
	})
	log.Info("Kernel initialized", "app", kcfg.AppString)

	// Create node
	log.Info("Starting jigkernel P2P Node...")
	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	peerStoreAdapter := node.NewPeerStoreAdapter(store)
	n.SetPeerStoreAdapter(peerStoreAdapter)

	if err := n.LoadPersistedPeers(); err != nil {
		log.Warn("Failed to load persisted peers", "error", err)
	}

	if err := n.SetupDirectMessaging(store); err != nil {
		log.Warn("Failed to setup direct messaging", "error", err)
	} else {
		log.Info("Direct P2P messaging initialized")
	}

	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	// Start RPC server
	rpcServer := rpc.NewServer(n, store, walletService, k)
	if err := rpcServer.Start(*apiAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	// Print node info
	printBanner(log, n, cfg, *apiAddr)

	// Set up peer connection logging and WebSocket broadcasting
	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
		if hub := rpcServer.WSHub(); hub != nil {
			hub.Broadcast(rpc.EventPeerConnected, map[string]interface{}{
				"peer_id":     p.String(),
				"total_peers": n.PeerCount(),
			})
		}
	})

	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
		if hub := rpcServer.WSHub(); hub != nil {
			hub.Broadcast(rpc.EventPeerDisconnected, map[string]interface{}{
				"peer_id":     p.String(),
				"total_peers": n.PeerCount(),
			})
		}
	})

	// Start status ticker
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	if err := n.SavePeerCache(); err != nil {
		log.Error("Error saving peer cache", "error", err)
	}

	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *node.Config, apiAddr string) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  jigkernel P2P Node (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.Network.EnableMDNS, cfg.Network.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
