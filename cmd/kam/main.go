// File: cmd/kam/main.go - Settlement router entry point
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veris-labs/go-kam/api"
	"github.com/veris-labs/go-kam/config"
	"github.com/veris-labs/go-kam/core/batch"
	"github.com/veris-labs/go-kam/core/distribution"
	"github.com/veris-labs/go-kam/core/ledger"
	"github.com/veris-labs/go-kam/core/minter"
	"github.com/veris-labs/go-kam/core/orders"
	"github.com/veris-labs/go-kam/core/pool"
	"github.com/veris-labs/go-kam/core/request"
	"github.com/veris-labs/go-kam/core/roles"
	"github.com/veris-labs/go-kam/core/settlement"
	"github.com/veris-labs/go-kam/core/virtual"
	"github.com/veris-labs/go-kam/relayer"
	vaultpkg "github.com/veris-labs/go-kam/staking/vault"
	"github.com/veris-labs/go-kam/storage"
	"github.com/veris-labs/go-kam/strategy"
)

func main() {
	// Command line arguments
	var configPath = flag.String("config", "", "Path to YAML config file (optional)")
	var dataDir = flag.String("data", "", "Data directory (overrides config)")
	var apiAddr = flag.String("api", "", "API listen address (overrides config)")
	var noRelayer = flag.Bool("no-relayer", false, "Disable the settlement relayer loop")

	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *apiAddr != "" {
		cfg.API.ListenAddr = *apiAddr
	}
	if *noRelayer {
		cfg.Relayer.Enabled = false
	}

	fmt.Printf("🚀 Starting KAM settlement router %s...\n", cfg.NodeID)

	clock := func() int64 { return time.Now().Unix() }

	// Persistence
	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open storage at %s: %v", cfg.DataDir, err)
	}

	// Core state
	ld := ledger.New()
	batches := batch.NewTracker(clock)
	requests := request.NewQueue(batches, clock)
	registry := strategy.NewRegistry()
	flows := virtual.NewLedger(registry)
	pools := pool.NewAccounting()

	// The node's own identity drives the settlement loop. External
	// institutions and guardians are granted through the authority at
	// runtime or by an admin integration.
	authority := roles.NewStaticAuthority()
	authority.Grant(cfg.NodeID, roles.Relayer)
	authority.Grant(cfg.NodeID, roles.Admin)

	// Physical collateral moves through the custodian, not this ledger,
	// so released buckets need no on-ledger transfer.
	receiver := distribution.NewPerBatchReceiver(batches, nil)

	engine := settlement.NewEngine(cfg.Settlement, settlement.Deps{
		Ledger:    ld,
		Batches:   batches,
		Requests:  requests,
		Virtual:   flows,
		Pools:     pools,
		Authority: authority,
		Receiver:  receiver,
		Recorder:  store,
		Clock:     clock,
	})

	// Register configured vaults and their adapters
	for _, vc := range cfg.Vaults {
		if err := ld.RegisterAsset(vc.Asset, vc.KTokenSymbol, vc.Decimals); err != nil {
			log.Fatalf("Failed to register asset %s: %v", vc.Asset, err)
		}
		if err := ld.RegisterAsset(vc.ShareSymbol, vc.ShareSymbol, vc.Decimals); err != nil {
			log.Fatalf("Failed to register share asset %s: %v", vc.ShareSymbol, err)
		}
		if err := engine.RegisterVault(vc.Name, vc.Asset, vc.ShareSymbol); err != nil {
			log.Fatalf("Failed to register vault %s: %v", vc.Name, err)
		}
		if err := registry.Register(vc.Name, strategy.NewCustodialAdapter("custodial")); err != nil {
			log.Fatalf("Failed to register adapter for vault %s: %v", vc.Name, err)
		}
		fmt.Printf("✅ Vault %s registered (%s -> %s / %s)\n",
			vc.Name, vc.Asset, vc.KTokenSymbol, vc.ShareSymbol)
	}

	mint := minter.New(minter.Deps{
		Ledger:    ld,
		Batches:   batches,
		Requests:  requests,
		Virtual:   flows,
		Pools:     pools,
		Engine:    engine,
		Receiver:  receiver,
		Authority: authority,
	})

	staking := vaultpkg.New(vaultpkg.Deps{
		Ledger:    ld,
		Batches:   batches,
		Requests:  requests,
		Pools:     pools,
		Engine:    engine,
		Authority: authority,
	})

	// Signed order boundary. Signer keys are registered out of band by
	// an admin integration.
	verifier := orders.NewVerifier(clock)

	// HTTP API
	server := api.NewServer(cfg.API.ListenAddr, cfg.API.EnableCORS, api.Deps{
		Ledger:   ld,
		Batches:  batches,
		Requests: requests,
		Pools:    pools,
		Engine:   engine,
		Minter:   mint,
		Staking:  staking,
		Verifier: verifier,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Printf("API server stopped: %v", err)
		}
	}()

	// Settlement relayer
	var rel *relayer.Relayer
	if cfg.Relayer.Enabled {
		rel = relayer.New(cfg, relayer.Deps{
			Actor:    cfg.NodeID,
			Engine:   engine,
			Batches:  batches,
			Virtual:  flows,
			Registry: registry,
			Clock:    clock,
		})
		if err := rel.Start(); err != nil {
			log.Fatalf("Failed to start relayer: %v", err)
		}
	}

	fmt.Printf("✅ Router running: API on %s, %d vault(s), relayer enabled=%v\n",
		cfg.API.ListenAddr, len(cfg.Vaults), cfg.Relayer.Enabled)

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Status reporting ticker
	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-c:
			fmt.Printf("\n🛑 Shutting down %s...\n", cfg.NodeID)

			if rel != nil {
				rel.Stop()
			}
			if err := server.Stop(); err != nil {
				log.Printf("Error stopping API server: %v", err)
			}
			if err := store.Close(); err != nil {
				log.Printf("Error closing storage: %v", err)
			}

			fmt.Println("✅ Shutdown complete")
			return

		case <-statusTicker.C:
			printStatus(batches, pools, engine)
		}
	}
}

// printStatus logs a one-line summary per vault
func printStatus(batches *batch.Tracker, pools *pool.Accounting, engine *settlement.Engine) {
	for _, vault := range batches.Vaults() {
		id, err := batches.CurrentBatchID(vault)
		if err != nil {
			continue
		}

		institutional, user, err := pools.Totals(vault)
		if err != nil {
			continue
		}

		last, settled := engine.LastObserved(vault)
		fmt.Printf("📊 %s: batch=%d institutional=%d user=%d lastObserved=%d settled=%v\n",
			vault, id, institutional, user, last, settled)
	}
}
