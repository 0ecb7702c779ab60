// Command node starts a bidchain node.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tolelom/bidchain/api"
	"github.com/tolelom/bidchain/config"
	"github.com/tolelom/bidchain/consensus"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto/certgen"
	"github.com/tolelom/bidchain/directory"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/indexer"
	"github.com/tolelom/bidchain/logdb"
	"github.com/tolelom/bidchain/network"
	"github.com/tolelom/bidchain/rpc"
	"github.com/tolelom/bidchain/storage"
	"github.com/tolelom/bidchain/vm"
	"github.com/tolelom/bidchain/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/bidchain/vm/modules/economy"
	"github.com/tolelom/bidchain/vm/modules/market"
	_ "github.com/tolelom/bidchain/vm/modules/token"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file (.json, .yaml or .yml)")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	initCfg := flag.Bool("init", false, "write a default config to -config and exit")
	flag.Parse()

	setupLogger("info")

	// Read keystore password from environment (not CLI flags, they leak via ps).
	password := os.Getenv("BID_PASSWORD")
	if password == "" {
		slog.Warn("BID_PASSWORD not set, keystore will use an empty password")
	}

	if *initCfg {
		if err := config.Save(config.DefaultConfig(), *cfgPath); err != nil {
			fatal("write config", err)
		}
		fmt.Printf("Default config written to %s\n", *cfgPath)
		return
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate("")
		if err != nil {
			fatal("generate key", err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			fatal("save key", err)
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			fatal("config", err)
		}
		var opts *certgen.Options
		if cfgForCerts.TLS != nil {
			opts = &certgen.Options{Hosts: cfgForCerts.TLS.Hosts}
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, opts); err != nil {
			fatal("gencerts", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fatal("config", err)
	}
	setupLogger(cfg.LogLevel)

	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		fatal("load key", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fatal("mkdir data dir", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		fatal("open db", err)
	}
	defer db.Close()

	// Blocks, state and indexes share one DB under different key prefixes.
	blockStore := storage.NewLevelBlockStore(db)
	state := storage.NewStateDB(db)

	bc := core.NewBlockchain(blockStore)
	if err := bc.Init(); err != nil {
		fatal("blockchain init", err)
	}

	if bc.Tip() == nil {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state)
		if err != nil {
			fatal("genesis", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			fatal("add genesis", err)
		}
		slog.Info("genesis block committed", "hash", genesisBlock.Hash, "chain", cfg.Genesis.ChainID)
	}

	// ---- events and read models ----
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	logs, err := logdb.New(cfg.LogDB())
	if err != nil {
		fatal("open log db", err)
	}
	defer logs.Close()
	logs.Attach(emitter)
	market.AttachMetrics(emitter)

	dir := directory.New(state, directory.TipClock(bc))

	mempool := core.NewMempool(cfg.Genesis.ChainID)
	exec := vm.NewExecutor(state, emitter)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey)

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS, cfg.NodeID)
	if err != nil {
		fatal("tls", err)
	}
	if tlsCfg != nil {
		slog.Info("mTLS enabled for P2P")
	}

	// ---- network ----
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, mempool, tlsCfg)
	syncer := network.NewSyncer(node, bc, poa, exec, state, emitter)
	if err := node.Start(); err != nil {
		fatal("p2p start", err)
	}
	defer node.Stop()
	slog.Info("P2P listening", "addr", node.Addr())
	poa.OnBlock = node.BroadcastBlock

	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			slog.Warn("seed peer", "id", sp.ID, "addr", sp.Addr, "err", err)
			continue
		}
		if peer := node.Peer(sp.ID); peer != nil {
			syncer.SyncWithPeer(peer)
		}
		slog.Info("connected to seed peer", "id", sp.ID, "addr", sp.Addr)
	}

	// ---- RPC ----
	rpcHandler := rpc.NewHandler(bc, mempool, state, dir, idx, logs, cfg.Genesis.ChainID)
	rpcHandler.OnTx = node.BroadcastTx
	rpcServer := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		fatal("rpc start", err)
	}
	defer rpcServer.Stop()
	slog.Info("RPC listening", "addr", rpcServer.Addr(), "auth", cfg.RPCAuthToken != "")

	// ---- REST API ----
	if cfg.APIPort != 0 {
		apiServer := api.NewServer(fmt.Sprintf(":%d", cfg.APIPort), &api.Backend{
			Chain:          bc,
			State:          state,
			Directory:      dir,
			Indexer:        idx,
			Logs:           logs,
			NativeSymbol:   cfg.Genesis.NativeSymbol,
			NativeDecimals: cfg.Genesis.NativeDecimals,
		}, emitter)
		if err := apiServer.Start(); err != nil {
			fatal("api start", err)
		}
		defer apiServer.Stop()
		slog.Info("API listening", "addr", apiServer.Addr())
	}

	// ---- consensus loop ----
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(time.Duration(cfg.BlockInterval), done)
	}()
	slog.Info("consensus running", "validator", privKey.Public().Hex(), "interval", time.Duration(cfg.BlockInterval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	// Stop consensus first so no new blocks are written, then the deferred
	// servers, the log db and the chain db close in reverse order.
	close(done)
	wg.Wait()
	slog.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults", "path", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
