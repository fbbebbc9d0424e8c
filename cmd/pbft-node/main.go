// Command pbft-node bootstraps a single PBFT consensus core process: it
// loads configuration and the node's signing key, starts the metrics
// endpoint, and runs the event loop until an interrupt or SIGTERM.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bftengine/pbftcore/internal/config"
	"github.com/bftengine/pbftcore/internal/logger"
	"github.com/bftengine/pbftcore/internal/pbft"
)

// parseFlags mirrors the teacher's flag-then-config-override shape
// (cmd/cerera/main.go's parseFlags), trimmed to what a PBFT core needs:
// where to find its config and key, and which peers it starts among.
func parseFlags() (configPath, keyPath, peersPath string) {
	cp := flag.String("config", "", "path to pbft-config.json (created with defaults if absent)")
	kp := flag.String("key", "pbft-node.key", "path to hex-encoded secp256k1 node key (generated if absent)")
	pp := flag.String("peers", "", "path to a newline-separated file of hex peer ids (self included)")
	flag.Parse()
	return *cp, *kp, *pp
}

// loadNodeKey loads a hex-encoded secp256k1 private key from path, or
// generates and persists one if the file doesn't exist, following the
// teacher's SetNodeKey load-or-generate-then-persist pattern
// (internal/cerera/config/config.go) adapted from PEM to raw hex.
func loadNodeKey(path string) (*btcec.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		raw, err := hex.DecodeString(string(trimNewline(data)))
		if err != nil {
			return nil, fmt.Errorf("decode node key %s: %w", path, err)
		}
		priv, _ := btcec.PrivKeyFromBytes(raw)
		return priv, nil
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	encoded := hex.EncodeToString(priv.Serialize())
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("persist node key %s: %w", path, err)
	}
	return priv, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// loadPeers reads a newline-separated file of hex peer ids. An empty path
// yields a single-member set containing only self; a path that cannot be
// read is an error. A single-member set gives f = 0, which pbft.NewState
// rejects, so the engine needs a peers file of at least four ids to start.
func loadPeers(path string, self pbft.PeerID) ([]pbft.PeerID, map[pbft.PeerID]*btcec.PublicKey, error) {
	if path == "" {
		return []pbft.PeerID{self}, nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read peers file %s: %w", path, err)
	}

	var ids []pbft.PeerID
	keys := make(map[pbft.PeerID]*btcec.PublicKey)
	for _, line := range splitLines(data) {
		if line == "" {
			continue
		}
		raw, err := hex.DecodeString(line)
		if err != nil {
			return nil, nil, fmt.Errorf("decode peer id %q: %w", line, err)
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("parse peer pubkey %q: %w", line, err)
		}
		id := pbft.PeerID(raw)
		ids = append(ids, id)
		keys[id] = pub
	}
	return ids, keys, nil
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, c := range data {
		if c == '\n' {
			lines = append(lines, string(trimNewline(data[start:i])))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(trimNewline(data[start:])))
	}
	return lines
}

// serveMetrics exposes Prometheus metrics over net/http + promhttp, the
// wiring SPEC_FULL.md's domain stack section calls for.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Named("metrics").Errorw("metrics server stopped", "error", err)
		}
	}()
}

func main() {
	configPath, keyPath, peersPath := parseFlags()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if _, err := logger.Init(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole, Path: cfg.LogPath}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Named("main")

	priv, err := loadNodeKey(keyPath)
	if err != nil {
		log.Fatalw("failed to load node key", "error", err)
	}
	self := pbft.PeerID(priv.PubKey().SerializeCompressed())

	peers, peerKeys, err := loadPeers(peersPath, self)
	if err != nil {
		log.Fatalw("failed to load peers", "error", err)
	}
	if peerKeys == nil {
		peerKeys = map[pbft.PeerID]*btcec.PublicKey{}
	}
	peerKeys[self] = priv.PubKey()
	keys := pbft.NewStaticKeyStore(peerKeys)

	var store pbft.Store
	if cfg.StateDir != "" {
		store, err = pbft.OpenBitcaskStore(cfg.StateDir)
		if err != nil {
			log.Fatalw("failed to open state store", "error", err)
		}
		defer store.Close()
	} else {
		store = pbft.NewMemoryStore()
	}

	stateCfg := pbft.StateConfig{
		BlockDuration:          cfg.BlockDuration,
		MessageTimeout:         cfg.MessageTimeout,
		ViewChangeDuration:     cfg.ViewChangeDuration,
		ForcedViewChangePeriod: cfg.ForcedViewChangePeriod,
		MaxLogSize:             cfg.MaxLogSize,
	}

	// The validator side of the interface (block execution, gossip
	// transport) is out of scope here; NullValidator stands in so the
	// engine and event loop can be exercised standalone. A real
	// deployment replaces this with an adapter into its own block
	// executor and network layer.
	validator := pbft.NullValidator{}

	engine := pbft.NewEngine(validator, keys, priv, store, stateCfg)

	serveMetrics(cfg.MetricsAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	updates := make(chan pbft.Update)
	startup := pbft.StartupState{Peers: peers, LocalPeerInfo: self}

	log.Infow("starting pbft node", "self", self, "peers", len(peers), "metrics_addr", cfg.MetricsAddr)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Start(ctx, updates, startup) }()

	select {
	case <-ctx.Done():
		log.Infow("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Errorw("engine stopped with error", "error", err)
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case err := <-errCh:
		if err != nil {
			log.Errorw("engine exited with error", "error", err)
		}
	case <-shutdownCtx.Done():
		log.Warnw("graceful shutdown timed out")
	}
}
