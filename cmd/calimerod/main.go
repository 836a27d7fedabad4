// Copyright 2026 The Calimero Authors
// This file is part of Calimero.
//
// Calimero is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Calimero is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Calimero. If not, see <http://www.gnu.org/licenses/>.

// Command calimerod is the node composition root (spec.md §1/§6): it wires
// the KV store, blob store, DAG, CRDT runtime, WASM host, identity, gossip
// mesh, sync engine and context manager into one running node. It exposes
// no HTTP/JSON-RPC/CLI surface — those are explicitly out of scope; an
// embedder drives the process through internal/node.Node directly.
package main

import (
	stdctx "context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/calimero-network/core-sub010/internal/blob"
	"github.com/calimero-network/core-sub010/internal/configoracle"
	calcontext "github.com/calimero-network/core-sub010/internal/context"
	"github.com/calimero-network/core-sub010/internal/dag"
	"github.com/calimero-network/core-sub010/internal/mesh"
	"github.com/calimero-network/core-sub010/internal/node"
	"github.com/calimero-network/core-sub010/internal/runtime"
	"github.com/calimero-network/core-sub010/internal/store"
	syncpkg "github.com/calimero-network/core-sub010/internal/sync"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(log); err != nil {
		log.Error("calimerod exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(log *zap.Logger) error {
	cfg := loadConfig()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Guard exclusive access to the data directory the same way Erigon
	// guards its MDBX data dir, so two calimerod processes never open the
	// same store concurrently.
	lock := flock.New(filepath.Join(cfg.DataDir, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is already in use by another calimerod", cfg.DataDir)
	}
	defer lock.Unlock() //nolint:errcheck

	self, err := loadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.Info("node identity loaded", zap.String("peer", self.PublicKey().String()))

	db, err := openStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close() //nolint:errcheck

	dagStore := dag.New(db)
	blobs := blob.New(db)
	oracle := configoracle.NewMemory()

	host, err := runtime.New(stdctx.Background(), cfg.Limits)
	if err != nil {
		return fmt.Errorf("start wasm host: %w", err)
	}
	defer host.Close(stdctx.Background()) //nolint:errcheck

	ctx, cancel := stdctx.WithCancel(stdctx.Background())
	defer cancel()

	p2pIdentity, err := mesh.LibP2PIdentity(self)
	if err != nil {
		return fmt.Errorf("derive libp2p identity: %w", err)
	}
	p2p, err := mesh.New(ctx, mesh.Options{
		ListenAddrs: cfg.ListenAddrs,
		Identity:    p2pIdentity,
		Logger:      log.Named("mesh"),
	})
	if err != nil {
		return fmt.Errorf("start mesh: %w", err)
	}
	defer p2p.Close() //nolint:errcheck
	log.Info("mesh listening", zap.Stringer("peer", p2p.ID()), zap.Any("addrs", p2p.Addrs()))

	// Two-phase construction (see internal/sync.RootHasher doc comment):
	// the context manager implements RootHasher, so the engine needs it at
	// construction, but the manager needs the engine to broadcast deltas
	// it authors — built in the opposite order and tied together after.
	manager := calcontext.NewManager(calcontext.ManagerOptions{
		DB:     db,
		Dag:    dagStore,
		Blobs:  blobs,
		Host:   host,
		Oracle: oracle,
		Anchor: oracle,
		Self:   self,
		Logger: log.Named("context"),
	})
	engine := syncpkg.New(syncpkg.Options{
		DB:     db,
		Dag:    dagStore,
		Blobs:  blobs,
		Self:   self,
		Mesh:   p2p,
		Roots:  manager,
		Logger: log.Named("sync"),
	})
	manager.SetEngine(engine)

	n := node.New(node.Options{
		Manager: manager,
		Engine:  engine,
		Mesh:    p2p,
		Self:    self,
		Logger:  log.Named("node"),
	})
	if err := n.Run(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
	return n.Shutdown()
}
