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

// Package context is the context manager (component I): it owns the
// lifecycle of a context (creation, joining, application migration,
// membership), and is the one place a WASM call's produced actions are
// turned into a sealed, DAG-appended, broadcast Delta. It implements
// sync.RootHasher so internal/sync can verify and replay remote deltas
// without importing this package.
package context

import (
	stdctx "context"
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/calimero-network/core-sub010/internal/blob"
	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/configoracle"
	"github.com/calimero-network/core-sub010/internal/crdt"
	"github.com/calimero-network/core-sub010/internal/dag"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/runtime"
	"github.com/calimero-network/core-sub010/internal/store"
	syncpkg "github.com/calimero-network/core-sub010/internal/sync"
	"github.com/calimero-network/core-sub010/internal/types"
)

// typeMigration is a reserved Action.TypeId outside crdt's registry: a
// migration action carries the context's new ApplicationId directly in
// Value rather than dispatching to a Collection (spec.md §3 "migration
// delta: special type_id carrying the new ApplicationId").
const typeMigration byte = 0xFF

// defaultStorageRoot names the single well-known UnorderedMap collection
// that backs the WASM host's flat storage_read/write/remove imports
// (spec.md §4.E), grounded on crdt.GetMapValue's own doc comment naming
// that exact role. It is a package-wide constant rather than
// per-context-derived because crdt's state keys are already scoped by
// ContextId ahead of RootId.
var defaultStorageRoot = sha256.Sum256([]byte("calimero:default-storage"))

func defaultStorageHandle() crdt.Handle {
	return crdt.Handle{RootId: defaultStorageRoot, TypeId: crdt.TypeUnorderedMap}
}

// Anchor is the narrow write surface onto the external ConfigOracle anchor
// (spec.md §4.J): genesis and membership/application changes are recorded
// here so a subsequent Oracle read observes them. *configoracle.MemoryOracle
// satisfies it already via PutRecord. A nil Anchor means this node never
// originates anchor writes (e.g. a read-only follower relying on another
// party to mutate the real chain anchor out of band).
type Anchor interface {
	PutRecord(rec types.ConfigRecord)
}

type clockKey struct {
	ctx types.ContextId
	pub types.PublicKey
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	DB     store.DB
	Dag    *dag.Store
	Blobs  *blob.Store
	Host   *runtime.Host
	Oracle configoracle.Oracle
	Anchor Anchor // optional
	Self   identity.KeyPair
	Logger *zap.Logger
}

// Manager is the component I contract.
type Manager struct {
	db     store.DB
	dagStore *dag.Store
	blobs  *blob.Store
	host   *runtime.Host
	oracle configoracle.Oracle
	anchor Anchor
	self   identity.KeyPair
	log    *zap.Logger

	// engine is set post-construction via SetEngine, breaking the
	// construction cycle with internal/sync (Engine needs a RootHasher,
	// which this Manager is, before it exists; the Manager needs the
	// Engine to broadcast/bootstrap once it exists).
	engine *syncpkg.Engine

	mu     sync.Mutex
	clocks map[clockKey]*hlc.Clock

	aliases *AliasStore
}

// NewManager constructs a Manager. SetEngine must be called once before any
// context operation that broadcasts or bootstraps (ExecuteRequest, JoinContext).
func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		db:       opts.DB,
		dagStore: opts.Dag,
		blobs:    opts.Blobs,
		host:     opts.Host,
		oracle:   opts.Oracle,
		anchor:   opts.Anchor,
		self:     opts.Self,
		log:      log,
		clocks:   make(map[clockKey]*hlc.Clock),
	}
	m.aliases = &AliasStore{db: opts.DB}
	return m
}

// SetEngine installs the sync Engine this Manager broadcasts deltas and
// bootstraps joining contexts through.
func (m *Manager) SetEngine(e *syncpkg.Engine) { m.engine = e }

func (m *Manager) clockFor(ctx types.ContextId, author types.PublicKey) *hlc.Clock {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := clockKey{ctx: ctx, pub: author}
	c, ok := m.clocks[key]
	if !ok {
		c = hlc.New(author, nil)
		m.clocks[key] = c
	}
	return c
}

// RootHash implements sync.RootHasher: it folds the context's
// ApplicationId and every touched collection's digest, in the handles'
// sorted order, so two replicas that
// have applied the same action set converge on the same hash regardless of
// which order they first touched each collection in (spec.md §8 law #2).
func (m *Manager) RootHash(tx store.Tx, ctx types.ContextId) ([32]byte, error) {
	meta, err := getMeta(tx, ctx)
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	h.Write(meta.ApplicationId[:])
	for _, handle := range meta.Handles {
		digest, err := crdt.Fold(tx, ctx, handle)
		if err != nil {
			return [32]byte{}, err
		}
		h.Write(handle.RootId[:])
		h.Write([]byte{handle.TypeId})
		h.Write(digest[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ApplyAction implements sync.RootHasher: it special-cases migration
// actions (which mutate meta directly, LWW-compared on ts like any other
// CRDT write) and otherwise records the touched handle and dispatches to
// the crdt package.
func (m *Manager) ApplyAction(tx store.RwTx, ctx types.ContextId, ts hlc.Timestamp, action types.Action) error {
	if action.TypeId == typeMigration {
		return m.applyMigration(tx, ctx, ts, action)
	}
	handle := crdt.Handle{RootId: action.RootId, TypeId: action.TypeId}
	if err := ensureHandle(tx, ctx, handle); err != nil {
		return err
	}
	return crdt.Apply(tx, ctx, handle, ts, action)
}

func (m *Manager) applyMigration(tx store.RwTx, ctx types.ContextId, ts hlc.Timestamp, action types.Action) error {
	if len(action.Value) != 32 {
		return calerr.New(calerr.InvalidArgument, "migration action value must be a 32-byte ApplicationId")
	}
	meta, err := getMeta(tx, ctx)
	if err != nil {
		return err
	}
	if !hlc.Less(meta.MigrationTS, ts) {
		return nil // an equal-or-later migration already won
	}
	copy(meta.ApplicationId[:], action.Value)
	meta.MigrationTS = ts
	return putMeta(tx, ctx, meta)
}

// deriveContextId computes a fresh ContextId from a freshly generated
// genesis keypair's public key (spec.md §3 "ContextId... derived from a
// generating keypair").
func deriveContextId(genesisPublic types.PublicKey) types.ContextId {
	return types.ContextId(sha256.Sum256(genesisPublic[:]))
}

// CreateContext originates a new context: a fresh genesis keypair names its
// ContextId, the creator is recorded as the sole member with full
// capabilities on the anchor (if one is configured), and an empty meta
// record is written locally so subsequent execution has something to fold.
func (m *Manager) CreateContext(appId types.ApplicationId, creator identity.KeyPair) (types.ContextId, error) {
	genesis, err := identity.Generate()
	if err != nil {
		return types.ContextId{}, err
	}
	contextId := deriveContextId(genesis.PublicKey())

	if err := m.db.Update(func(tx store.RwTx) error {
		return putMeta(tx, contextId, meta{ApplicationId: appId})
	}); err != nil {
		return types.ContextId{}, err
	}

	if err := m.storeOwnedIdentity(contextId, creator); err != nil {
		return types.ContextId{}, err
	}

	if m.anchor != nil {
		creatorPub := creator.PublicKey()
		m.anchor.PutRecord(types.ConfigRecord{
			ContextId: contextId,
			AppId:     appId,
			Revision:  1,
			Members:   []types.PublicKey{creatorPub},
			Privileges: map[types.PublicKey][]types.Capability{
				creatorPub: {types.CapManageMembers, types.CapManageApplication, types.CapProposal},
			},
		})
	}
	return contextId, nil
}

// JoinContext admits this node to an existing context: it verifies the
// inviter's signature over the invitation, records the invitee's owned
// keypair, writes a local meta stub so ApplyAction has somewhere to fold
// state into, and bootstraps the full DAG from one of the supplied
// candidates (spec.md §4.H.3).
func (m *Manager) JoinContext(ctx stdctx.Context, invitation InvitationPayload, invitee identity.KeyPair, candidates []peer.ID) error {
	if m.engine == nil {
		return calerr.New(calerr.InvalidArgument, "JoinContext called before SetEngine")
	}
	if !invitation.Verify() {
		return calerr.New(calerr.Unauthorized, "invalid invitation signature")
	}
	if invitation.InviteePublic != invitee.PublicKey() {
		return calerr.New(calerr.InvalidArgument, "invitation does not name this keypair")
	}

	appId, err := m.oracle.Application(ctx, invitation.ContextId)
	if err != nil {
		return err
	}

	if err := m.db.Update(func(tx store.RwTx) error {
		if _, err := getMeta(tx, invitation.ContextId); err == nil {
			return nil // already joined
		}
		return putMeta(tx, invitation.ContextId, meta{ApplicationId: appId})
	}); err != nil {
		return err
	}

	if err := m.storeOwnedIdentity(invitation.ContextId, invitee); err != nil {
		return err
	}

	return m.engine.BootstrapWithRetry(ctx, invitation.ContextId, candidates)
}

// DeleteContext removes every locally-held record scoped to contextId:
// meta, DAG entries, heads, pending index, CRDT state, and owned/peer
// identities. It does not touch the external anchor (membership removal
// there is a capability-gated anchor write outside this node's authority to
// perform unilaterally).
func (m *Manager) DeleteContext(contextId types.ContextId) error {
	cols := []store.Column{
		store.ContextMeta, store.ContextDelta, store.ContextHeads,
		store.ContextPending, store.ContextState, store.ContextIdentity,
		store.ContextOwnedIdentity, store.DagTombstone,
	}
	return m.db.Update(func(tx store.RwTx) error {
		for _, col := range cols {
			if err := deletePrefixed(tx, col, contextId[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefixed(tx store.RwTx, col store.Column, prefix []byte) error {
	var keys [][]byte
	it := tx.Iter(col)
	for ok := it.Seek(prefix); ok; ok = it.Next() {
		key := it.Key()
		if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), key...))
	}
	it.Close()
	for _, k := range keys {
		if err := tx.Delete(col, k); err != nil {
			return err
		}
	}
	return nil
}

// UpdateApplication admits a migration delta changing contextId's
// ApplicationId, gated on by holding CapManageApplication (spec.md §4.J).
// Like any other state change it is authored as a sealed, broadcast Delta.
func (m *Manager) UpdateApplication(ctx stdctx.Context, contextId types.ContextId, by types.PublicKey, newAppId types.ApplicationId) error {
	caps, err := m.oracle.Privileges(ctx, contextId, []types.PublicKey{by})
	if err != nil {
		return err
	}
	if !configoracle.HasCapability(caps[by], types.CapManageApplication) {
		return calerr.New(calerr.Unauthorized, "missing ManageApplication capability")
	}

	action := types.Action{Kind: types.ActionUpdate, TypeId: typeMigration, Value: newAppId[:]}
	_, err = m.authorDelta(ctx, contextId, by, []types.Action{action})
	return err
}

// authorDelta applies actions locally, seals and appends the resulting
// Delta, and broadcasts it — the single code path ExecuteRequest and
// UpdateApplication both fold through.
func (m *Manager) authorDelta(ctx stdctx.Context, contextId types.ContextId, author types.PublicKey, actions []types.Action) (*types.Delta, error) {
	ts := m.clockFor(contextId, author).Tick()

	var root [32]byte
	err := m.db.Update(func(tx store.RwTx) error {
		for _, a := range actions {
			if err := m.ApplyAction(tx, contextId, ts, a); err != nil {
				return err
			}
		}
		var err error
		root, err = m.RootHash(tx, contextId)
		return err
	})
	if err != nil {
		return nil, err
	}

	parents, err := m.dagStore.Heads(contextId)
	if err != nil {
		return nil, err
	}
	d := &types.Delta{
		Id:           types.ComputeDeltaId(parents, ts, actions),
		Parents:      parents,
		HLC:          ts,
		ExpectedRoot: root,
		Actions:      actions,
		Author:       author,
	}
	if err := sealAndPublish(ctx, m, contextId, d); err != nil {
		return nil, err
	}
	return d, nil
}

// sealAndPublish seals d's actions, appends it to the local DAG, and
// broadcasts it — the single path every freshly-authored Delta (from
// ExecuteRequest or authorDelta) goes through.
func sealAndPublish(ctx stdctx.Context, m *Manager, contextId types.ContextId, d *types.Delta) error {
	if err := syncpkg.SealDeltaActions(contextId, d); err != nil {
		return err
	}
	if err := m.dagStore.Append(contextId, d); err != nil {
		return err
	}
	if m.engine != nil {
		return m.engine.Broadcast(ctx, contextId, d)
	}
	return nil
}

// ListContexts returns every context this node holds local state for.
func (m *Manager) ListContexts() ([]types.ContextId, error) {
	var out []types.ContextId
	err := m.db.View(func(tx store.Tx) error {
		it := tx.Iter(store.ContextMeta)
		defer it.Close()
		for ok := it.Seek(nil); ok; ok = it.Next() {
			var id types.ContextId
			copy(id[:], it.Key())
			out = append(out, id)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out, err
}

// ContextMembers returns contextId's members: the anchor's full member list,
// or just the identities this node itself owns when onlyOwned is set.
func (m *Manager) ContextMembers(ctx stdctx.Context, contextId types.ContextId, onlyOwned bool) ([]types.PublicKey, error) {
	if onlyOwned {
		return m.OwnedIdentities(contextId)
	}
	return m.oracle.Members(ctx, contextId, 0, 0)
}
