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

package context

import (
	stdctx "context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core-sub010/internal/blob"
	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/configoracle"
	"github.com/calimero-network/core-sub010/internal/crdt"
	"github.com/calimero-network/core-sub010/internal/dag"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

func newTestManager(t *testing.T) (*Manager, *configoracle.MemoryOracle) {
	t.Helper()
	db := store.NewMemDB()
	oracle := configoracle.NewMemory()
	m := NewManager(ManagerOptions{
		DB:     db,
		Dag:    dag.New(db),
		Blobs:  blob.New(db),
		Oracle: oracle,
	})
	return m, oracle
}

func TestCreateContextWritesGenesisMetaAndAnchorRecord(t *testing.T) {
	m, oracle := newTestManager(t)
	creator, err := identity.Generate()
	require.NoError(t, err)
	appId := types.ApplicationId{0xAA}

	contextId, err := m.CreateContext(appId, creator)
	require.NoError(t, err)

	got, err := oracle.Application(stdctx.Background(), contextId)
	require.NoError(t, err)
	require.Equal(t, appId, got)

	owned, err := m.OwnedIdentities(contextId)
	require.NoError(t, err)
	require.Equal(t, []types.PublicKey{creator.PublicKey()}, owned)

	err = m.db.View(func(tx store.Tx) error {
		meta, err := getMeta(tx, contextId)
		require.NoError(t, err)
		require.Equal(t, appId, meta.ApplicationId)
		require.Empty(t, meta.Handles)
		return nil
	})
	require.NoError(t, err)
}

func TestApplyActionRecordsHandleAndDispatchesToCRDT(t *testing.T) {
	m, _ := newTestManager(t)
	creator, err := identity.Generate()
	require.NoError(t, err)
	contextId, err := m.CreateContext(types.ApplicationId{1}, creator)
	require.NoError(t, err)

	ts := hlc.Timestamp{WallMS: 1000, Counter: 0, Author: creator.PublicKey()}
	action := types.Action{Kind: types.ActionUpdate, RootId: defaultStorageRoot, TypeId: crdt.TypeUnorderedMap, Key: []byte("k"), Value: []byte("v")}

	err = m.db.Update(func(tx store.RwTx) error {
		return m.ApplyAction(tx, contextId, ts, action)
	})
	require.NoError(t, err)

	var value []byte
	var ok bool
	err = m.db.View(func(tx store.Tx) error {
		var err error
		value, ok, err = crdt.GetMapValue(tx, contextId, defaultStorageHandle(), []byte("k"))
		return err
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	err = m.db.View(func(tx store.Tx) error {
		meta, err := getMeta(tx, contextId)
		require.NoError(t, err)
		require.Len(t, meta.Handles, 1)
		require.Equal(t, defaultStorageHandle(), meta.Handles[0])
		return nil
	})
	require.NoError(t, err)
}

func TestRootHashChangesWithState(t *testing.T) {
	m, _ := newTestManager(t)
	creator, err := identity.Generate()
	require.NoError(t, err)
	contextId, err := m.CreateContext(types.ApplicationId{1}, creator)
	require.NoError(t, err)

	var before [32]byte
	err = m.db.View(func(tx store.Tx) error {
		var err error
		before, err = m.RootHash(tx, contextId)
		return err
	})
	require.NoError(t, err)

	ts := hlc.Timestamp{WallMS: 1, Author: creator.PublicKey()}
	action := types.Action{Kind: types.ActionUpdate, RootId: defaultStorageRoot, TypeId: crdt.TypeUnorderedMap, Key: []byte("k"), Value: []byte("v")}
	err = m.db.Update(func(tx store.RwTx) error { return m.ApplyAction(tx, contextId, ts, action) })
	require.NoError(t, err)

	var after [32]byte
	err = m.db.View(func(tx store.Tx) error {
		var err error
		after, err = m.RootHash(tx, contextId)
		return err
	})
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestApplyMigrationActionIsLWWOrderedByHLC(t *testing.T) {
	m, _ := newTestManager(t)
	creator, err := identity.Generate()
	require.NoError(t, err)
	contextId, err := m.CreateContext(types.ApplicationId{1}, creator)
	require.NoError(t, err)

	newApp := types.ApplicationId{2}
	late := hlc.Timestamp{WallMS: 100, Author: creator.PublicKey()}
	early := hlc.Timestamp{WallMS: 50, Author: creator.PublicKey()}

	migrate := func(ts hlc.Timestamp, appId types.ApplicationId) error {
		return m.db.Update(func(tx store.RwTx) error {
			return m.ApplyAction(tx, contextId, ts, types.Action{TypeId: typeMigration, Value: appId[:]})
		})
	}
	require.NoError(t, migrate(late, newApp))

	stale := types.ApplicationId{3}
	require.NoError(t, migrate(early, stale))

	err = m.db.View(func(tx store.Tx) error {
		meta, err := getMeta(tx, contextId)
		require.NoError(t, err)
		require.Equal(t, newApp, meta.ApplicationId) // the earlier-HLC migration must not win
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteContextRemovesMetaAndOwnedIdentity(t *testing.T) {
	m, _ := newTestManager(t)
	creator, err := identity.Generate()
	require.NoError(t, err)
	contextId, err := m.CreateContext(types.ApplicationId{1}, creator)
	require.NoError(t, err)

	require.NoError(t, m.DeleteContext(contextId))

	err = m.db.View(func(tx store.Tx) error {
		_, err := getMeta(tx, contextId)
		return err
	})
	require.True(t, calerr.Is(err, calerr.NotFound))

	owned, err := m.OwnedIdentities(contextId)
	require.NoError(t, err)
	require.Empty(t, owned)
}

func TestInvitationSignatureRoundTrips(t *testing.T) {
	m, _ := newTestManager(t)
	inviter, err := identity.Generate()
	require.NoError(t, err)
	invitee, err := identity.Generate()
	require.NoError(t, err)
	contextId, err := m.CreateContext(types.ApplicationId{1}, inviter)
	require.NoError(t, err)

	inv, err := m.Invite(contextId, inviter, invitee.PublicKey())
	require.NoError(t, err)
	require.True(t, inv.Verify())

	inv.InviteePublic = inviter.PublicKey() // tamper
	require.False(t, inv.Verify())
}

func TestAliasStoreRoundTrips(t *testing.T) {
	m, _ := newTestManager(t)
	var target [32]byte
	target[0] = 7

	require.NoError(t, m.Aliases().CreateAlias("bob", AliasIdentity, target))
	kind, got, err := m.Aliases().ResolveAlias("bob")
	require.NoError(t, err)
	require.Equal(t, AliasIdentity, kind)
	require.Equal(t, target, got)

	require.NoError(t, m.Aliases().DeleteAlias("bob"))
	_, _, err = m.Aliases().ResolveAlias("bob")
	require.True(t, calerr.Is(err, calerr.NotFound))
}

func TestInstallFromBytesPersistsApplication(t *testing.T) {
	m, _ := newTestManager(t)
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	app, err := m.InstallFromBytes(wasm, "file://local.wasm", []byte("meta"))
	require.NoError(t, err)
	require.Equal(t, uint64(len(wasm)), app.Size)

	got, err := m.GetApplication(app.Id)
	require.NoError(t, err)
	require.Equal(t, app, got)

	all, err := m.ListApplications()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDeterministicRandomIsReproducible(t *testing.T) {
	ts := hlc.Timestamp{WallMS: 42, Counter: 3, Author: [32]byte{9}}
	a := deterministicRandom(ts)(0, 48)
	b := deterministicRandom(ts)(0, 48)
	require.Equal(t, a, b)

	other := deterministicRandom(ts)(1, 48)
	require.NotEqual(t, a, other)
}
