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
	"bytes"
	"crypto/sha256"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// InstallFromBytes stores wasmBytes in the blob store and records an
// Application descriptor for it (spec.md §3 Application). CompiledBlobId is
// kept equal to BlobId: a real precompiled-module cache would need wazero's
// own compilation-cache serialization wired to a second blob, which no
// component of this slice yet exercises (see DESIGN.md).
func (m *Manager) InstallFromBytes(wasmBytes []byte, sourceURI string, metadata []byte) (types.Application, error) {
	blobId, size, err := m.blobs.Put(bytes.NewReader(wasmBytes))
	if err != nil {
		return types.Application{}, err
	}
	app := types.Application{
		Id:             types.ApplicationId(sha256.Sum256(wasmBytes)),
		BlobId:         blobId,
		CompiledBlobId: blobId,
		Size:           size,
		SourceURI:      sourceURI,
		Metadata:       metadata,
	}
	if err := m.putApplication(app); err != nil {
		return types.Application{}, err
	}
	return app, nil
}

// InstallFromBlob records an Application descriptor for bytecode already
// present in the blob store (e.g. received via a peer's BlobShare, spec.md
// §4.H.2 S6), without re-uploading it.
func (m *Manager) InstallFromBlob(appId types.ApplicationId, blobId types.BlobId, size uint64, sourceURI string, metadata []byte) (types.Application, error) {
	if !mustHaveBlob(m, blobId) {
		return types.Application{}, calerr.New(calerr.MissingDependency, "blob not present locally")
	}
	app := types.Application{
		Id:             appId,
		BlobId:         blobId,
		CompiledBlobId: blobId,
		Size:           size,
		SourceURI:      sourceURI,
		Metadata:       metadata,
	}
	if err := m.putApplication(app); err != nil {
		return types.Application{}, err
	}
	return app, nil
}

func mustHaveBlob(m *Manager, id types.BlobId) bool {
	has, err := m.blobs.Has(id)
	return err == nil && has
}

func (m *Manager) putApplication(app types.Application) error {
	w := wire.NewWriter(128)
	app.Encode(w)
	return m.db.Update(func(tx store.RwTx) error {
		return tx.Put(store.Application, app.Id[:], w.Bytes())
	})
}

// GetApplication returns the descriptor for appId.
func (m *Manager) GetApplication(appId types.ApplicationId) (types.Application, error) {
	var app types.Application
	err := m.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.Application, appId[:])
		if err != nil {
			return err
		}
		app, err = types.DecodeApplication(wire.NewReader(raw))
		return err
	})
	return app, err
}

// ListApplications returns every installed Application descriptor.
func (m *Manager) ListApplications() ([]types.Application, error) {
	var out []types.Application
	err := m.db.View(func(tx store.Tx) error {
		it := tx.Iter(store.Application)
		defer it.Close()
		for ok := it.Seek(nil); ok; ok = it.Next() {
			app, err := types.DecodeApplication(wire.NewReader(it.Value()))
			if err != nil {
				return calerr.Wrap(calerr.SerializationError, "decode application", err)
			}
			out = append(out, app)
		}
		return nil
	})
	return out, err
}

// loadApplicationBytecode loads contextId's currently-pinned Application
// descriptor and its compiled bytecode, ready to hand to runtime.Host.Execute.
func (m *Manager) loadApplicationBytecode(contextId types.ContextId) (types.Application, []byte, error) {
	var appId types.ApplicationId
	err := m.db.View(func(tx store.Tx) error {
		meta, err := getMeta(tx, contextId)
		if err != nil {
			return err
		}
		appId = meta.ApplicationId
		return nil
	})
	if err != nil {
		return types.Application{}, nil, err
	}
	app, err := m.GetApplication(appId)
	if err != nil {
		return types.Application{}, nil, err
	}
	wasmBytes, err := m.blobs.Get(app.BlobId)
	if err != nil {
		return types.Application{}, nil, err
	}
	return app, wasmBytes, nil
}
