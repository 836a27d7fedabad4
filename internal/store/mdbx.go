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

//go:build mdbx_engine

package store

import (
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/calimero-network/core-sub010/internal/calerr"
)

// MdbxDB is the production substrate engine, directly grounded on the
// embedded store erigon-lib/kv/tables.go is written against: one MDBX
// environment, one named sub-database per Column. It is opt-in via the
// mdbx_engine build tag because MDBX is a cgo dependency; MemDB (memory.go)
// is the default so the rest of the module, and every test, builds without
// a C toolchain.
type MdbxDB struct {
	env  *mdbx.Env
	dbis map[Column]mdbx.DBI
}

// OpenMdbx creates or opens an MDBX environment at path with one named
// database per column in AllColumns.
func OpenMdbx(path string, maxSize int) (*MdbxDB, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "create mdbx env", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(AllColumns))); err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "set max dbs", err)
	}
	if maxSize > 0 {
		if err := env.SetGeometry(-1, -1, maxSize, -1, -1, -1); err != nil {
			return nil, calerr.Wrap(calerr.StorageError, "set geometry", err)
		}
	}
	if err := env.Open(path, mdbx.NoSubdir, 0o600); err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "open mdbx env", err)
	}

	db := &MdbxDB{env: env, dbis: make(map[Column]mdbx.DBI, len(AllColumns))}
	err = env.Update(func(txn *mdbx.Txn) error {
		for _, col := range AllColumns {
			dbi, err := txn.OpenDBISimple(string(col), mdbx.Create)
			if err != nil {
				return fmt.Errorf("open column %s: %w", col, err)
			}
			db.dbis[col] = dbi
		}
		return nil
	})
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "create columns", err)
	}
	return db, nil
}

func (db *MdbxDB) Close() error {
	db.env.Close()
	return nil
}

func (db *MdbxDB) View(fn func(Tx) error) error {
	return db.env.View(func(txn *mdbx.Txn) error {
		return fn(&mdbxTx{txn: txn, dbis: db.dbis})
	})
}

func (db *MdbxDB) Update(fn func(RwTx) error) error {
	return db.env.Update(func(txn *mdbx.Txn) error {
		return fn(&mdbxTx{txn: txn, dbis: db.dbis})
	})
}

type mdbxTx struct {
	txn  *mdbx.Txn
	dbis map[Column]mdbx.DBI
}

func (t *mdbxTx) Get(col Column, key []byte) ([]byte, error) {
	v, err := t.txn.Get(t.dbis[col], key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, notFound(col, key)
		}
		return nil, calerr.Wrap(calerr.StorageError, "get", err)
	}
	return v, nil
}

func (t *mdbxTx) Has(col Column, key []byte) (bool, error) {
	_, err := t.txn.Get(t.dbis[col], key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return false, nil
		}
		return false, calerr.Wrap(calerr.StorageError, "has", err)
	}
	return true, nil
}

func (t *mdbxTx) Put(col Column, key, value []byte) error {
	if err := t.txn.Put(t.dbis[col], key, value, 0); err != nil {
		return calerr.Wrap(calerr.StorageError, "put", err)
	}
	return nil
}

func (t *mdbxTx) Delete(col Column, key []byte) error {
	if err := t.txn.Del(t.dbis[col], key, nil); err != nil && !mdbx.IsNotFound(err) {
		return calerr.Wrap(calerr.StorageError, "delete", err)
	}
	return nil
}

func (t *mdbxTx) Iter(col Column) Iterator {
	cur, err := t.txn.OpenCursor(t.dbis[col])
	if err != nil {
		return &mdbxIterator{err: err}
	}
	return &mdbxIterator{cur: cur}
}

type mdbxIterator struct {
	cur        *mdbx.Cursor
	key, value []byte
	prefix     []byte
	err        error
	done       bool
}

func (it *mdbxIterator) Seek(prefix []byte) bool {
	if it.err != nil {
		return false
	}
	it.prefix = append([]byte(nil), prefix...)
	k, v, err := it.cur.Get(prefix, nil, mdbx.SetRange)
	return it.land(k, v, err)
}

func (it *mdbxIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	k, v, err := it.cur.Get(nil, nil, mdbx.Next)
	return it.land(k, v, err)
}

func (it *mdbxIterator) land(k, v []byte, err error) bool {
	if err != nil {
		it.done = true
		return false
	}
	if len(it.prefix) > 0 && !hasPrefix(k, it.prefix) {
		it.done = true
		return false
	}
	it.key, it.value = k, v
	return true
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (it *mdbxIterator) Key() []byte   { return it.key }
func (it *mdbxIterator) Value() []byte { return it.value }
func (it *mdbxIterator) Close() {
	if it.cur != nil {
		it.cur.Close()
	}
}
