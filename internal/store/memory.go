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

package store

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

// kvItem is one (key, value) pair ordered by key for btree.BTree.
type kvItem struct {
	key, value []byte
}

func (a kvItem) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(kvItem).key) < 0
}

// MemDB is an in-process substrate backed by one copy-on-write B-tree per
// column (google/btree.Clone is O(1) and copy-on-write, which is what makes
// View's read-only snapshots cheap and non-blocking without a separate
// MVCC engine). This is the default engine used by every unit test in the
// repository and by cmd/calimerod unless it is built with the mdbx_engine
// build tag, which swaps in the production engine
// (mdbx.go) without any caller-visible change, since both satisfy DB.
type MemDB struct {
	mu      sync.Mutex
	columns map[Column]*btree.BTree
}

// NewMemDB constructs an empty substrate with every column initialized.
func NewMemDB() *MemDB {
	db := &MemDB{columns: make(map[Column]*btree.BTree, len(AllColumns))}
	for _, c := range AllColumns {
		db.columns[c] = btree.New(32)
	}
	return db
}

func (db *MemDB) Close() error { return nil }

func (db *MemDB) View(fn func(Tx) error) error {
	db.mu.Lock()
	snap := make(map[Column]*btree.BTree, len(db.columns))
	for c, t := range db.columns {
		snap[c] = t.Clone()
	}
	db.mu.Unlock()
	tx := &memTx{columns: snap}
	return fn(tx)
}

func (db *MemDB) Update(fn func(RwTx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	// Work against a clone so a mid-batch failure leaves the committed
	// state untouched (no partial commit visible, per §4.A).
	working := make(map[Column]*btree.BTree, len(db.columns))
	for c, t := range db.columns {
		working[c] = t.Clone()
	}
	tx := &memTx{columns: working}
	if err := fn(tx); err != nil {
		return err
	}
	db.columns = working
	return nil
}

type memTx struct {
	columns map[Column]*btree.BTree
}

func (t *memTx) tree(col Column) *btree.BTree {
	tr, ok := t.columns[col]
	if !ok {
		tr = btree.New(32)
		t.columns[col] = tr
	}
	return tr
}

func (t *memTx) Get(col Column, key []byte) ([]byte, error) {
	item := t.tree(col).Get(kvItem{key: key})
	if item == nil {
		return nil, notFound(col, key)
	}
	return item.(kvItem).value, nil
}

func (t *memTx) Has(col Column, key []byte) (bool, error) {
	return t.tree(col).Get(kvItem{key: key}) != nil, nil
}

func (t *memTx) Put(col Column, key, value []byte) error {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	t.tree(col).ReplaceOrInsert(kvItem{key: k, value: v})
	return nil
}

func (t *memTx) Delete(col Column, key []byte) error {
	t.tree(col).Delete(kvItem{key: key})
	return nil
}

func (t *memTx) Iter(col Column) Iterator {
	return &memIterator{tree: t.tree(col)}
}

// memIterator walks a snapshot tree with one AscendGreaterOrEqual call per
// Seek/Next, starting from the prefix or just past the last returned key,
// so each step is O(log n) without buffering keys.
type memIterator struct {
	tree    *btree.BTree
	prefix  []byte
	started bool
	cur     kvItem
	done    bool
}

func (it *memIterator) Seek(prefix []byte) bool {
	it.prefix = append([]byte(nil), prefix...)
	it.started = false
	it.done = false
	return it.advance(nil)
}

func (it *memIterator) Next() bool {
	if it.done {
		return false
	}
	return it.advance(it.cur.key)
}

// advance finds the smallest key strictly greater than after (or >= prefix
// when after is nil) that still has the configured prefix.
func (it *memIterator) advance(after []byte) bool {
	found := false
	var next kvItem
	pivot := it.prefix
	if after != nil {
		pivot = append([]byte(nil), after...)
	}
	it.tree.AscendGreaterOrEqual(kvItem{key: pivot}, func(i btree.Item) bool {
		kv := i.(kvItem)
		if after != nil && bytes.Equal(kv.key, after) {
			return true // skip the key we already returned
		}
		if !bytes.HasPrefix(kv.key, it.prefix) {
			return false
		}
		next = kv
		found = true
		return false
	})
	if !found {
		it.done = true
		return false
	}
	it.cur = next
	it.started = true
	return true
}

func (it *memIterator) Key() []byte {
	if !it.started {
		return nil
	}
	return it.cur.key
}

func (it *memIterator) Value() []byte {
	if !it.started {
		return nil
	}
	return it.cur.value
}

func (it *memIterator) Close() {}
