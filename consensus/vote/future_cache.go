// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package vote

import (
	"sort"
	"sync"

	"github.com/annchain/ogbft/consensus/model"
	mapset "github.com/deckarep/golang-set"
)

// FutureEntry accumulates ballots of a slot this node has not reached yet.
type FutureEntry struct {
	Key     model.ConsensusKey
	Ballots []*Received

	ids     mapset.Set
	senders mapset.Set
}

// Senders lists the peers that delivered ballots of this entry.
func (e *FutureEntry) Senders() []string {
	var peers []string
	for _, v := range e.senders.ToSlice() {
		peers = append(peers, v.(string))
	}
	sort.Strings(peers)
	return peers
}

// FutureCache holds early ballots keyed by slot. It has its own lock: it is
// filled by the ballot consumers without the session lock and drained by the
// controller while holding it.
type FutureCache struct {
	mu      sync.Mutex
	entries map[model.ConsensusKey]*FutureEntry
}

func NewFutureCache() *FutureCache {
	return &FutureCache{
		entries: make(map[model.ConsensusKey]*FutureEntry),
	}
}

// Insert stores a ballot. It returns false for a ballot already held.
func (f *FutureCache) Insert(r *Received) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.Ballot.Key()
	entry, ok := f.entries[key]
	if !ok {
		entry = &FutureEntry{
			Key:     key,
			ids:     mapset.NewThreadUnsafeSet(),
			senders: mapset.NewThreadUnsafeSet(),
		}
		f.entries[key] = entry
	}
	id := r.id()
	if entry.ids.Contains(id) {
		return false
	}
	entry.ids.Add(id)
	entry.Ballots = append(entry.Ballots, r)
	if r.From != "" {
		entry.senders.Add(r.From)
	}
	return true
}

// Drain removes and returns the entry of key, nil if there is none.
func (f *FutureCache) Drain(key model.ConsensusKey) *FutureEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok {
		return nil
	}
	delete(f.entries, key)
	return entry
}

// PruneBehind drops every entry strictly behind key and returns how many were dropped.
func (f *FutureCache) PruneBehind(key model.ConsensusKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	pruned := 0
	for k := range f.entries {
		if k.IsBefore(key) {
			delete(f.entries, k)
			pruned++
		}
	}
	return pruned
}

func (f *FutureCache) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Keys returns the cached slots in ascending order.
func (f *FutureCache) Keys() []model.ConsensusKey {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]model.ConsensusKey, 0, len(f.entries))
	for k := range f.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].IsBefore(keys[j]) })
	return keys
}

// Senders lists the peers that sent ballots for any cached slot.
func (f *FutureCache) Senders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := mapset.NewThreadUnsafeSet()
	for _, e := range f.entries {
		all = all.Union(e.senders)
	}
	var peers []string
	for _, v := range all.ToSlice() {
		peers = append(peers, v.(string))
	}
	sort.Strings(peers)
	return peers
}
