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
package pocbft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/annchain/ogbft/ogdb"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"github.com/tinylib/msgp/msgp"
)

var lastFinishedKey = []byte("last_finished")

// slotResults are the results of one slot by vote-round.
type slotResults map[uint8]*vote.VoteResult

// ResultStore keeps decided results so peers that fell behind can ask for
// them. Recent slots stay in memory, everything is written to the database.
type ResultStore struct {
	db    ogdb.Database
	cache *lru.Cache
	mu    sync.Mutex
}

func NewResultStore(db ogdb.Database, cacheSize int) (*ResultStore, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &ResultStore{
		db:    db,
		cache: cache,
	}, nil
}

func slotKey(key model.ConsensusKey) string {
	return fmt.Sprintf("%d_%d", key.Round, key.PackingIndex)
}

func dbKey(key model.ConsensusKey, voteRound uint8) []byte {
	return []byte(fmt.Sprintf("vr_%d_%d_%d", key.Round, key.PackingIndex, voteRound))
}

// Put stores result under its vote-round, where a stage two result
// replaces the stage one result. A final result is also stored under
// FinalVoteRound.
func (s *ResultStore) Put(result *vote.VoteResult) error {
	rounds := []uint8{result.VoteRound()}
	if result.IsFinal() {
		rounds = append(rounds, vote.FinalVoteRound)
	}
	bytes, err := result.MarshalMsg(nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := result.Key()
	slot := s.slot(key)
	for _, vr := range rounds {
		if old, ok := slot[vr]; ok && old.Stage() >= result.Stage() {
			continue
		}
		slot[vr] = result
		err = s.db.Put(dbKey(key, vr), bytes)
		if err != nil {
			return err
		}
	}
	return nil
}

// slot returns the cached results of key, adding an empty entry if needed.
// Only callers holding a result may add one, so misses never evict.
func (s *ResultStore) slot(key model.ConsensusKey) slotResults {
	if slot, ok := s.cachedSlot(key); ok {
		return slot
	}
	slot := make(slotResults)
	s.cache.Add(slotKey(key), slot)
	return slot
}

func (s *ResultStore) cachedSlot(key model.ConsensusKey) (slotResults, bool) {
	if v, ok := s.cache.Get(slotKey(key)); ok {
		return v.(slotResults), true
	}
	return nil, false
}

// Get returns the result of exactly voteRound.
func (s *ResultStore) Get(key model.ConsensusKey, voteRound uint8) (*vote.VoteResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.cachedSlot(key); ok {
		if r, ok := slot[voteRound]; ok {
			return r, true
		}
	}
	bytes, err := s.db.Get(dbKey(key, voteRound))
	if err != nil {
		if !errors.Is(err, ogdb.ErrNotFound) {
			logrus.WithError(err).WithField("key", key).Warn("failed to read vote result")
		}
		return nil, false
	}
	r := &vote.VoteResult{}
	_, err = r.UnmarshalMsg(bytes)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("stored vote result is corrupted")
		return nil, false
	}
	s.slot(key)[voteRound] = r
	return r, true
}

// Lookup answers a peer request: the exact vote-round, else the final result of the slot.
func (s *ResultStore) Lookup(key model.ConsensusKey, voteRound uint8) (*vote.VoteResult, bool) {
	if r, ok := s.Get(key, voteRound); ok {
		return r, true
	}
	return s.Get(key, vote.FinalVoteRound)
}

// SetLastFinished records the last slot this node is done with.
func (s *ResultStore) SetLastFinished(pos vote.Position) error {
	o := msgp.AppendArrayHeader(nil, 4)
	o = msgp.AppendUint64(o, pos.Height)
	o = msgp.AppendUint64(o, pos.Key.Round)
	o = msgp.AppendUint32(o, pos.Key.PackingIndex)
	o = msgp.AppendUint8(o, pos.VoteRound)
	return s.db.Put(lastFinishedKey, o)
}

func (s *ResultStore) LastFinished() (pos vote.Position, ok bool, err error) {
	bts, err := s.db.Get(lastFinishedKey)
	if errors.Is(err, ogdb.ErrNotFound) {
		return pos, false, nil
	}
	if err != nil {
		return
	}
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if sz != 4 {
		err = msgp.ArrayError{Wanted: 4, Got: sz}
		return
	}
	if pos.Height, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		return
	}
	if pos.Key.Round, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		return
	}
	if pos.Key.PackingIndex, bts, err = msgp.ReadUint32Bytes(bts); err != nil {
		return
	}
	if pos.VoteRound, _, err = msgp.ReadUint8Bytes(bts); err != nil {
		return
	}
	return pos, true, nil
}
