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
	"testing"

	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/annchain/ogbft/ogdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStoreLookup(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 3, PackingIndex: 2}
	db := ogdb.NewMemDatabase()
	store, err := NewResultStore(db, 2)
	require.NoError(t, err)

	_, ok := store.Lookup(key, 0)
	assert.False(t, ok)

	split := c.splitResult(t, 4, key, 0, vote.StageOne)
	require.NoError(t, store.Put(split))
	final := c.result(t, []int{0, 1, 2}, 4, key, 1, vote.StageTwo, hashOf("a"))
	require.NoError(t, store.Put(final))

	got, ok := store.Get(key, 0)
	require.True(t, ok)
	assert.Equal(t, vote.OutcomeSplit, got.Outcome)

	got, ok = store.Lookup(key, 1)
	require.True(t, ok)
	assert.True(t, got.IsFinal())

	// unknown vote-round falls back to the final result
	got, ok = store.Lookup(key, 7)
	require.True(t, ok)
	assert.Equal(t, uint8(1), got.VoteRound())

	_, ok = store.Get(key, 7)
	assert.False(t, ok)
}

func TestResultStoreStageTwoReplacesStageOne(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 3}
	store, err := NewResultStore(ogdb.NewMemDatabase(), 4)
	require.NoError(t, err)

	one := c.result(t, []int{0, 1, 2}, 4, key, 0, vote.StageOne, hashOf("a"))
	two := c.result(t, []int{0, 1, 2}, 4, key, 0, vote.StageTwo, hashOf("a"))
	require.NoError(t, store.Put(one))
	require.NoError(t, store.Put(two))
	require.NoError(t, store.Put(one))

	got, ok := store.Get(key, 0)
	require.True(t, ok)
	assert.Equal(t, vote.StageTwo, got.Stage())
}

func TestResultStorePersists(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	db := ogdb.NewMemDatabase()
	store, err := NewResultStore(db, 1)
	require.NoError(t, err)

	var keys []model.ConsensusKey
	for i := uint32(0); i < 3; i++ {
		key := model.ConsensusKey{Round: 1, PackingIndex: i}
		keys = append(keys, key)
		require.NoError(t, store.Put(c.result(t, []int{1, 2, 3}, 2, key, 0, vote.StageTwo, hashOf("b"))))
	}
	pos := vote.Position{Height: 2, Key: keys[2]}
	require.NoError(t, store.SetLastFinished(pos))

	reopened, err := NewResultStore(db, 1)
	require.NoError(t, err)
	for _, key := range keys {
		got, ok := reopened.Lookup(key, vote.FinalVoteRound)
		require.True(t, ok)
		assert.Equal(t, key, got.Key())
		assert.Len(t, got.Items[0].Signatures, 3)
	}
	last, ok, err := reopened.LastFinished()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pos, last)

	_, ok, err = (&ResultStore{db: ogdb.NewMemDatabase()}).LastFinished()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestResultStoreMissesDoNotEvict(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 3, PackingIndex: 1}
	store, err := NewResultStore(ogdb.NewMemDatabase(), 1)
	require.NoError(t, err)

	require.NoError(t, store.Put(c.result(t, []int{0, 1, 2}, 4, key, 0, vote.StageTwo, hashOf("a"))))
	for i := 0; i < 8; i++ {
		_, ok := store.Lookup(model.ConsensusKey{Round: uint64(100 + i)}, 0)
		assert.False(t, ok)
	}
	assert.True(t, store.cache.Contains(slotKey(key)))
}
