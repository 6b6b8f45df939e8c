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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/annchain/ogbft/ogdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAssembler keeps every confirmed event and never persists.
type recordingAssembler struct {
	mu     sync.Mutex
	height uint64
	events []model.ConfirmedEvent
}

func (a *recordingAssembler) CurrentHeight() uint64 {
	return a.height
}

func (a *recordingAssembler) ProduceCandidate(ctx context.Context, height uint64, key model.ConsensusKey) (common.Hash, error) {
	return hashOf("candidate"), nil
}

func (a *recordingAssembler) ByzantineConfirmed(event model.ConfirmedEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAssembler) confirmed() []model.ConfirmedEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.ConfirmedEvent(nil), a.events...)
}

// newIdleEngine builds an engine voting at height 10, slot 5_1, without starting its loops.
func newIdleEngine(t *testing.T, c *testCommittee) (*Engine, *recordingAssembler) {
	assembler := &recordingAssembler{height: 9}
	e := &Engine{
		Config:    testConfig(),
		Signer:    testSigner,
		Account:   c.accounts[0],
		Committee: c.provider,
		Assembler: assembler,
		Database:  ogdb.NewMemDatabase(),
	}
	e.InitDefault()
	_, err := e.controller.Start(10, model.ConsensusKey{Round: 5, PackingIndex: 1})
	require.NoError(t, err)
	return e, assembler
}

func (c *testCommittee) forkResult(t *testing.T, height uint64, key model.ConsensusKey, first common.Hash, second common.Hash) *vote.VoteResult {
	tally := vote.NewTally(height, key, 0, vote.StageTwo, c.schedule(t, key.Round).Thresholds)
	for i := 0; i < 3; i++ {
		b := &vote.VoteMessage{
			Height:       height,
			Round:        key.Round,
			PackingIndex: key.PackingIndex,
			Stage:        vote.StageTwo,
			BlockHash:    first,
			ForkHash:     second,
		}
		b.Sign(testSigner, c.accounts[i])
		_, err := tally.Record(b, c.accounts[i].Address)
		require.NoError(t, err)
	}
	require.NotNil(t, tally.Result())
	return tally.Result()
}

func TestEngineReportsNextFutureBlock(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	e, assembler := newIdleEngine(t, c)
	later := model.ConsensusKey{Round: 6, PackingIndex: 2}

	// already persisted and gapped heights are not handed over
	for _, height := range []uint64{9, 12} {
		r := c.result(t, []int{0, 1, 2}, height, later, 0, vote.StageTwo, hashOf("skip"))
		e.handleDecisions([]Decision{{Result: r, Final: true, Future: true}})
	}
	assert.Empty(t, assembler.confirmed())

	r := c.result(t, []int{0, 1, 2}, 10, later, 0, vote.StageTwo, hashOf("next"))
	e.handleDecisions([]Decision{{Result: r, Final: true, Future: true}})
	events := assembler.confirmed()
	require.Len(t, events, 1)
	assert.Equal(t, uint64(10), events[0].Height)
	assert.Equal(t, later, events[0].Key)
	assert.Equal(t, hashOf("next"), events[0].Hash)
	assert.True(t, events[0].FromFuture)
	assert.False(t, events[0].Forked)
	assert.Equal(t, uint64(0), e.Stats().SessionsFinished)

	_, ok := e.store.Get(later, 0)
	assert.True(t, ok)
}

func TestEngineReportsForkedBlock(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	e, assembler := newIdleEngine(t, c)
	key := model.ConsensusKey{Round: 5, PackingIndex: 1}

	r := c.forkResult(t, 10, key, hashOf("first"), hashOf("second"))
	require.Equal(t, vote.FinishForked, r.Finish())
	e.handleDecisions([]Decision{{Result: r, Final: true}})

	events := assembler.confirmed()
	require.Len(t, events, 1)
	assert.True(t, events[0].Forked)
	assert.Equal(t, hashOf("first"), events[0].ForkFirst)
	assert.Equal(t, hashOf("second"), events[0].ForkSecond)
	assert.False(t, events[0].FromFuture)
	assert.Equal(t, uint64(1), e.Stats().SessionsFinished)
}

func TestEngineEmptyFutureResult(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	e, assembler := newIdleEngine(t, c)
	start, _ := e.controller.Position()

	// an empty slot of another height leaves the session alone
	other := c.result(t, []int{0, 1, 2}, 11, model.ConsensusKey{Round: 6}, 0, vote.StageTwo, common.Hash{})
	require.Equal(t, vote.FinishEmptyConfirmed, other.Finish())
	e.handleDecisions([]Decision{{Result: other, Final: true, Future: true}})
	pos, _ := e.controller.Position()
	assert.Equal(t, start, pos)
	_, ok, err := e.store.LastFinished()
	require.NoError(t, err)
	assert.False(t, ok)

	// an empty slot of our height moves the session past it
	key := model.ConsensusKey{Round: 5, PackingIndex: 3}
	same := c.result(t, []int{0, 1, 2}, 10, key, 0, vote.StageTwo, common.Hash{})
	e.handleDecisions([]Decision{{Result: same, Final: true, Future: true}})
	pos, _ = e.controller.Position()
	assert.Equal(t, uint64(10), pos.Height)
	assert.Equal(t, model.ConsensusKey{Round: 6, PackingIndex: 0}, pos.Key)
	last, ok, err := e.store.LastFinished()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key, last.Key)

	assert.Empty(t, assembler.confirmed())
	assert.Equal(t, uint64(0), e.Stats().SessionsFinished)
}

func TestStageOneDeadlineFollowsSlotEnd(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	e, _ := newIdleEngine(t, c)
	e.Config.PackingInterval = time.Second
	e.Config.StageOneWait = 100 * time.Millisecond
	schedule := c.schedule(t, 5)
	require.Equal(t, time.Unix(0, 0), schedule.StartTime)

	// installed early in the round, the packer of slot 2 keeps its slot
	early := View{
		Position:  vote.Position{Height: 10, Key: model.ConsensusKey{Round: 5, PackingIndex: 2}},
		Schedule:  schedule,
		StartedAt: time.Unix(0, 0).Add(500 * time.Millisecond),
	}
	assert.Equal(t, time.Unix(3, 0).Add(100*time.Millisecond), e.stageOneDeadline(early))

	// installed late, a full packing interval from the session start
	late := early
	late.StartedAt = time.Unix(10, 0)
	assert.Equal(t, time.Unix(11, 0).Add(100*time.Millisecond), e.stageOneDeadline(late))

	// retries do not wait for a packer
	retry := early
	retry.Position.VoteRound = 1
	assert.Equal(t, time.Unix(0, 0).Add(600*time.Millisecond), e.stageOneDeadline(retry))
}
