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
	"testing"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startController(t *testing.T, c *testCommittee, height uint64, key model.ConsensusKey) *Controller {
	ctl := c.controller()
	_, err := ctl.Start(height, key)
	require.NoError(t, err)
	return ctl
}

func TestControllerRoutesBallots(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	ctl := startController(t, c, 10, model.ConsensusKey{Round: 5, PackingIndex: 1})

	route, out, ds, err := ctl.RecordBallot(c.ballot(0, 10, model.ConsensusKey{Round: 5, PackingIndex: 1}, 0, vote.StageOne, hashOf("a")))
	require.NoError(t, err)
	assert.Equal(t, RouteCurrent, route)
	assert.Equal(t, vote.OutcomePending, out.Outcome)
	assert.Empty(t, ds)

	route, _, _, err = ctl.RecordBallot(c.ballot(0, 10, model.ConsensusKey{Round: 5, PackingIndex: 2}, 0, vote.StageOne, hashOf("b")))
	require.NoError(t, err)
	assert.Equal(t, RouteFuture, route)
	assert.Equal(t, 1, ctl.Future.Len())

	_, _, _, err = ctl.RecordBallot(c.ballot(0, 10, model.ConsensusKey{Round: 5, PackingIndex: 2}, 0, vote.StageOne, hashOf("b")))
	assert.True(t, errors.Is(err, vote.ErrDuplicateVote))

	_, _, _, err = ctl.RecordBallot(c.ballot(1, 9, model.ConsensusKey{Round: 5, PackingIndex: 0}, 0, vote.StageOne, hashOf("c")))
	assert.True(t, errors.Is(err, vote.ErrStaleVote))

	_, _, _, err = ctl.RecordBallot(c.ballot(1, 10, model.ConsensusKey{Round: 5, PackingIndex: 1}, 0, vote.StageOne, hashOf("a")))
	require.NoError(t, err)
	_, _, _, err = ctl.RecordBallot(c.ballot(1, 10, model.ConsensusKey{Round: 5, PackingIndex: 1}, 0, vote.StageOne, hashOf("a")))
	assert.True(t, errors.Is(err, vote.ErrDuplicateVote))
}

func TestControllerRejectsOutsiders(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 5, PackingIndex: 1}
	ctl := startController(t, c, 10, key)

	other := newTestCommittee(t, 1, 67)
	_, _, _, err := ctl.RecordBallot(other.ballot(0, 10, key, 0, vote.StageOne, hashOf("a")))
	assert.True(t, errors.Is(err, vote.ErrNotCommitteeMember))
}

func TestControllerConfirmsBlock(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 5, PackingIndex: 1}
	ctl := startController(t, c, 10, key)
	h := hashOf("block")
	assert.True(t, ctl.SetCandidate(10, key, h))

	var final []Decision
	for i := 0; i < 3; i++ {
		_, _, ds, err := ctl.RecordBallot(c.ballot(i, 10, key, 0, vote.StageOne, h))
		require.NoError(t, err)
		final = append(final, ds...)
	}
	require.Len(t, final, 1)
	assert.False(t, final[0].Final)
	view, ok, _ := ctl.View()
	require.True(t, ok)
	assert.Equal(t, vote.StateStageTwo, view.State)
	assert.NotNil(t, view.StageOneResult)

	final = nil
	for i := 0; i < 3; i++ {
		_, _, ds, err := ctl.RecordBallot(c.ballot(i, 10, key, 0, vote.StageTwo, h))
		require.NoError(t, err)
		final = append(final, ds...)
	}
	require.Len(t, final, 1)
	assert.True(t, final[0].Final)
	assert.Equal(t, vote.FinishBlockConfirmed, final[0].Result.Finish())

	_, _, _, err := ctl.RecordBallot(c.ballot(3, 10, key, 0, vote.StageTwo, h))
	assert.True(t, errors.Is(err, vote.ErrStaleVote))
}

func TestControllerAdvanceIdempotent(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 5, PackingIndex: 3}
	ctl := startController(t, c, 10, key)
	finished := vote.Position{Height: 10, Key: key}

	_, advanced, err := ctl.AdvanceToNextBlock(finished, 11)
	require.NoError(t, err)
	assert.True(t, advanced)
	pos, ok := ctl.Position()
	require.True(t, ok)
	// packing index 3 is the last of 4, the round rolls over
	assert.Equal(t, vote.Position{Height: 11, Key: model.ConsensusKey{Round: 6, PackingIndex: 0}}, pos)

	_, advanced, err = ctl.AdvanceToNextBlock(finished, 11)
	require.NoError(t, err)
	assert.False(t, advanced)
	_, advanced, err = ctl.AdvancePastEmpty(finished)
	require.NoError(t, err)
	assert.False(t, advanced)
	again, _ := ctl.Position()
	assert.Equal(t, pos, again)
}

func TestControllerAdvancePastEmptyKeepsHeight(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 5, PackingIndex: 1}
	ctl := startController(t, c, 10, key)
	view, _, changed := ctl.View()

	_, advanced, err := ctl.AdvancePastEmpty(vote.Position{Height: 10, Key: key})
	require.NoError(t, err)
	assert.True(t, advanced)
	pos, _ := ctl.Position()
	assert.Equal(t, vote.Position{Height: 10, Key: model.ConsensusKey{Round: 5, PackingIndex: 2}}, pos)

	select {
	case <-view.Replaced:
	default:
		assert.Fail(t, "old session not replaced")
	}
	select {
	case <-changed:
	default:
		assert.Fail(t, "change not signalled")
	}
}

func TestControllerMonotonic(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	ctl := startController(t, c, 1, model.ConsensusKey{})
	last, _ := ctl.Position()

	steps := []func(){
		func() { ctl.AdvancePastEmpty(vote.Position{Height: 1, Key: model.ConsensusKey{}}) },
		func() { ctl.AdvanceToNextBlock(vote.Position{Height: 1, Key: model.ConsensusKey{PackingIndex: 1}}, 2) },
		func() { ctl.AdvancePastEmpty(vote.Position{Height: 1, Key: model.ConsensusKey{}}) },
		func() { ctl.AdvanceToNextBlock(vote.Position{Height: 5, Key: model.ConsensusKey{Round: 3, PackingIndex: 3}}, 6) },
		func() { ctl.AdvanceToNextBlock(vote.Position{Height: 2, Key: model.ConsensusKey{Round: 1}}, 3) },
		func() {
			pos, _ := ctl.Position()
			ctl.AdvanceVoteRound(pos)
		},
		func() { ctl.AdvancePastEmpty(vote.Position{Height: 6, Key: model.ConsensusKey{Round: 4}}) },
	}
	for i, step := range steps {
		step()
		pos, _ := ctl.Position()
		assert.False(t, pos.Key.IsBefore(last.Key), "step %d moved back from %s to %s", i, last, pos)
		if pos.Key != last.Key {
			assert.Equal(t, uint8(0), pos.VoteRound, "step %d", i)
		} else {
			assert.True(t, pos.VoteRound >= last.VoteRound, "step %d", i)
		}
		last = pos
	}
	assert.Equal(t, model.ConsensusKey{Round: 4, PackingIndex: 1}, last.Key)
}

func TestControllerReplaysFutureBallots(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	current := model.ConsensusKey{Round: 5, PackingIndex: 1}
	next := model.ConsensusKey{Round: 5, PackingIndex: 2}
	ctl := startController(t, c, 10, current)

	for i := 0; i < 2; i++ {
		route, _, _, err := ctl.RecordBallot(c.ballot(i, 10, next, 0, vote.StageOne, common.EmptyHash))
		require.NoError(t, err)
		assert.Equal(t, RouteFuture, route)
	}
	// a ballot of the next slot for another height is not replayed
	_, _, _, err := ctl.RecordBallot(c.ballot(3, 11, next, 0, vote.StageOne, common.EmptyHash))
	require.NoError(t, err)
	_, _, _, err = ctl.RecordBallot(c.ballot(0, 10, current, 0, vote.StageOne, common.EmptyHash))
	require.NoError(t, err)

	_, advanced, err := ctl.AdvancePastEmpty(vote.Position{Height: 10, Key: current})
	require.NoError(t, err)
	require.True(t, advanced)
	assert.Equal(t, 0, ctl.Future.Len())

	// the third ballot completes the tally exactly as if all arrived after the advance
	_, out, ds, err := ctl.RecordBallot(c.ballot(2, 10, next, 0, vote.StageOne, common.EmptyHash))
	require.NoError(t, err)
	assert.Equal(t, vote.OutcomeConfirmed, out.Outcome)
	require.Len(t, ds, 1)
	item := ds[0].Result.Items[0]
	assert.Len(t, item.Signatures, 3)
}

func TestControllerSplitAdvancesVoteRound(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 5, PackingIndex: 1}
	ctl := startController(t, c, 10, key)
	view, _, _ := ctl.View()

	var ds []Decision
	for i, h := range []string{"a", "b", "a", "b"} {
		_, _, d, err := ctl.RecordBallot(c.ballot(i, 10, key, 0, vote.StageOne, hashOf(h)))
		require.NoError(t, err)
		ds = append(ds, d...)
	}
	require.Len(t, ds, 1)
	assert.Equal(t, vote.OutcomeSplit, ds[0].Result.Outcome)

	pos, _ := ctl.Position()
	assert.Equal(t, uint8(1), pos.VoteRound)
	assert.Equal(t, key, pos.Key)
	select {
	case <-view.RoundOver:
	default:
		assert.Fail(t, "vote-round not over")
	}

	// a stale retry is a no-op
	_, ok := ctl.AdvanceVoteRound(vote.Position{Height: 10, Key: key, VoteRound: 0})
	assert.False(t, ok)
	_, ok = ctl.AdvanceVoteRound(pos)
	assert.True(t, ok)
	pos, _ = ctl.Position()
	assert.Equal(t, uint8(2), pos.VoteRound)
}

func TestControllerApplyResult(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 5, PackingIndex: 1}
	ctl := startController(t, c, 10, key)

	// a split of a later vote-round moves the session past it
	split := c.splitResult(t, 10, key, 2, vote.StageOne)
	_, ds, err := ctl.ApplyResult(split)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	pos, _ := ctl.Position()
	assert.Equal(t, uint8(3), pos.VoteRound)

	// older split is stale
	_, _, err = ctl.ApplyResult(split)
	assert.True(t, errors.Is(err, vote.ErrStaleVote))

	// a final result of vote-round 1 ends the session
	final := c.result(t, []int{0, 1, 2}, 10, key, 1, vote.StageTwo, hashOf("x"))
	route, ds, err := ctl.ApplyResult(final)
	require.NoError(t, err)
	assert.Equal(t, RouteCurrent, route)
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Final)
	view, _, _ := ctl.View()
	assert.Equal(t, vote.StateFinished, view.State)

	// a final result of a later slot is reported, not applied
	later := c.result(t, []int{0, 1, 2}, 11, model.ConsensusKey{Round: 6}, 0, vote.StageTwo, hashOf("y"))
	route, ds, err = ctl.ApplyResult(later)
	require.NoError(t, err)
	assert.Equal(t, RouteFuture, route)
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Final)
	assert.True(t, ds[0].Future)
	pos, _ = ctl.Position()
	assert.Equal(t, key, pos.Key)
}

func TestControllerRetrySchedule(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	c.provider.failing[7] = true
	ctl := c.controller()

	_, err := ctl.Start(3, model.ConsensusKey{Round: 7})
	assert.Error(t, err)
	pos, ok := ctl.Position()
	assert.False(t, ok)
	assert.Equal(t, model.ConsensusKey{Round: 7}, pos.Key)
	_, ok, _ = ctl.View()
	assert.False(t, ok)

	_, _, _, err = ctl.RecordBallot(c.ballot(0, 3, model.ConsensusKey{Round: 6}, 0, vote.StageOne, hashOf("a")))
	assert.True(t, errors.Is(err, vote.ErrStaleVote))

	_, err = ctl.RetrySchedule()
	require.NoError(t, err)
	pos, ok = ctl.Position()
	assert.True(t, ok)
	assert.Equal(t, vote.Position{Height: 3, Key: model.ConsensusKey{Round: 8}}, pos)
}

func TestControllerPendingCandidate(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	current := model.ConsensusKey{Round: 5, PackingIndex: 1}
	next := model.ConsensusKey{Round: 5, PackingIndex: 2}
	ctl := startController(t, c, 10, current)

	assert.False(t, ctl.SetCandidate(9, model.ConsensusKey{Round: 4}, hashOf("old")))
	assert.True(t, ctl.SetCandidate(10, next, hashOf("n")))
	assert.False(t, ctl.SetCandidate(10, next, hashOf("n")))

	_, _, err := ctl.AdvancePastEmpty(vote.Position{Height: 10, Key: current})
	require.NoError(t, err)
	view, ok, _ := ctl.View()
	require.True(t, ok)
	assert.True(t, view.HasCandidate)
	assert.Equal(t, hashOf("n"), view.Candidate.Hash)
	select {
	case <-view.CandidateReady:
	default:
		assert.Fail(t, "candidate not signalled")
	}
}
