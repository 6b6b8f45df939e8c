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
	"fmt"
	"sync"
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/round"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/sirupsen/logrus"
)

// Route tells where a ballot or result went.
type Route int

const (
	RouteCurrent Route = iota
	RouteFuture
)

func (r Route) String() string {
	switch r {
	case RouteCurrent:
		return "current"
	case RouteFuture:
		return "future"
	default:
		return fmt.Sprintf("Route(%d)", int(r))
	}
}

// Decision is a result reached or accepted by the controller. The engine
// stores it and acts on final ones outside the session lock.
type Decision struct {
	Result *vote.VoteResult
	// Final is set when the result ends its session.
	Final bool
	// Future is set for a verified result of a slot ahead of the current one.
	Future bool
}

// View is a consistent snapshot of the current session.
type View struct {
	Position     vote.Position
	State        vote.State
	Finish       vote.Finish
	Schedule     *round.Schedule
	Candidate    vote.Candidate
	HasCandidate bool
	StartedAt    time.Time
	// results of the current vote-round, nil while undecided
	StageOneResult *vote.VoteResult
	StageTwoResult *vote.VoteResult

	CandidateReady <-chan struct{}
	StageOneDone   <-chan struct{}
	StageTwoDone   <-chan struct{}
	RoundOver      <-chan struct{}
	Replaced       <-chan struct{}
}

type pendingCandidate struct {
	height uint64
	hashes []common.Hash
}

// Controller owns the current session. Every transition and every ballot
// applied to the session goes through it under one lock.
type Controller struct {
	Rounds *round.Manager
	Future *vote.FutureCache
	Now    func() time.Time

	mu      sync.Mutex
	current *vote.Session
	// target is where the controller wants to be. It differs from the
	// current session's position only while no schedule could be computed.
	target     vote.Position
	changed    chan struct{}
	candidates map[model.ConsensusKey]*pendingCandidate
}

func NewController(rounds *round.Manager, future *vote.FutureCache) *Controller {
	return &Controller{
		Rounds:     rounds,
		Future:     future,
		Now:        time.Now,
		changed:    make(chan struct{}),
		candidates: make(map[model.ConsensusKey]*pendingCandidate),
	}
}

// Start installs the first session at key.
func (c *Controller) Start(height uint64, key model.ConsensusKey) ([]Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.install(height, key)
}

// Resume installs the session following last, at height.
func (c *Controller) Resume(last vote.Position, height uint64) ([]Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.install(height, c.nextKey(last.Key))
}

// Position is the current session's position, or the target position while
// no session could be built.
func (c *Controller) Position() (pos vote.Position, hasSession bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return c.target, false
	}
	return c.current.Position(), true
}

// View snapshots the current session. changed is closed on the next install.
func (c *Controller) View() (view View, ok bool, changed <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed = c.changed
	s := c.current
	if s == nil {
		return
	}
	candidate, has := s.Candidate()
	view = View{
		Position:       s.Position(),
		State:          s.State(),
		Finish:         s.Finish(),
		Schedule:       s.Schedule,
		Candidate:      candidate,
		HasCandidate:   has,
		StartedAt:      s.StartedAt(),
		StageOneResult: s.Result(s.VoteRound(), vote.StageOne),
		StageTwoResult: s.Result(s.VoteRound(), vote.StageTwo),
		CandidateReady: s.CandidateReady(),
		StageOneDone:   s.StageDone(vote.StageOne),
		StageTwoDone:   s.StageDone(vote.StageTwo),
		RoundOver:      s.RoundOver(),
		Replaced:       s.Replaced(),
	}
	return view, true, changed
}

// Describe renders the current session for debugging.
func (c *Controller) Describe() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return fmt.Sprintf("no session, target %s", c.target)
	}
	return fmt.Sprintf("%s buffered:%d", c.current, c.current.BufferedCount())
}

func (c *Controller) nextKey(key model.ConsensusKey) model.ConsensusKey {
	schedule, err := c.Rounds.GetRound(key.Round, c.Now())
	if err != nil {
		return model.ConsensusKey{Round: key.Round + 1}
	}
	next, _ := key.Next(schedule.Size())
	return next
}

func (c *Controller) notifyChanged() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// install replaces the current session. Cached future ballots of the new
// slot are replayed, everything cached behind it is dropped.
func (c *Controller) install(height uint64, key model.ConsensusKey) (ds []Decision, err error) {
	old := c.current
	if old != nil {
		old.MarkReplaced()
	}
	c.current = nil
	c.target = vote.Position{Height: height, Key: key}

	pruned := c.Future.PruneBehind(key)
	for k := range c.candidates {
		if k.IsBefore(key) {
			delete(c.candidates, k)
		}
	}
	defer c.notifyChanged()

	schedule, err := c.Rounds.GetRound(key.Round, c.Now())
	if err != nil {
		logrus.WithError(err).WithField("pos", c.target).Warn("no schedule, session not started")
		return nil, err
	}
	if int(key.PackingIndex) >= schedule.Size() {
		return nil, fmt.Errorf("%w: packing index %d beyond committee of %d", vote.ErrProtocol, key.PackingIndex, schedule.Size())
	}

	s := vote.NewSession(height, key, schedule, c.Now())
	c.current = s
	if p, ok := c.candidates[key]; ok {
		if p.height == height {
			for _, h := range p.hashes {
				s.SetCandidate(h)
			}
		}
		delete(c.candidates, key)
	}

	replayed := 0
	if entry := c.Future.Drain(key); entry != nil {
		for _, r := range entry.Ballots {
			if r.Ballot.Height != height || !schedule.IsMember(r.Signer) {
				continue
			}
			if _, err := c.record(r, &ds); err == nil {
				replayed++
			}
		}
	}
	logrus.WithField("pos", s.Position()).
		WithField("replayed", replayed).
		WithField("pruned", pruned).
		Info("session started")
	return ds, nil
}

// record applies a ballot of the current slot. Caller holds the lock.
func (c *Controller) record(r *vote.Received, ds *[]Decision) (vote.TallyOutcome, error) {
	s := c.current
	out, err := s.AddBallot(r)
	if err != nil || !out.Decided {
		return out, err
	}
	c.decided(out.Result, ds)
	return out, nil
}

func (c *Controller) decided(result *vote.VoteResult, ds *[]Decision) {
	s := c.current
	*ds = append(*ds, Decision{Result: result, Final: s.State() == vote.StateFinished})
	if result.Outcome == vote.OutcomeSplit {
		c.advanceVoteRound(result.VoteRound()+1, ds)
	}
}

// advanceVoteRound moves the current session in place. Caller holds the lock.
func (c *Controller) advanceVoteRound(voteRound uint8, ds *[]Decision) bool {
	s := c.current
	if s.State() == vote.StateFinished || voteRound <= s.VoteRound() {
		return false
	}
	if voteRound == vote.FinalVoteRound {
		logrus.WithField("pos", s.Position()).Error("vote-rounds exhausted")
		return false
	}
	replay := s.AdvanceVoteRound(voteRound, c.Now())
	logrus.WithField("pos", s.Position()).WithField("replay", len(replay)).Info("vote-round advanced")
	for _, r := range replay {
		if s.VoteRound() != voteRound {
			break
		}
		_, _ = c.record(r, ds)
	}
	return true
}

// RecordBallot routes a ballot whose signature was verified. Ballots of the
// current slot are tallied, ballots ahead go to the future cache.
func (c *Controller) RecordBallot(r *vote.Received) (route Route, out vote.TallyOutcome, ds []Decision, err error) {
	key := r.Ballot.Key()

	pos, _ := c.Position()
	if key.IsAfter(pos.Key) {
		if !c.Future.Insert(r) {
			return RouteFuture, out, nil, vote.ErrDuplicateVote
		}
		// the controller may have reached key meanwhile
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current != nil && c.current.Key == key {
			if entry := c.Future.Drain(key); entry != nil {
				for _, fr := range entry.Ballots {
					if fr.Ballot.Height == c.current.Height && c.current.Schedule.IsMember(fr.Signer) {
						_, _ = c.record(fr, &ds)
					}
				}
			}
			return RouteCurrent, out, ds, nil
		}
		return RouteFuture, out, nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current
	if s == nil {
		if key.IsBefore(c.target.Key) {
			return RouteCurrent, out, nil, fmt.Errorf("%w: %s behind %s", vote.ErrStaleVote, r.Ballot, c.target)
		}
		// slot without schedule
		return RouteCurrent, out, nil, fmt.Errorf("%w: no session at %s", vote.ErrStaleVote, c.target)
	}
	if key.IsBefore(s.Key) || (key == s.Key && r.Ballot.Height < s.Height) {
		return RouteCurrent, out, nil, fmt.Errorf("%w: %s behind %s", vote.ErrStaleVote, r.Ballot, s.Position())
	}
	if key.IsAfter(s.Key) {
		// a transition happened after the snapshot above
		if !c.Future.Insert(r) {
			return RouteFuture, out, nil, vote.ErrDuplicateVote
		}
		return RouteFuture, out, nil, nil
	}
	if !s.Schedule.IsMember(r.Signer) {
		return RouteCurrent, out, nil, fmt.Errorf("%w: %s", vote.ErrNotCommitteeMember, r.Signer.ShortString())
	}
	out, err = c.record(r, &ds)
	return RouteCurrent, out, ds, err
}

// SetCandidate records a block hash announced for (height, key). Hashes for
// a slot not reached yet are kept until it is installed.
func (c *Controller) SetCandidate(height uint64, key model.ConsensusKey, hash common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.Key == key {
		if c.current.Height != height || c.current.State() == vote.StateFinished {
			return false
		}
		return c.current.SetCandidate(hash)
	}
	pos := c.target
	if c.current != nil {
		pos = c.current.Position()
	}
	if !key.IsAfter(pos.Key) {
		return false
	}
	p, ok := c.candidates[key]
	if !ok {
		p = &pendingCandidate{height: height}
		c.candidates[key] = p
	}
	for _, h := range p.hashes {
		if h == hash {
			return false
		}
	}
	if len(p.hashes) < 2 {
		p.hashes = append(p.hashes, hash)
	}
	return true
}

// ApplyResult applies a verified result. Results of the current slot act
// as if tallied locally. A final result of a later slot is reported as a
// future decision.
func (c *Controller) ApplyResult(result *vote.VoteResult) (route Route, ds []Decision, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := result.Key()
	pos := c.target
	s := c.current
	if s != nil {
		pos = s.Position()
	}
	switch {
	case key.IsBefore(pos.Key):
		return RouteCurrent, nil, fmt.Errorf("%w: %s behind %s", vote.ErrStaleVote, result, pos)
	case key.IsAfter(pos.Key):
		return RouteFuture, []Decision{{Result: result, Final: result.IsFinal(), Future: true}}, nil
	case s == nil:
		return RouteCurrent, nil, fmt.Errorf("%w: no session at %s", vote.ErrStaleVote, pos)
	case result.Height() < s.Height:
		return RouteCurrent, nil, fmt.Errorf("%w: %s behind %s", vote.ErrStaleVote, result, pos)
	case result.Height() > s.Height:
		return RouteCurrent, nil, fmt.Errorf("%w: %s ahead of local height %d", vote.ErrProtocol, result, s.Height)
	}

	if s.State() == vote.StateFinished {
		return RouteCurrent, nil, fmt.Errorf("%w: %s already finished", vote.ErrStaleVote, s)
	}
	vr := result.VoteRound()
	switch {
	case result.IsFinal() && vr != s.VoteRound():
		s.FinishWith(result)
		ds = append(ds, Decision{Result: result, Final: true})
		return RouteCurrent, ds, nil
	case vr < s.VoteRound():
		return RouteCurrent, nil, fmt.Errorf("%w: %s at %s", vote.ErrStaleVote, result, pos)
	case vr > s.VoteRound():
		c.advanceVoteRound(vr, &ds)
		if s.VoteRound() != vr || s.State() == vote.StateFinished {
			// replayed ballots already moved the session on
			return RouteCurrent, ds, nil
		}
	}
	if !s.AcceptResult(result) {
		return RouteCurrent, ds, fmt.Errorf("%w: %s", vote.ErrAlreadyDecided, result)
	}
	c.decided(result, &ds)
	return RouteCurrent, ds, nil
}

// AdvanceToNextBlock moves to the slot after finished at nextHeight, once
// the block confirmed at finished is persisted.
func (c *Controller) AdvanceToNextBlock(finished vote.Position, nextHeight uint64) ([]Decision, bool, error) {
	return c.advance(finished, nextHeight)
}

// AdvancePastEmpty moves to the slot after finished, keeping its height.
func (c *Controller) AdvancePastEmpty(finished vote.Position) ([]Decision, bool, error) {
	return c.advance(finished, finished.Height)
}

func (c *Controller) advance(finished vote.Position, height uint64) ([]Decision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.nextKey(finished.Key)
	pos := c.target
	if c.current != nil {
		pos = c.current.Position()
	}
	if !next.IsAfter(pos.Key) {
		logrus.WithField("finished", finished).WithField("current", pos).Debug("transition ignored, not ahead")
		return nil, false, nil
	}
	ds, err := c.install(height, next)
	return ds, true, err
}

// AdvanceVoteRound retries pos in a new vote-round. It is a no-op unless
// pos is still where the current session votes.
func (c *Controller) AdvanceVoteRound(pos vote.Position) ([]Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Position() != pos {
		return nil, false
	}
	var ds []Decision
	ok := c.advanceVoteRound(pos.VoteRound+1, &ds)
	return ds, ok
}

// RetrySchedule tries to start a session when the last install failed.
// The failed round is skipped.
func (c *Controller) RetrySchedule() ([]Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return nil, nil
	}
	return c.install(c.target.Height, model.ConsensusKey{Round: c.target.Key.Round + 1})
}
