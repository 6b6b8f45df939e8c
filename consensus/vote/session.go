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
	"fmt"
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/round"
	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"
)

// Received is a ballot together with its recovered signer and the peer that delivered it.
// From is empty for ballots cast locally.
type Received struct {
	Ballot *VoteMessage
	Signer common.Address
	From   string
}

type ballotId struct {
	VoteRound uint8
	Stage     Stage
	Signer    common.Address
}

func (r *Received) id() ballotId {
	return ballotId{VoteRound: r.Ballot.VoteRound, Stage: r.Ballot.Stage, Signer: r.Signer}
}

// Position is where a session currently votes.
type Position struct {
	Height    uint64
	Key       model.ConsensusKey
	VoteRound uint8
}

func (p Position) String() string {
	return fmt.Sprintf("h%d %s vr%d", p.Height, p.Key, p.VoteRound)
}

type voteRoundData struct {
	voteRound uint8
	startedAt time.Time
	tallies   map[Stage]*Tally
	done      map[Stage]chan struct{}
	over      chan struct{}
}

func newVoteRoundData(s *Session, voteRound uint8, startedAt time.Time) *voteRoundData {
	d := &voteRoundData{
		voteRound: voteRound,
		startedAt: startedAt,
		tallies:   make(map[Stage]*Tally, 2),
		done:      make(map[Stage]chan struct{}, 2),
		over:      make(chan struct{}),
	}
	for _, stage := range []Stage{StageOne, StageTwo} {
		d.tallies[stage] = NewTally(s.Height, s.Key, voteRound, stage, s.Schedule.Thresholds)
		d.done[stage] = make(chan struct{})
	}
	return d
}

func closeOnce(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}

// Session is the vote in progress for one slot. It is not safe for
// concurrent use: the transition controller serializes every access.
type Session struct {
	Height   uint64
	Key      model.ConsensusKey
	Schedule *round.Schedule

	state     State
	voteRound uint8
	current   *voteRoundData
	results   map[uint8]map[Stage]*VoteResult

	buffered    map[uint8][]*Received
	bufferedIds mapset.Set

	candidate    Candidate
	hasCandidate bool
	candidateCh  chan struct{}

	final    *VoteResult
	finish   Finish
	replaced chan struct{}
}

func NewSession(height uint64, key model.ConsensusKey, schedule *round.Schedule, startedAt time.Time) *Session {
	s := &Session{
		Height:      height,
		Key:         key,
		Schedule:    schedule,
		state:       StateStageOne,
		results:     make(map[uint8]map[Stage]*VoteResult),
		buffered:    make(map[uint8][]*Received),
		bufferedIds: mapset.NewThreadUnsafeSet(),
		candidateCh: make(chan struct{}),
		replaced:    make(chan struct{}),
	}
	s.current = newVoteRoundData(s, 0, startedAt)
	return s
}

func (s *Session) Position() Position {
	return Position{Height: s.Height, Key: s.Key, VoteRound: s.voteRound}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) VoteRound() uint8 {
	return s.voteRound
}

// Stage is the stage this node is voting in. A finished session reports StageTwo.
func (s *Session) Stage() Stage {
	if s.state == StateStageOne {
		return StageOne
	}
	return StageTwo
}

func (s *Session) Finish() Finish {
	return s.finish
}

func (s *Session) Final() *VoteResult {
	return s.final
}

func (s *Session) StartedAt() time.Time {
	return s.current.startedAt
}

// Tally returns the tally of the current vote-round.
func (s *Session) Tally(stage Stage) *Tally {
	return s.current.tallies[stage]
}

// Result returns a decided result of this session, nil when unknown.
func (s *Session) Result(voteRound uint8, stage Stage) *VoteResult {
	if voteRound == FinalVoteRound {
		return s.final
	}
	return s.results[voteRound][stage]
}

func (s *Session) CandidateReady() <-chan struct{} {
	return s.candidateCh
}

// StageDone is closed once the stage of the current vote-round is decided.
func (s *Session) StageDone(stage Stage) <-chan struct{} {
	return s.current.done[stage]
}

// RoundOver is closed when the current vote-round is left for any reason.
func (s *Session) RoundOver() <-chan struct{} {
	return s.current.over
}

// Replaced is closed when another session took over.
func (s *Session) Replaced() <-chan struct{} {
	return s.replaced
}

func (s *Session) MarkReplaced() {
	closeOnce(s.current.over)
	closeOnce(s.replaced)
}

func (s *Session) Candidate() (Candidate, bool) {
	return s.candidate, s.hasCandidate
}

// SetCandidate records a block hash announced for this slot. A second,
// different hash turns the candidate into fork evidence, ordered so every
// node builds the same fork candidate.
func (s *Session) SetCandidate(hash common.Hash) (changed bool) {
	if hash.Empty() {
		return false
	}
	if !s.hasCandidate {
		s.candidate = Candidate{Hash: hash}
		s.hasCandidate = true
		closeOnce(s.candidateCh)
		return true
	}
	if s.candidate.IsFork() || s.candidate.Hash == hash {
		return false
	}
	first, second := s.candidate.Hash, hash
	if second.Cmp(first) < 0 {
		first, second = second, first
	}
	s.candidate = Candidate{Hash: first, ForkHash: second}
	logrus.WithField("pos", s.Position()).WithField("candidate", s.candidate).Warn("packer produced two candidates")
	return true
}

// AddBallot routes a ballot of this slot. Ballots of a later vote-round
// are buffered and replayed by AdvanceVoteRound.
func (s *Session) AddBallot(r *Received) (TallyOutcome, error) {
	b := r.Ballot
	if b.Key() != s.Key || b.Height != s.Height {
		return TallyOutcome{}, protocolError("%s does not belong to session h%d %s", b, s.Height, s.Key)
	}
	if s.state == StateFinished || b.VoteRound < s.voteRound {
		return TallyOutcome{}, fmt.Errorf("%w: %s at %s", ErrStaleVote, b, s.Position())
	}
	if b.VoteRound > s.voteRound {
		id := r.id()
		if s.bufferedIds.Contains(id) {
			return TallyOutcome{}, ErrDuplicateVote
		}
		s.bufferedIds.Add(id)
		s.buffered[b.VoteRound] = append(s.buffered[b.VoteRound], r)
		return TallyOutcome{Outcome: OutcomePending, Buffered: true}, nil
	}
	out, err := s.current.tallies[b.Stage].Record(b, r.Signer)
	if err != nil {
		return out, err
	}
	if out.Decided {
		s.decide(b.Stage, out.Result)
	}
	return out, nil
}

func (s *Session) decide(stage Stage, result *VoteResult) {
	if s.results[s.voteRound] == nil {
		s.results[s.voteRound] = make(map[Stage]*VoteResult, 2)
	}
	s.results[s.voteRound][stage] = result
	closeOnce(s.current.done[stage])

	if result.Outcome != OutcomeConfirmed {
		return
	}
	switch stage {
	case StageOne:
		if s.state == StateStageOne {
			s.state = StateStageTwo
		}
	case StageTwo:
		s.finishWith(result)
	}
}

func (s *Session) finishWith(result *VoteResult) {
	s.state = StateFinished
	s.final = result
	s.finish = result.Finish()
	closeOnce(s.current.done[StageOne])
	closeOnce(s.current.done[StageTwo])
	closeOnce(s.current.over)
}

// AcceptResult applies a verified result of the current vote-round as if it
// had been tallied locally. It returns false when the stage was already decided.
func (s *Session) AcceptResult(result *VoteResult) bool {
	if s.state == StateFinished || result.VoteRound() != s.voteRound {
		return false
	}
	if s.results[s.voteRound][result.Stage()] != nil {
		return false
	}
	s.decide(result.Stage(), result)
	return true
}

// FinishWith ends the session with a verified final result of any vote-round.
func (s *Session) FinishWith(result *VoteResult) bool {
	if s.state == StateFinished || !result.IsFinal() {
		return false
	}
	if s.results[result.VoteRound()] == nil {
		s.results[result.VoteRound()] = make(map[Stage]*VoteResult, 2)
	}
	s.results[result.VoteRound()][StageTwo] = result
	s.finishWith(result)
	return true
}

// AdvanceVoteRound moves to voteRound and returns the buffered ballots to
// replay into it, in arrival order. Older buffered ballots are dropped.
func (s *Session) AdvanceVoteRound(voteRound uint8, startedAt time.Time) []*Received {
	if s.state == StateFinished || voteRound <= s.voteRound || voteRound == FinalVoteRound {
		return nil
	}
	closeOnce(s.current.over)
	s.voteRound = voteRound
	s.state = StateStageOne
	s.current = newVoteRoundData(s, voteRound, startedAt)

	var replay []*Received
	for vr, ballots := range s.buffered {
		if vr > voteRound {
			continue
		}
		for _, r := range ballots {
			s.bufferedIds.Remove(r.id())
		}
		if vr == voteRound {
			replay = ballots
		}
		delete(s.buffered, vr)
	}
	return replay
}

// BufferedCount is the number of ballots kept for later vote-rounds.
func (s *Session) BufferedCount() int {
	n := 0
	for _, ballots := range s.buffered {
		n += len(ballots)
	}
	return n
}

func (s *Session) String() string {
	return fmt.Sprintf("session[%s %s %s]", s.Position(), s.state, s.finish)
}
