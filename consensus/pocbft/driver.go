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
	"time"

	"github.com/annchain/ogbft/consensus/vote"
	"github.com/sirupsen/logrus"
)

// loopDriver paces this node's own voting: pack when due, vote stage one,
// vote stage two, and retry the vote-round when the committee goes quiet.
func (e *Engine) loopDriver() {
	for {
		view, ok, changed := e.controller.View()
		if !ok {
			switch e.waitFor(e.Config.PackingInterval, changed) {
			case waitQuit:
				return
			case waitTimeout:
				ds, err := e.controller.RetrySchedule()
				if err != nil {
					logrus.WithError(err).Debug("still no schedule")
				}
				e.handleDecisions(ds)
			}
			continue
		}
		if view.State == vote.StateFinished {
			// the block assembler moves us on
			if e.waitFor(e.Config.VoteRoundTimeout, view.Replaced) == waitQuit {
				return
			}
			continue
		}
		if !e.runVoteRound(view) {
			return
		}
	}
}

// runVoteRound drives one vote-round. It returns false once the engine stops.
func (e *Engine) runVoteRound(view View) bool {
	pos := view.Position
	me := e.Account.Address
	if !view.Schedule.IsMember(me) {
		return e.waitFor(e.Config.VoteRoundTimeout, view.RoundOver) != waitQuit
	}

	if pos.VoteRound == 0 && !view.HasCandidate {
		if packer, ok := view.Schedule.Packer(pos.Key.PackingIndex); ok && packer.Address == me {
			e.produceCandidate(pos)
		}
	}

	wait := e.stageOneDeadline(view).Sub(e.controller.Now())
	if wait > 0 {
		switch e.waitFor(wait, view.RoundOver, view.CandidateReady, view.StageOneDone) {
		case waitQuit:
			return false
		case waitOver:
			return true
		}
	}

	cur, ok, _ := e.controller.View()
	if !ok || cur.Position != pos {
		return true
	}
	candidate := vote.EmptyCandidate
	if cur.HasCandidate {
		candidate = cur.Candidate
	}
	e.castBallot(cur, vote.StageOne, candidate)

	switch e.waitFor(e.Config.ResultWait, view.RoundOver, view.StageOneDone) {
	case waitQuit:
		return false
	case waitOver:
		return true
	}

	cur, ok, _ = e.controller.View()
	if !ok || cur.Position != pos || cur.State == vote.StateFinished {
		return true
	}
	candidate = vote.EmptyCandidate
	if cur.StageOneResult != nil {
		if c, confirmed := cur.StageOneResult.Confirmed(); confirmed && (c.IsEmpty() || (cur.HasCandidate && cur.Candidate == c)) {
			candidate = c
		}
	}
	e.castBallot(cur, vote.StageTwo, candidate)

	switch e.waitFor(e.Config.VoteRoundTimeout, view.RoundOver) {
	case waitQuit:
		return false
	case waitTimeout:
		logrus.WithField("pos", pos).Info("vote-round timed out, retrying")
		ds, _ := e.controller.AdvanceVoteRound(pos)
		e.handleDecisions(ds)
	}
	return true
}

// stageOneDeadline is when stage one stops waiting for a candidate. In
// vote-round 0 the packer keeps its whole slot even if the session was
// installed ahead of the round's timetable.
func (e *Engine) stageOneDeadline(view View) time.Time {
	deadline := view.StartedAt.Add(e.Config.StageOneWait)
	if view.Position.VoteRound != 0 {
		return deadline
	}
	deadline = deadline.Add(e.Config.PackingInterval)
	slotEnd := view.Schedule.PackEndTime(view.Position.Key.PackingIndex).Add(e.Config.StageOneWait)
	if slotEnd.After(deadline) {
		return slotEnd
	}
	return deadline
}

func (e *Engine) produceCandidate(pos vote.Position) {
	hash, err := e.Assembler.ProduceCandidate(e.ctx, pos.Height, pos.Key)
	if err != nil {
		logrus.WithError(err).WithField("pos", pos).Warn("no candidate produced, voting empty")
		return
	}
	m := &vote.CandidateMessage{
		Height:       pos.Height,
		Round:        pos.Key.Round,
		PackingIndex: pos.Key.PackingIndex,
		BlockHash:    hash,
	}
	m.Sign(e.Signer, e.Account)
	e.controller.SetCandidate(pos.Height, pos.Key, hash)
	if content, err := m.MarshalMsg(nil); err == nil {
		e.markSeen(contentSeenKey("c", content))
	}
	logrus.WithField("candidate", m).Info("candidate produced")
	e.multicast(vote.MessageTypeCandidate, m, e.scheduleOf(pos.Key.Round))
}

// castBallot signs, tallies and broadcasts this node's ballot.
func (e *Engine) castBallot(view View, stage vote.Stage, candidate vote.Candidate) {
	pos := view.Position
	b := &vote.VoteMessage{
		Height:       pos.Height,
		Round:        pos.Key.Round,
		PackingIndex: pos.Key.PackingIndex,
		VoteRound:    pos.VoteRound,
		Stage:        stage,
		BlockHash:    candidate.Hash,
		ForkHash:     candidate.ForkHash,
	}
	b.Sign(e.Signer, e.Account)
	e.markSeen(ballotSeenKey(b))

	_, out, ds, err := e.controller.RecordBallot(&vote.Received{Ballot: b, Signer: e.Account.Address})
	if err != nil {
		logrus.WithError(err).WithField("ballot", b).Debug("own ballot not tallied")
	} else {
		logrus.WithField("ballot", b).WithField("outcome", out.Outcome).Debug("voted")
	}
	e.handleDecisions(ds)
	e.multicast(vote.MessageTypeVote, b, view.Schedule)
}
