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
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/consensus/round"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/annchain/ogbft/transport_interface"
	"github.com/sirupsen/logrus"
)

func ballotSeenKey(b *vote.VoteMessage) string {
	digest := b.Digest()
	return "v" + string(digest.ToBytes()) + string(b.Signature.PublicKey) + string(b.Signature.Signature)
}

func contentSeenKey(prefix string, content []byte) string {
	return prefix + string(common.Sha256Hash(content).ToBytes())
}

// markSeen returns false if key was seen before.
func (e *Engine) markSeen(key string) bool {
	if e.seen.Has(key) {
		return false
	}
	if err := e.seen.Set(key, struct{}{}); err != nil {
		logrus.WithError(err).Warn("failed to update relay cache")
	}
	return true
}

// loopDispatch decodes inbound letters and feeds the worker queues.
func (e *Engine) loopDispatch() {
	for {
		select {
		case <-e.quit:
			return
		case letter := <-e.incoming:
			e.dispatch(letter)
		}
	}
}

func (e *Engine) dispatch(letter *transport_interface.IncomingLetter) {
	content, err := letter.Msg.Content()
	if err != nil {
		logrus.WithError(err).WithField("from", transport_interface.PrettyId(letter.From)).Warn("bad frame")
		return
	}
	switch vote.MessageType(letter.Msg.MsgType) {
	case vote.MessageTypeVote:
		b := &vote.VoteMessage{}
		if _, err = b.UnmarshalMsg(content); err != nil {
			break
		}
		if !e.markSeen(ballotSeenKey(b)) {
			return
		}
		r := &vote.Received{Ballot: b, From: letter.From}
		switch b.Stage {
		case vote.StageOne:
			e.enqueue(e.stageOneQueue, r, "stage one")
		case vote.StageTwo:
			e.enqueue(e.stageTwoQueue, r, "stage two")
		default:
			err = fmt.Errorf("%w: unknown stage %d", vote.ErrProtocol, b.Stage)
		}
	case vote.MessageTypeVoteResult:
		r := &vote.VoteResult{}
		if _, err = r.UnmarshalMsg(content); err != nil {
			break
		}
		if !e.markSeen(contentSeenKey("r", content)) {
			return
		}
		e.enqueue(e.resultQueue, &resultLetter{result: r, from: letter.From}, "result")
	case vote.MessageTypeGetVoteResult:
		m := &vote.GetVoteResultMessage{}
		if _, err = m.UnmarshalMsg(content); err != nil {
			break
		}
		e.handleGetVoteResult(m, letter.From)
	case vote.MessageTypeCandidate:
		m := &vote.CandidateMessage{}
		if _, err = m.UnmarshalMsg(content); err != nil {
			break
		}
		if !e.markSeen(contentSeenKey("c", content)) {
			return
		}
		err = e.handleCandidate(m, letter.From)
	default:
		err = fmt.Errorf("%w: unknown message type %d", vote.ErrProtocol, letter.Msg.MsgType)
	}
	if err != nil {
		e.logDrop(err, letter.From, letter)
	}
}

// loopBallots consumes one stage queue.
func (e *Engine) loopBallots(queue chan *vote.Received) {
	for {
		select {
		case <-e.quit:
			return
		case r := <-queue:
			if err := e.handleBallot(r); err != nil {
				e.stats.ballotsDropped.Inc()
				e.logDrop(err, r.From, r.Ballot)
			}
		}
	}
}

func (e *Engine) handleBallot(r *vote.Received) error {
	b := r.Ballot
	if err := b.Validate(); err != nil {
		return err
	}
	if !b.Signature.Verify(e.Signer, b.Digest()) {
		return vote.ErrSignatureInvalid
	}
	r.Signer = b.Signature.Signer(e.Signer)

	route, out, ds, err := e.controller.RecordBallot(r)
	if err != nil {
		return err
	}
	e.stats.ballotsAccepted.Inc()
	logrus.WithField("ballot", b).
		WithField("signer", r.Signer.ShortString()).
		WithField("route", route).
		WithField("outcome", out.Outcome).
		Trace("ballot accepted")
	e.handleDecisions(ds)
	e.relayBallot(r)
	return nil
}

func (e *Engine) scheduleOf(roundIndex uint64) *round.Schedule {
	schedule, err := e.rounds.GetRound(roundIndex, e.controller.Now())
	if err != nil {
		return nil
	}
	return schedule
}

// relayBallot forwards a remote ballot to the committee of its round.
func (e *Engine) relayBallot(r *vote.Received) {
	if r.From == "" {
		return
	}
	e.stats.relayed.Inc()
	e.multicast(vote.MessageTypeVote, r.Ballot, e.scheduleOf(r.Ballot.Round), r.From)
}

func (e *Engine) loopResults() {
	for {
		select {
		case <-e.quit:
			return
		case letter := <-e.resultQueue:
			if err := e.handleResult(letter.result, letter.from); err != nil {
				e.stats.resultsRejected.Inc()
				e.logDrop(err, letter.from, letter.result)
			}
		}
	}
}

func (e *Engine) handleResult(result *vote.VoteResult, from string) error {
	if err := result.Validate(); err != nil {
		return err
	}
	pos, _ := e.controller.Position()
	if result.Key().IsBefore(pos.Key) {
		return fmt.Errorf("%w: %s behind %s", vote.ErrStaleVote, result, pos)
	}
	schedule, err := e.rounds.GetRound(result.Key().Round, e.controller.Now())
	if err != nil {
		return err
	}
	if err = e.verifier.Verify(result, schedule); err != nil {
		return err
	}
	route, ds, err := e.controller.ApplyResult(result)
	if err != nil {
		return err
	}
	e.stats.resultsAccepted.Inc()
	logrus.WithField("result", result).WithField("route", route).Debug("result accepted")
	e.handleDecisions(ds)
	return nil
}

// handleGetVoteResult answers from the result store, or stays silent.
func (e *Engine) handleGetVoteResult(m *vote.GetVoteResultMessage, from string) {
	r, ok := e.store.Lookup(m.Key(), m.VoteRound)
	if !ok || r.Height() != m.Height {
		logrus.WithField("req", m).WithField("from", transport_interface.PrettyId(from)).Trace("no result to serve")
		return
	}
	e.stats.resultsServed.Inc()
	e.unicast(vote.MessageTypeVoteResult, r, from)
}

// handleCandidate accepts a candidate signed by the scheduled packer of its slot.
func (e *Engine) handleCandidate(m *vote.CandidateMessage, from string) error {
	if m.BlockHash.Empty() {
		return fmt.Errorf("%w: empty candidate", vote.ErrProtocol)
	}
	schedule, err := e.rounds.GetRound(m.Round, e.controller.Now())
	if err != nil {
		return err
	}
	packer, ok := schedule.Packer(m.PackingIndex)
	if !ok {
		return fmt.Errorf("%w: no packer at %s", vote.ErrProtocol, m.Key())
	}
	if m.Signature.Signer(e.Signer) != packer.Address {
		return fmt.Errorf("%w: candidate not signed by packer of %s", vote.ErrNotCommitteeMember, m.Key())
	}
	if !m.Signature.Verify(e.Signer, m.Digest()) {
		return vote.ErrSignatureInvalid
	}
	if e.controller.SetCandidate(m.Height, m.Key(), m.BlockHash) {
		logrus.WithField("candidate", m).Debug("candidate received")
	}
	e.multicast(vote.MessageTypeCandidate, m, schedule, from)
	return nil
}

// loopFutureCheck asks peers that are ahead for the result this node is missing.
func (e *Engine) loopFutureCheck() {
	for {
		select {
		case <-e.quit:
			return
		case <-time.After(e.Config.FutureCheckInterval):
			e.checkFuture()
		}
	}
}

func (e *Engine) checkFuture() {
	if e.future.Len() == 0 {
		return
	}
	view, ok, _ := e.controller.View()
	if !ok || view.State == vote.StateFinished || view.StageTwoResult != nil {
		return
	}
	senders := e.future.Senders()
	if len(senders) == 0 {
		return
	}
	e.fetchCursor = (e.fetchCursor + 1) % len(senders)
	peer := senders[e.fetchCursor]
	req := &vote.GetVoteResultMessage{
		Height:       view.Position.Height,
		Round:        view.Position.Key.Round,
		PackingIndex: view.Position.Key.PackingIndex,
		VoteRound:    view.Position.VoteRound,
	}
	logrus.WithField("req", req).WithField("peer", transport_interface.PrettyId(peer)).Debug("asking for missing result")
	e.unicast(vote.MessageTypeGetVoteResult, req, peer)
}
