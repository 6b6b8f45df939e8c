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
	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/round"
	mapset "github.com/deckarep/golang-set"
)

// Evaluate derives the outcome from per-candidate counts. winner is the
// index of the confirmed candidate, -1 otherwise. A tie at the highest
// count is never confirmed.
func Evaluate(counts []int, thresholds round.Thresholds) (outcome Outcome, winner int) {
	max, maxIndex, total := 0, -1, 0
	tied := false
	for i, c := range counts {
		total += c
		switch {
		case c > max:
			max, maxIndex, tied = c, i, false
		case c == max && c > 0:
			tied = true
		}
	}
	floor := thresholds.MinByzantine
	if floor < 1 {
		floor = 1
	}
	if max >= thresholds.MinPass {
		if tied {
			return OutcomeSplit, -1
		}
		return OutcomeConfirmed, maxIndex
	}
	if max >= floor && total-max >= floor {
		return OutcomeSplit, -1
	}
	return OutcomePending, -1
}

// TallyItem is the set of ballots for one candidate.
type TallyItem struct {
	Candidate  Candidate
	Signers    []common.Address
	Signatures []BallotSignature
}

// TallyOutcome is returned by every successful Record.
type TallyOutcome struct {
	Outcome Outcome
	// Result is set once the tally is decided.
	Result *VoteResult
	// Decided is true only for the ballot that decided the tally.
	Decided bool
	// Buffered is true when the ballot was kept for a later vote-round.
	Buffered bool
}

// Tally counts the ballots of one (vote-round, stage). A signer counts
// once. The result is computed once and never changes afterwards.
type Tally struct {
	Height     uint64
	Key        model.ConsensusKey
	VoteRound  uint8
	Stage      Stage
	thresholds round.Thresholds

	voters mapset.Set
	items  map[Candidate]*TallyItem
	order  []Candidate
	result *VoteResult
}

func NewTally(height uint64, key model.ConsensusKey, voteRound uint8, stage Stage, thresholds round.Thresholds) *Tally {
	return &Tally{
		Height:     height,
		Key:        key,
		VoteRound:  voteRound,
		Stage:      stage,
		thresholds: thresholds,
		voters:     mapset.NewThreadUnsafeSet(),
		items:      make(map[Candidate]*TallyItem),
	}
}

// Record adds a ballot signed by signer. Errors leave the tally unchanged.
func (t *Tally) Record(ballot *VoteMessage, signer common.Address) (TallyOutcome, error) {
	if ballot.Height != t.Height || ballot.Key() != t.Key || ballot.VoteRound != t.VoteRound || ballot.Stage != t.Stage {
		return TallyOutcome{}, protocolError("%s routed to tally h%d %s vr%d %s", ballot, t.Height, t.Key, t.VoteRound, t.Stage)
	}
	if t.voters.Contains(signer) {
		return t.current(), ErrDuplicateVote
	}
	if t.result != nil {
		return t.current(), ErrAlreadyDecided
	}
	t.voters.Add(signer)
	candidate := ballot.Candidate()
	item, ok := t.items[candidate]
	if !ok {
		item = &TallyItem{Candidate: candidate}
		t.items[candidate] = item
		t.order = append(t.order, candidate)
	}
	item.Signers = append(item.Signers, signer)
	item.Signatures = append(item.Signatures, ballot.Signature)

	t.evaluate()
	out := t.current()
	out.Decided = t.result != nil
	return out, nil
}

func (t *Tally) current() TallyOutcome {
	if t.result == nil {
		return TallyOutcome{Outcome: OutcomePending}
	}
	return TallyOutcome{Outcome: t.result.Outcome, Result: t.result}
}

func (t *Tally) evaluate() {
	counts := make([]int, len(t.order))
	for i, c := range t.order {
		counts[i] = len(t.items[c].Signers)
	}
	outcome, winner := Evaluate(counts, t.thresholds)
	switch outcome {
	case OutcomeConfirmed:
		t.result = &VoteResult{
			Outcome: OutcomeConfirmed,
			Items:   []*VoteResultItem{t.resultItem(t.items[t.order[winner]])},
		}
	case OutcomeSplit:
		items := make([]*VoteResultItem, len(t.order))
		for i, c := range t.order {
			items[i] = t.resultItem(t.items[c])
		}
		t.result = &VoteResult{Outcome: OutcomeSplit, Items: items}
	}
}

func (t *Tally) resultItem(item *TallyItem) *VoteResultItem {
	sigs := make([]BallotSignature, len(item.Signatures))
	copy(sigs, item.Signatures)
	return &VoteResultItem{
		Height:       t.Height,
		Round:        t.Key.Round,
		PackingIndex: t.Key.PackingIndex,
		VoteRound:    t.VoteRound,
		Stage:        t.Stage,
		BlockHash:    item.Candidate.Hash,
		ForkHash:     item.Candidate.ForkHash,
		Signatures:   sigs,
	}
}

// Result is nil while the tally is pending.
func (t *Tally) Result() *VoteResult {
	return t.result
}

func (t *Tally) Voted(signer common.Address) bool {
	return t.voters.Contains(signer)
}

func (t *Tally) Total() int {
	return t.voters.Cardinality()
}

// Counts snapshots the per-candidate counts.
func (t *Tally) Counts() map[Candidate]int {
	m := make(map[Candidate]int, len(t.items))
	for c, item := range t.items {
		m[c] = len(item.Signers)
	}
	return m
}
