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
	"math"
)

// Stage is the phase of a vote-round.
type Stage uint8

const (
	StageOne Stage = 1
	StageTwo Stage = 2
)

func (s Stage) Valid() bool {
	switch s {
	case StageOne, StageTwo:
		return true
	}
	return false
}

func (s Stage) String() string {
	switch s {
	case StageOne:
		return "ONE"
	case StageTwo:
		return "TWO"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Outcome is what a tally says about a (vote-round, stage).
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeConfirmed
	OutcomeSplit
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "Pending"
	case OutcomeConfirmed:
		return "Confirmed"
	case OutcomeSplit:
		return "Split"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// State is where a session stands.
type State uint8

const (
	StateStageOne State = iota
	StateStageTwo
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateStageOne:
		return "StageOne"
	case StateStageTwo:
		return "StageTwo"
	case StateFinished:
		return "Finished"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Finish tells how a finished session ended.
type Finish uint8

const (
	FinishNone Finish = iota
	FinishEmptyConfirmed
	FinishBlockConfirmed
	FinishForked
)

func (f Finish) String() string {
	switch f {
	case FinishNone:
		return "None"
	case FinishEmptyConfirmed:
		return "EmptyConfirmed"
	case FinishBlockConfirmed:
		return "BlockConfirmed"
	case FinishForked:
		return "Forked"
	default:
		return fmt.Sprintf("Finish(%d)", uint8(f))
	}
}

// FinalVoteRound is the vote-round under which the final result of a slot is stored.
const FinalVoteRound uint8 = math.MaxUint8
