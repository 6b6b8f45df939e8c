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
package model

import (
	"fmt"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/common/crypto"
)

// Agent is a committee member as handed over by committee bookkeeping.
// Deposit only matters upstream, for ordering.
type Agent struct {
	Address        common.Address
	PublicKey      crypto.PublicKey
	PackingAddress common.Address
	Deposit        uint64
	PeerId         string
}

// ConsensusKey identifies a voting session: the packing slot within a round.
type ConsensusKey struct {
	Round        uint64
	PackingIndex uint32
}

func (k ConsensusKey) String() string {
	return fmt.Sprintf("%d_%d", k.Round, k.PackingIndex)
}

// Compare returns -1, 0 or 1 when k is before, equal to or after o.
func (k ConsensusKey) Compare(o ConsensusKey) int {
	switch {
	case k.Round < o.Round:
		return -1
	case k.Round > o.Round:
		return 1
	case k.PackingIndex < o.PackingIndex:
		return -1
	case k.PackingIndex > o.PackingIndex:
		return 1
	}
	return 0
}

func (k ConsensusKey) IsAfter(o ConsensusKey) bool {
	return k.Compare(o) > 0
}

func (k ConsensusKey) IsBefore(o ConsensusKey) bool {
	return k.Compare(o) < 0
}

// Next returns the slot following k in a round of committeeSize packers.
// rolled is true when the round is exhausted and the next round starts.
func (k ConsensusKey) Next(committeeSize int) (next ConsensusKey, rolled bool) {
	if int(k.PackingIndex)+1 >= committeeSize {
		return ConsensusKey{Round: k.Round + 1, PackingIndex: 0}, true
	}
	return ConsensusKey{Round: k.Round, PackingIndex: k.PackingIndex + 1}, false
}
