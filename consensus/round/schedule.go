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
package round

import (
	"errors"
	"fmt"
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/consensus/model"
	mapset "github.com/deckarep/golang-set"
)

var ErrInsufficientCommittee = errors.New("insufficient committee")

// Thresholds are the ballot counts a tally needs, derived from the committee size.
type Thresholds struct {
	MinPass      int
	MinCover     int
	MinByzantine int
}

// ComputeThresholds derives the thresholds of a committee of size agents.
// byzantineRate is a percentage.
func ComputeThresholds(size int, byzantineRate int) Thresholds {
	minPass := size*byzantineRate/100 + 1
	minCover := 2 * size * (100 - byzantineRate) / 100
	minByzantine := minPass
	if minCover < minByzantine {
		minByzantine = minCover
	}
	return Thresholds{
		MinPass:      minPass,
		MinCover:     minCover,
		MinByzantine: minByzantine,
	}
}

// Member is an agent with its packing slot in a round.
type Member struct {
	model.Agent
	PackingIndex uint32
}

// Schedule is the ordered committee of one round. It is never mutated after Compute.
type Schedule struct {
	Index           uint64
	StartTime       time.Time
	PackingInterval time.Duration
	Members         []Member
	Thresholds      Thresholds

	addresses mapset.Set
}

// Compute lays out agents into packing slots. The supplied order is rotated
// by the round index so the first packer changes every round. The result
// only depends on agents and roundIndex.
func Compute(agents []model.Agent, roundIndex uint64, startTime time.Time, packingInterval time.Duration, byzantineRate int) (*Schedule, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("round %d: %w", roundIndex, ErrInsufficientCommittee)
	}
	n := len(agents)
	offset := int(roundIndex % uint64(n))
	s := &Schedule{
		Index:           roundIndex,
		StartTime:       startTime,
		PackingInterval: packingInterval,
		Members:         make([]Member, n),
		Thresholds:      ComputeThresholds(n, byzantineRate),
		addresses:       mapset.NewThreadUnsafeSet(),
	}
	for i := 0; i < n; i++ {
		agent := agents[(i+offset)%n]
		s.Members[i] = Member{Agent: agent, PackingIndex: uint32(i)}
		s.addresses.Add(agent.Address)
	}
	return s, nil
}

func (s *Schedule) Size() int {
	return len(s.Members)
}

func (s *Schedule) Packer(packingIndex uint32) (Member, bool) {
	if int(packingIndex) >= len(s.Members) {
		return Member{}, false
	}
	return s.Members[packingIndex], true
}

func (s *Schedule) IsMember(address common.Address) bool {
	return s.addresses.Contains(address)
}

// PackStartTime is when the packer of packingIndex is due to start.
func (s *Schedule) PackStartTime(packingIndex uint32) time.Time {
	return s.StartTime.Add(s.PackingInterval * time.Duration(packingIndex))
}

func (s *Schedule) PackEndTime(packingIndex uint32) time.Time {
	return s.PackStartTime(packingIndex).Add(s.PackingInterval)
}

// PeerIds lists the transport ids of all members except the given ones.
func (s *Schedule) PeerIds(except ...string) []string {
	skip := mapset.NewThreadUnsafeSet()
	for _, e := range except {
		skip.Add(e)
	}
	var ids []string
	for _, m := range s.Members {
		if m.PeerId == "" || skip.Contains(m.PeerId) {
			continue
		}
		ids = append(ids, m.PeerId)
	}
	return ids
}
