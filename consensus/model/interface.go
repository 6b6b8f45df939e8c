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
	"context"

	"github.com/annchain/ogbft/common"
)

// CommitteeProvider supplies the eligible agents of a round, already sorted.
type CommitteeProvider interface {
	AgentsForRound(roundIndex uint64) ([]Agent, error)
}

// ConfirmedEvent reports a block finalized by the committee.
type ConfirmedEvent struct {
	Height    uint64
	Key       ConsensusKey
	VoteRound uint8
	Hash      common.Hash
	// Forked is set when the packer signed two candidates for the same slot.
	// Both hashes are reported and the chain-selection rule decides.
	Forked     bool
	ForkFirst  common.Hash
	ForkSecond common.Hash
	// FromFuture is set when the confirmation was learnt from a result of a later slot.
	FromFuture bool
}

// BlockAssembler builds and persists blocks.
type BlockAssembler interface {
	// CurrentHeight is the height of the last persisted block.
	CurrentHeight() uint64
	// ProduceCandidate builds the block this node packs and returns its hash.
	ProduceCandidate(ctx context.Context, height uint64, key ConsensusKey) (common.Hash, error)
	// ByzantineConfirmed hands over a finalized block. Once persisted the
	// assembler reports back through the engine's OnBlockPersisted.
	ByzantineConfirmed(event ConfirmedEvent)
}
