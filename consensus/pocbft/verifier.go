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

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/consensus/round"
	"github.com/annchain/ogbft/consensus/vote"
)

// Verifier checks results received from peers before they are applied.
type Verifier struct {
	Signer crypto.Signer
}

// Verify accepts a result only if every signature comes from a member of
// schedule, signs its item, and the counts support the claimed outcome
// under the same thresholds a local tally would use.
func (v *Verifier) Verify(result *vote.VoteResult, schedule *round.Schedule) error {
	if err := result.Validate(); err != nil {
		return err
	}
	if result.Key().Round != schedule.Index {
		return fmt.Errorf("%w: %s checked against round %d", vote.ErrProtocol, result, schedule.Index)
	}
	seen := make(map[common.Address]bool)
	counts := make([]int, len(result.Items))
	for i, item := range result.Items {
		digest := item.Digest()
		for _, sig := range item.Signatures {
			address := sig.Signer(v.Signer)
			if !schedule.IsMember(address) {
				return fmt.Errorf("%w: %s in %s", vote.ErrNotCommitteeMember, address.ShortString(), result)
			}
			if !sig.Verify(v.Signer, digest) {
				return fmt.Errorf("%w: %s in %s", vote.ErrSignatureInvalid, address.ShortString(), result)
			}
			if seen[address] {
				return fmt.Errorf("%w: %s signed twice in %s", vote.ErrProtocol, address.ShortString(), result)
			}
			seen[address] = true
			counts[i]++
		}
	}

	outcome, _ := vote.Evaluate(counts, schedule.Thresholds)
	if outcome != result.Outcome {
		return fmt.Errorf("%w: %s claims %s, counts %v give %s", vote.ErrThresholdNotMet, result, result.Outcome, counts, outcome)
	}
	return nil
}
