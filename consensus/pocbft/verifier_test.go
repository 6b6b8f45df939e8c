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
	"errors"
	"testing"

	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsLocalResults(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 2, PackingIndex: 1}
	v := &Verifier{Signer: testSigner}

	confirmed := c.result(t, []int{0, 1, 2}, 7, key, 0, vote.StageTwo, hashOf("a"))
	assert.NoError(t, v.Verify(confirmed, c.schedule(t, 2)))

	split := c.splitResult(t, 7, key, 1, vote.StageOne)
	assert.NoError(t, v.Verify(split, c.schedule(t, 2)))
}

func TestVerifyThresholdNotMet(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 2}
	v := &Verifier{Signer: testSigner}

	result := c.result(t, []int{0, 1, 2}, 7, key, 0, vote.StageTwo, hashOf("a"))
	// every remaining signature is valid, but 2 < minPass
	result.Items[0].Signatures = result.Items[0].Signatures[:2]
	err := v.Verify(result, c.schedule(t, 2))
	assert.True(t, errors.Is(err, vote.ErrThresholdNotMet))

	// claiming a split that the counts do not support
	result = c.result(t, []int{0, 1, 2}, 7, key, 0, vote.StageTwo, hashOf("a"))
	result.Outcome = vote.OutcomeSplit
	assert.True(t, errors.Is(v.Verify(result, c.schedule(t, 2)), vote.ErrThresholdNotMet))
}

func TestVerifyRejectsOutsiders(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 2}
	v := &Verifier{Signer: testSigner}

	result := c.result(t, []int{0, 1, 2}, 7, key, 0, vote.StageTwo, hashOf("a"))
	_, priv, err := testSigner.RandomKeyPair()
	require.NoError(t, err)
	outsider := crypto.NewAccount(testSigner, priv)
	b := &vote.VoteMessage{Height: 7, Round: 2, Stage: vote.StageTwo, BlockHash: hashOf("a")}
	b.Sign(testSigner, outsider)
	result.Items[0].Signatures = append(result.Items[0].Signatures, b.Signature)
	assert.True(t, errors.Is(v.Verify(result, c.schedule(t, 2)), vote.ErrNotCommitteeMember))
}

func TestVerifyRejectsBadSignatures(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	key := model.ConsensusKey{Round: 2}
	v := &Verifier{Signer: testSigner}

	result := c.result(t, []int{0, 1, 2}, 7, key, 0, vote.StageTwo, hashOf("a"))
	// signature of another candidate
	other := c.ballot(3, 7, key, 0, vote.StageTwo, hashOf("b"))
	result.Items[0].Signatures = append(result.Items[0].Signatures, other.Ballot.Signature)
	assert.True(t, errors.Is(v.Verify(result, c.schedule(t, 2)), vote.ErrSignatureInvalid))

	result = c.result(t, []int{0, 1, 2}, 7, key, 0, vote.StageTwo, hashOf("a"))
	result.Items[0].Signatures = append(result.Items[0].Signatures, result.Items[0].Signatures[0])
	assert.True(t, errors.Is(v.Verify(result, c.schedule(t, 2)), vote.ErrProtocol))
}

func TestVerifyWrongRound(t *testing.T) {
	c := newTestCommittee(t, 4, 67)
	v := &Verifier{Signer: testSigner}
	result := c.result(t, []int{0, 1, 2}, 7, model.ConsensusKey{Round: 2}, 0, vote.StageTwo, hashOf("a"))
	assert.True(t, errors.Is(v.Verify(result, c.schedule(t, 3)), vote.ErrProtocol))
}
