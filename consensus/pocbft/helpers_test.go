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
	"sync"
	"testing"
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/round"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/stretchr/testify/require"
)

var testSigner = &crypto.SignerEd25519{}

// testProvider serves a fixed committee; failing rounds return an error.
type testProvider struct {
	mu      sync.Mutex
	agents  []model.Agent
	failing map[uint64]bool
}

func (p *testProvider) AgentsForRound(roundIndex uint64) ([]model.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing[roundIndex] {
		return nil, nil
	}
	return p.agents, nil
}

type testCommittee struct {
	accounts []*crypto.Account
	provider *testProvider
	rounds   *round.Manager
}

func newTestCommittee(t *testing.T, n int, rate int) *testCommittee {
	c := &testCommittee{provider: &testProvider{failing: make(map[uint64]bool)}}
	for i := 0; i < n; i++ {
		_, priv, err := testSigner.RandomKeyPair()
		require.NoError(t, err)
		account := crypto.NewAccount(testSigner, priv)
		c.accounts = append(c.accounts, account)
		c.provider.agents = append(c.provider.agents, model.Agent{Address: account.Address, PublicKey: account.PublicKey})
	}
	c.rounds = &round.Manager{
		Config:   round.ManagerConfig{ByzantineRate: rate, PackingInterval: time.Second},
		Provider: c.provider,
	}
	c.rounds.InitDefault()
	return c
}

func (c *testCommittee) schedule(t *testing.T, roundIndex uint64) *round.Schedule {
	s, err := c.rounds.GetRound(roundIndex, time.Unix(0, 0))
	require.NoError(t, err)
	return s
}

func (c *testCommittee) controller() *Controller {
	return NewController(c.rounds, vote.NewFutureCache())
}

func (c *testCommittee) ballot(i int, height uint64, key model.ConsensusKey, voteRound uint8, stage vote.Stage, hash common.Hash) *vote.Received {
	b := &vote.VoteMessage{
		Height:       height,
		Round:        key.Round,
		PackingIndex: key.PackingIndex,
		VoteRound:    voteRound,
		Stage:        stage,
		BlockHash:    hash,
	}
	b.Sign(testSigner, c.accounts[i])
	return &vote.Received{Ballot: b, Signer: c.accounts[i].Address, From: "peer"}
}

// result runs ballots of signers through a fresh tally and returns its result.
func (c *testCommittee) result(t *testing.T, signers []int, height uint64, key model.ConsensusKey, voteRound uint8, stage vote.Stage, hash common.Hash) *vote.VoteResult {
	tally := vote.NewTally(height, key, voteRound, stage, c.schedule(t, key.Round).Thresholds)
	for _, i := range signers {
		_, err := tally.Record(c.ballot(i, height, key, voteRound, stage, hash).Ballot, c.accounts[i].Address)
		require.NoError(t, err)
	}
	require.NotNil(t, tally.Result())
	return tally.Result()
}

// splitResult votes a, b, a, b so that two candidates reach the byzantine floor.
func (c *testCommittee) splitResult(t *testing.T, height uint64, key model.ConsensusKey, voteRound uint8, stage vote.Stage) *vote.VoteResult {
	tally := vote.NewTally(height, key, voteRound, stage, c.schedule(t, key.Round).Thresholds)
	for i, h := range []string{"a", "b", "a", "b"} {
		_, err := tally.Record(c.ballot(i, height, key, voteRound, stage, hashOf(h)).Ballot, c.accounts[i].Address)
		require.NoError(t, err)
	}
	require.NotNil(t, tally.Result())
	require.Equal(t, vote.OutcomeSplit, tally.Result().Outcome)
	return tally.Result()
}

func hashOf(s string) common.Hash {
	return common.Sha256Hash([]byte(s))
}
