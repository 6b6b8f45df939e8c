package vote

import (
	"testing"
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/round"
	"github.com/stretchr/testify/require"
)

var testSigner = &crypto.SignerEd25519{}

type testCommittee struct {
	accounts []*crypto.Account
	schedule *round.Schedule
}

func newTestCommittee(t *testing.T, n int, rate int) *testCommittee {
	c := &testCommittee{}
	agents := make([]model.Agent, n)
	for i := 0; i < n; i++ {
		_, priv, err := testSigner.RandomKeyPair()
		require.NoError(t, err)
		account := crypto.NewAccount(testSigner, priv)
		c.accounts = append(c.accounts, account)
		agents[i] = model.Agent{Address: account.Address, PublicKey: account.PublicKey}
	}
	schedule, err := round.Compute(agents, 5, time.Unix(0, 0), time.Second, rate)
	require.NoError(t, err)
	c.schedule = schedule
	return c
}

func (c *testCommittee) ballot(i int, height uint64, key model.ConsensusKey, voteRound uint8, stage Stage, hash common.Hash) *Received {
	b := &VoteMessage{
		Height:       height,
		Round:        key.Round,
		PackingIndex: key.PackingIndex,
		VoteRound:    voteRound,
		Stage:        stage,
		BlockHash:    hash,
	}
	b.Sign(testSigner, c.accounts[i])
	return &Received{Ballot: b, Signer: c.accounts[i].Address, From: "peer"}
}

func hashOf(s string) common.Hash {
	return common.Sha256Hash([]byte(s))
}
