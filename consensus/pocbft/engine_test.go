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
	"testing"
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/annchain/ogbft/dummy"
	"github.com/annchain/ogbft/ogdb"
	"github.com/annchain/ogbft/transport"
	"github.com/annchain/ogbft/transport_interface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	c := DefaultConfig()
	c.PackingInterval = 100 * time.Millisecond
	c.StageOneWait = 100 * time.Millisecond
	c.ResultWait = 300 * time.Millisecond
	c.VoteRoundTimeout = 600 * time.Millisecond
	c.FutureCheckInterval = 100 * time.Millisecond
	return c
}

type testNode struct {
	engine       *Engine
	ledger       *dummy.Ledger
	communicator *transport.LocalCommunicator
	db           ogdb.Database
}

func (n *testNode) stop() {
	n.engine.Stop()
	n.ledger.Stop()
	n.communicator.Stop()
}

type testNetwork struct {
	hub       *transport.LocalHub
	accounts  []*crypto.Account
	comms     []*transport.LocalCommunicator
	committee *dummy.StaticCommittee
}

// newTestNetwork registers n peers on a hub and builds their committee.
func newTestNetwork(t *testing.T, n int) *testNetwork {
	net := &testNetwork{hub: transport.NewLocalHub()}
	var agents []model.Agent
	for i := 0; i < n; i++ {
		_, priv, err := testSigner.RandomKeyPair()
		require.NoError(t, err)
		account := crypto.NewAccount(testSigner, priv)
		comm := net.hub.NewCommunicator()
		net.accounts = append(net.accounts, account)
		net.comms = append(net.comms, comm)
		agents = append(agents, model.Agent{
			Address:        account.Address,
			PublicKey:      account.PublicKey,
			PackingAddress: account.Address,
			PeerId:         comm.Id(),
		})
	}
	net.committee = dummy.NewStaticCommittee(agents)
	return net
}

func (net *testNetwork) startNode(i int, db ogdb.Database) *testNode {
	node := &testNode{communicator: net.comms[i], db: db}
	node.ledger = &dummy.Ledger{
		Database: db,
		Producer: net.accounts[i].Address.Hex(),
	}
	node.ledger.InitDefault()
	node.engine = &Engine{
		Config:       testConfig(),
		Signer:       testSigner,
		Account:      net.accounts[i],
		Committee:    net.committee,
		Assembler:    node.ledger,
		Database:     db,
		Communicator: node.communicator,
	}
	node.engine.InitDefault()
	node.ledger.Persisted = node.engine.OnBlockPersisted
	node.communicator.AddSubscriberNewIncomingMessageEvent(node.engine)

	node.communicator.Start()
	node.ledger.Start()
	node.engine.Start()
	return node
}

func heightsReach(nodes []*testNode, height uint64) func() bool {
	return func() bool {
		for _, n := range nodes {
			if n.ledger.CurrentHeight() < height {
				return false
			}
		}
		return true
	}
}

func assertSameChain(t *testing.T, nodes []*testNode, height uint64) {
	for h := uint64(1); h <= height; h++ {
		first, ok := nodes[0].ledger.BlockHash(h)
		require.True(t, ok, "height %d", h)
		for _, n := range nodes[1:] {
			got, ok := n.ledger.BlockHash(h)
			require.True(t, ok, "height %d", h)
			assert.Equal(t, first, got, "height %d", h)
		}
	}
}

func TestEngineFinalizesBlocks(t *testing.T) {
	net := newTestNetwork(t, 4)
	var nodes []*testNode
	for i := range net.accounts {
		nodes = append(nodes, net.startNode(i, ogdb.NewMemDatabase()))
	}
	defer func() {
		for _, n := range nodes {
			n.stop()
		}
	}()

	assert.Eventually(t, heightsReach(nodes, 3), 15*time.Second, 50*time.Millisecond)
	assertSameChain(t, nodes, 3)

	for _, n := range nodes {
		stats := n.engine.Stats()
		assert.True(t, stats.SessionsFinished >= 3)
		assert.True(t, stats.BallotsAccepted > 0)
		assert.True(t, n.engine.Running())
		assert.Contains(t, n.engine.GetBenchmarks(), "position")
	}
}

func TestEngineSkipsSilentPacker(t *testing.T) {
	net := newTestNetwork(t, 4)
	// the last member never starts: its slots end empty, the rest still finalize
	var nodes []*testNode
	for i := 0; i < 3; i++ {
		nodes = append(nodes, net.startNode(i, ogdb.NewMemDatabase()))
	}
	defer func() {
		for _, n := range nodes {
			n.stop()
		}
	}()

	assert.Eventually(t, heightsReach(nodes, 5), 30*time.Second, 50*time.Millisecond)
	assertSameChain(t, nodes, 5)

	pos, ok := nodes[0].engine.Controller().Position()
	require.True(t, ok)
	assert.True(t, pos.Key.Round >= 1)
}

func TestEngineCatchesUpAfterRestart(t *testing.T) {
	net := newTestNetwork(t, 4)
	var nodes []*testNode
	dbs := make([]ogdb.Database, 4)
	for i := range net.accounts {
		dbs[i] = ogdb.NewMemDatabase()
		nodes = append(nodes, net.startNode(i, dbs[i]))
	}
	defer func() {
		for _, n := range nodes {
			n.stop()
		}
	}()
	require.Eventually(t, heightsReach(nodes, 2), 15*time.Second, 50*time.Millisecond)

	// restart node 3 on its own database under the same peer id
	id := nodes[3].communicator.Id()
	nodes[3].stop()
	net.comms[3] = net.hub.NewCommunicatorWithId(id)
	nodes[3] = net.startNode(3, dbs[3])
	resumed := nodes[3].ledger.CurrentHeight()
	assert.True(t, resumed >= 2)

	assert.Eventually(t, heightsReach(nodes, resumed+2), 30*time.Second, 50*time.Millisecond)
	assertSameChain(t, nodes, resumed+2)
}

func TestEngineServesResults(t *testing.T) {
	net := newTestNetwork(t, 4)
	var nodes []*testNode
	for i := range net.accounts {
		nodes = append(nodes, net.startNode(i, ogdb.NewMemDatabase()))
	}
	defer func() {
		for _, n := range nodes {
			n.stop()
		}
	}()
	require.Eventually(t, heightsReach(nodes, 1), 15*time.Second, 50*time.Millisecond)

	// a listener outside the committee asks for the first slot
	listener := net.hub.NewCommunicator()
	inbox := &resultInbox{c: make(chan *transport_interface.IncomingLetter, 10)}
	listener.AddSubscriberNewIncomingMessageEvent(inbox)
	listener.Start()
	defer listener.Stop()

	final, ok := nodes[0].engine.Store().Lookup(model.ConsensusKey{}, vote.FinalVoteRound)
	require.True(t, ok)
	listener.NewOutgoingMessageEventChannel() <- &transport_interface.OutgoingLetter{
		MsgType:      uint16(vote.MessageTypeGetVoteResult),
		Msg:          &vote.GetVoteResultMessage{Height: final.Height(), VoteRound: final.VoteRound()},
		SendType:     transport_interface.SendTypeUnicast,
		EndReceivers: []string{nodes[1].communicator.Id()},
	}
	select {
	case letter := <-inbox.c:
		assert.Equal(t, uint16(vote.MessageTypeVoteResult), letter.Msg.MsgType)
		content, err := letter.Msg.Content()
		require.NoError(t, err)
		got := &vote.VoteResult{}
		_, err = got.UnmarshalMsg(content)
		require.NoError(t, err)
		assert.True(t, got.IsFinal())
		assert.Equal(t, model.ConsensusKey{}, got.Key())
		v := &Verifier{Signer: testSigner}
		schedule, err := nodes[1].engine.rounds.GetRound(0, time.Now())
		require.NoError(t, err)
		assert.NoError(t, v.Verify(got, schedule))
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no result served")
	}

	// unknown slots are not answered
	listener.NewOutgoingMessageEventChannel() <- &transport_interface.OutgoingLetter{
		MsgType:      uint16(vote.MessageTypeGetVoteResult),
		Msg:          &vote.GetVoteResultMessage{Height: 99, Round: 99},
		SendType:     transport_interface.SendTypeUnicast,
		EndReceivers: []string{nodes[1].communicator.Id()},
	}
	select {
	case letter := <-inbox.c:
		assert.Failf(t, "unexpected answer", "%s", letter)
	case <-time.After(300 * time.Millisecond):
	}
}

type resultInbox struct {
	c chan *transport_interface.IncomingLetter
}

func (r *resultInbox) Name() string { return "resultInbox" }

func (r *resultInbox) NewIncomingMessageEventChannel() chan *transport_interface.IncomingLetter {
	return r.c
}

func TestEngineDropsForgedBallots(t *testing.T) {
	net := newTestNetwork(t, 4)
	node := net.startNode(0, ogdb.NewMemDatabase())
	defer node.stop()

	forger := net.comms[1]
	forger.Start()
	defer forger.Stop()
	b := &vote.VoteMessage{Height: 1, Stage: vote.StageOne, BlockHash: common.EmptyHash}
	b.Sign(testSigner, net.accounts[1])
	b.BlockHash = common.Sha256Hash([]byte("tampered"))
	forger.NewOutgoingMessageEventChannel() <- &transport_interface.OutgoingLetter{
		MsgType:      uint16(vote.MessageTypeVote),
		Msg:          b,
		SendType:     transport_interface.SendTypeUnicast,
		EndReceivers: []string{node.communicator.Id()},
	}
	assert.Eventually(t, func() bool {
		return node.engine.Stats().BallotsDropped >= 1
	}, 2*time.Second, 20*time.Millisecond)
}
