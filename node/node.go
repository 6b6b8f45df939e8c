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
package node

import (
	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/common/goroutine"
	"github.com/annchain/ogbft/common/utilfuncs"
	"github.com/annchain/ogbft/consensus/pocbft"
	"github.com/annchain/ogbft/dummy"
	"github.com/annchain/ogbft/ogdb"
	"github.com/annchain/ogbft/performance"
	"github.com/annchain/ogbft/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Component interface {
	Start()
	Stop()
	// Get the component name
	Name() string
}

// Node is the basic entry point for all modules to start.
type Node struct {
	components   []Component
	communicator *transport.PhysicalCommunicator
	engine       *pocbft.Engine
	db           ogdb.Database
}

// InitDefault only set necessary data structures.
// to Init a node with components, use Setup
func (n *Node) InitDefault() {
	n.components = []Component{}
}

func (n *Node) Setup() {
	genKey := viper.GetBool("genkey")

	db, err := ogdb.NewLevelDB(resolvePath("chaindata"), 16, 16)
	utilfuncs.PanicIfError(err, "open database")
	n.db = db

	signer, err := ConsensusSigner()
	utilfuncs.PanicIfError(err, "consensus crypto")

	accountHolder := &crypto.AccountHolder{
		KeyFile: resolvePath(viper.GetString("consensus.key_file")),
		Signer:  signer,
	}
	account, err := accountHolder.ProvideAccount(genKey)
	utilfuncs.PanicIfError(err, "load consensus account")
	logrus.WithField("address", account.Address.Hex()).Info("consensus account loaded")

	identityHolder := &transport.DefaultTransportIdentityHolder{
		KeyFile: resolvePath(viper.GetString("p2p.key_file")),
	}
	identity, err := identityHolder.ProvidePrivateKey(genKey)
	utilfuncs.PanicIfError(err, "load transport identity")

	n.communicator = &transport.PhysicalCommunicator{
		Port:       viper.GetInt("p2p.port"),
		PrivateKey: identity.PrivateKey,
		ProtocolId: viper.GetString("p2p.network_id"),
	}
	n.communicator.InitDefault()

	committee, err := dummy.LoadStaticCommittee(viper.GetString("genesis.committee_file"))
	utilfuncs.PanicIfError(err, "load committee")

	ledger := &dummy.Ledger{
		Database:     db,
		Producer:     account.Address.Hex(),
		ProduceDelay: millis("ledger.produce_delay_ms"),
	}
	ledger.InitDefault()

	config := ConsensusConfig()
	utilfuncs.PanicIfError(config.Validate(), "consensus config")

	n.engine = &pocbft.Engine{
		Config:       config,
		Signer:       signer,
		Account:      account,
		Committee:    committee,
		Assembler:    ledger,
		Database:     db,
		Communicator: n.communicator,
	}
	n.engine.InitDefault()

	ledger.Persisted = n.engine.OnBlockPersisted
	n.communicator.AddSubscriberNewIncomingMessageEvent(n.engine)

	monitor := &performance.PerformanceMonitor{
		Interval: millis("performance.interval_ms"),
	}
	monitor.InitDefault()
	monitor.Register(n.communicator)
	monitor.Register(n.engine)

	n.components = append(n.components, n.communicator)
	n.components = append(n.components, ledger)
	n.components = append(n.components, n.engine)
	n.components = append(n.components, monitor)
}

func (n *Node) Start() {
	for _, component := range n.components {
		logrus.Infof("Starting %s", component.Name())
		component.Start()
		logrus.Infof("Started: %s", component.Name())
	}
	goroutine.New(n.connectBootstrap)
	logrus.Info("Node Started")
}

func (n *Node) connectBootstrap() {
	for _, address := range BootstrapNodes() {
		peerId, err := n.communicator.SuggestConnection(address)
		if err != nil {
			logrus.WithError(err).WithField("address", address).Warn("bad bootstrap address")
			continue
		}
		logrus.WithField("peer", peerId).Debug("bootstrap peer registered")
	}
}

func (n *Node) Stop() {
	for i := len(n.components) - 1; i >= 0; i-- {
		comp := n.components[i]
		logrus.Infof("Stopping %s", comp.Name())
		comp.Stop()
		logrus.Infof("Stopped: %s", comp.Name())
	}
	n.db.Close()
	logrus.Info("Node Stopped")
}
