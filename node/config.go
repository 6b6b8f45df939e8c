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
	"path"
	"strings"
	"time"

	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/consensus/pocbft"
	"github.com/spf13/viper"
)

// SetDefaults registers the default value of every key the node reads.
func SetDefaults() {
	d := pocbft.DefaultConfig()
	viper.SetDefault("datadir", "data")
	viper.SetDefault("p2p.port", 8001)
	viper.SetDefault("p2p.network_id", "ogbft")
	viper.SetDefault("p2p.bootstrap_nodes", "")
	viper.SetDefault("p2p.key_file", "transport.key")
	viper.SetDefault("consensus.key_file", "consensus.key")
	viper.SetDefault("consensus.crypto", "ed25519")
	viper.SetDefault("consensus.byzantine_rate", d.ByzantineRate)
	viper.SetDefault("consensus.packing_interval_ms", d.PackingInterval.Milliseconds())
	viper.SetDefault("consensus.stage_one_wait_ms", d.StageOneWait.Milliseconds())
	viper.SetDefault("consensus.result_wait_ms", d.ResultWait.Milliseconds())
	viper.SetDefault("consensus.vote_round_timeout_ms", d.VoteRoundTimeout.Milliseconds())
	viper.SetDefault("consensus.future_check_interval_ms", d.FutureCheckInterval.Milliseconds())
	viper.SetDefault("consensus.queue_size", d.QueueSize)
	viper.SetDefault("consensus.result_cache_size", d.ResultCacheSize)
	viper.SetDefault("genesis.committee_file", "committee.yaml")
	viper.SetDefault("ledger.produce_delay_ms", 0)
	viper.SetDefault("performance.interval_ms", 5000)
}

func millis(key string) time.Duration {
	return time.Duration(viper.GetInt64(key)) * time.Millisecond
}

// ConsensusConfig reads the engine settings. Keys that are not set keep
// the engine defaults.
func ConsensusConfig() pocbft.Config {
	c := pocbft.DefaultConfig()
	c.ByzantineRate = viper.GetInt("consensus.byzantine_rate")
	c.PackingInterval = millis("consensus.packing_interval_ms")
	c.StageOneWait = millis("consensus.stage_one_wait_ms")
	c.ResultWait = millis("consensus.result_wait_ms")
	c.VoteRoundTimeout = millis("consensus.vote_round_timeout_ms")
	c.FutureCheckInterval = millis("consensus.future_check_interval_ms")
	c.QueueSize = viper.GetInt("consensus.queue_size")
	c.ResultCacheSize = viper.GetInt("consensus.result_cache_size")
	return c
}

func ConsensusSigner() (crypto.Signer, error) {
	cryptoType, err := crypto.CryptoTypeFromString(viper.GetString("consensus.crypto"))
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(cryptoType)
}

// BootstrapNodes splits p2p.bootstrap_nodes on commas.
func BootstrapNodes() []string {
	var nodes []string
	for _, v := range strings.Split(viper.GetString("p2p.bootstrap_nodes"), ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			nodes = append(nodes, v)
		}
	}
	return nodes
}

// resolvePath places relative file names under datadir.
func resolvePath(name string) string {
	if path.IsAbs(name) {
		return name
	}
	return path.Join(viper.GetString("datadir"), name)
}
