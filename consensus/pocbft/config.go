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
	"time"
)

type Config struct {
	// ByzantineRate is the percentage used to derive pass/byzantine thresholds.
	ByzantineRate   int
	PackingInterval time.Duration
	// StageOneWait is how long stage one waits for a candidate on top of the packing interval.
	StageOneWait time.Duration
	// ResultWait bounds the wait for the stage one result after voting.
	ResultWait time.Duration
	// VoteRoundTimeout bounds the wait for the session to finish or move on
	// after the stage two ballot. The driver then retries with a new vote-round.
	VoteRoundTimeout    time.Duration
	FutureCheckInterval time.Duration

	QueueSize         int
	ResultCacheSize   int
	ScheduleCacheSize int
	RelayCacheSize    int
	RelayCacheExpire  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ByzantineRate:       67,
		PackingInterval:     time.Second * 2,
		StageOneWait:        time.Second,
		ResultWait:          time.Second * 2,
		VoteRoundTimeout:    time.Second * 5,
		FutureCheckInterval: time.Second,
		QueueSize:           1000,
		ResultCacheSize:     200,
		ScheduleCacheSize:   16,
		RelayCacheSize:      10000,
		RelayCacheExpire:    time.Minute,
	}
}

func (c Config) Validate() error {
	if c.ByzantineRate < 0 || c.ByzantineRate >= 100 {
		return fmt.Errorf("byzantine rate must be in [0, 100): %d", c.ByzantineRate)
	}
	if c.PackingInterval <= 0 || c.StageOneWait <= 0 || c.ResultWait <= 0 || c.VoteRoundTimeout <= 0 {
		return fmt.Errorf("consensus timings must be positive")
	}
	if c.FutureCheckInterval <= 0 {
		return fmt.Errorf("future check interval must be positive")
	}
	if c.QueueSize <= 0 || c.ResultCacheSize <= 0 || c.RelayCacheSize <= 0 {
		return fmt.Errorf("cache and queue sizes must be positive")
	}
	return nil
}
