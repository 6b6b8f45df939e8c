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
	"sync"
	"time"

	"github.com/annchain/ogbft/consensus/model"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

type ManagerConfig struct {
	ByzantineRate   int
	PackingInterval time.Duration
	CacheSize       int
}

// Manager computes schedules from the committee provider and remembers recent ones.
type Manager struct {
	Config   ManagerConfig
	Provider model.CommitteeProvider

	cache *lru.Cache
	mu    sync.Mutex
}

func (m *Manager) InitDefault() {
	size := m.Config.CacheSize
	if size <= 0 {
		size = 16
	}
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	m.cache = cache
}

// GetRound returns the schedule of roundIndex. startTime is only used the
// first time a round is computed.
func (m *Manager) GetRound(roundIndex uint64, startTime time.Time) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.Get(roundIndex); ok {
		return v.(*Schedule), nil
	}
	agents, err := m.Provider.AgentsForRound(roundIndex)
	if err != nil {
		return nil, err
	}
	schedule, err := Compute(agents, roundIndex, startTime, m.Config.PackingInterval, m.Config.ByzantineRate)
	if err != nil {
		logrus.WithError(err).WithField("round", roundIndex).Warn("cannot compute round schedule")
		return nil, err
	}
	m.cache.Add(roundIndex, schedule)
	logrus.WithField("round", roundIndex).
		WithField("size", schedule.Size()).
		WithField("minPass", schedule.Thresholds.MinPass).
		WithField("minByzantine", schedule.Thresholds.MinByzantine).
		Debug("round schedule computed")
	return schedule, nil
}
