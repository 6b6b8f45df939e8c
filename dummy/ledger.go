package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/common/goroutine"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/ogdb"
	"github.com/sirupsen/logrus"
)

var ledgerHeightKey = []byte("ledger_height")

func blockKey(height uint64) []byte {
	return []byte("block_" + strconv.FormatUint(height, 10))
}

// BlockContent simulates a block: its hash commits to the slot and producer.
type BlockContent struct {
	Height       uint64
	Round        uint64
	PackingIndex uint32
	Producer     string
	Timestamp    int64
}

func (b *BlockContent) GetHash() common.Hash {
	bytes, err := json.Marshal(b)
	if err != nil {
		panic(err)
	}
	return common.Sha256Hash(bytes)
}

// Ledger is an in-process block assembler. Confirmed blocks are persisted
// by a background loop which then reports back through Persisted.
type Ledger struct {
	Database     ogdb.Database
	Producer     string
	ProduceDelay time.Duration
	// Persisted is called once a confirmed block is stored.
	Persisted func(height uint64, key model.ConsensusKey)

	mu        sync.RWMutex
	height    uint64
	produced  map[common.Hash]*BlockContent
	confirmed chan model.ConfirmedEvent
	quit      chan bool
}

func (d *Ledger) InitDefault() {
	d.produced = make(map[common.Hash]*BlockContent)
	d.confirmed = make(chan model.ConfirmedEvent, 100)
	d.quit = make(chan bool)
	bytes, err := d.Database.Get(ledgerHeightKey)
	if err == nil {
		h, err := strconv.ParseUint(string(bytes), 10, 64)
		if err == nil {
			d.height = h
		}
	}
}

func (d *Ledger) Name() string {
	return "DummyLedger"
}

func (d *Ledger) Start() {
	goroutine.New(d.loop)
}

func (d *Ledger) Stop() {
	close(d.quit)
}

func (d *Ledger) CurrentHeight() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.height
}

func (d *Ledger) ProduceCandidate(ctx context.Context, height uint64, key model.ConsensusKey) (common.Hash, error) {
	if d.ProduceDelay > 0 {
		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case <-time.After(d.ProduceDelay):
		}
	}
	if current := d.CurrentHeight(); height != current+1 {
		return common.Hash{}, fmt.Errorf("cannot build block %d on top of %d", height, current)
	}
	block := &BlockContent{
		Height:       height,
		Round:        key.Round,
		PackingIndex: key.PackingIndex,
		Producer:     d.Producer,
		Timestamp:    time.Now().UnixNano(),
	}
	hash := block.GetHash()
	d.mu.Lock()
	d.produced[hash] = block
	d.mu.Unlock()
	return hash, nil
}

func (d *Ledger) ByzantineConfirmed(event model.ConfirmedEvent) {
	select {
	case d.confirmed <- event:
	case <-d.quit:
	}
}

// BlockHash returns the persisted hash at height.
func (d *Ledger) BlockHash(height uint64) (common.Hash, bool) {
	bytes, err := d.Database.Get(blockKey(height))
	if err != nil {
		return common.Hash{}, false
	}
	return common.BytesToHash(bytes), true
}

func (d *Ledger) loop() {
	for {
		select {
		case <-d.quit:
			return
		case event := <-d.confirmed:
			d.persist(event)
		}
	}
}

func (d *Ledger) persist(event model.ConfirmedEvent) {
	hash := event.Hash
	if event.Forked {
		// chain selection: the lower hash wins
		hash = event.ForkFirst
		if event.ForkSecond.Cmp(hash) < 0 {
			hash = event.ForkSecond
		}
	}
	d.mu.Lock()
	if event.Height <= d.height {
		d.mu.Unlock()
		logrus.WithField("height", event.Height).Debug("block already persisted")
		return
	}
	if event.Height != d.height+1 {
		current := d.height
		d.mu.Unlock()
		logrus.WithField("height", event.Height).
			WithField("current", current).
			Warn("non-contiguous block refused")
		return
	}
	if err := d.Database.Put(blockKey(event.Height), hash.ToBytes()); err != nil {
		d.mu.Unlock()
		logrus.WithError(err).Error("failed to persist block")
		return
	}
	d.height = event.Height
	if err := d.Database.Put(ledgerHeightKey, []byte(strconv.FormatUint(d.height, 10))); err != nil {
		logrus.WithError(err).Warn("failed to persist ledger height")
	}
	for h, b := range d.produced {
		if b.Height <= d.height {
			delete(d.produced, h)
		}
	}
	d.mu.Unlock()

	logrus.WithField("height", event.Height).
		WithField("hash", hash).
		WithField("key", event.Key).
		WithField("synced", event.FromFuture).
		Info("block persisted")
	if d.Persisted != nil {
		d.Persisted(event.Height, event.Key)
	}
}
