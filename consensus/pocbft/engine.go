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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annchain/gcache"
	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/common/goroutine"
	"github.com/annchain/ogbft/consensus/model"
	"github.com/annchain/ogbft/consensus/round"
	"github.com/annchain/ogbft/consensus/vote"
	"github.com/annchain/ogbft/ffchan"
	"github.com/annchain/ogbft/ogdb"
	"github.com/annchain/ogbft/transport_interface"
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/tinylib/msgp/msgp"
	"go.uber.org/atomic"
)

type resultLetter struct {
	result *vote.VoteResult
	from   string
}

type EngineStats struct {
	BallotsAccepted  uint64
	BallotsDropped   uint64
	ResultsAccepted  uint64
	ResultsRejected  uint64
	Relayed          uint64
	SessionsFinished uint64
	ResultsServed    uint64
}

type engineStats struct {
	ballotsAccepted  atomic.Uint64
	ballotsDropped   atomic.Uint64
	resultsAccepted  atomic.Uint64
	resultsRejected  atomic.Uint64
	relayed          atomic.Uint64
	sessionsFinished atomic.Uint64
	resultsServed    atomic.Uint64
}

// Engine runs the two-stage vote for one node. It owns the session
// controller, the caches and the workers feeding them.
type Engine struct {
	Config       Config
	Signer       crypto.Signer
	Account      *crypto.Account
	Committee    model.CommitteeProvider
	Assembler    model.BlockAssembler
	Database     ogdb.Database
	Communicator transport_interface.Communicator

	rounds     *round.Manager
	future     *vote.FutureCache
	controller *Controller
	verifier   *Verifier
	store      *ResultStore
	seen       gcache.Cache

	incoming      chan *transport_interface.IncomingLetter
	stageOneQueue chan *vote.Received
	stageTwoQueue chan *vote.Received
	resultQueue   chan *resultLetter

	fetchCursor int
	running     atomic.Bool
	stats       engineStats

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan bool
}

func (e *Engine) InitDefault() {
	e.rounds = &round.Manager{
		Config: round.ManagerConfig{
			ByzantineRate:   e.Config.ByzantineRate,
			PackingInterval: e.Config.PackingInterval,
			CacheSize:       e.Config.ScheduleCacheSize,
		},
		Provider: e.Committee,
	}
	e.rounds.InitDefault()
	e.future = vote.NewFutureCache()
	e.controller = NewController(e.rounds, e.future)
	e.verifier = &Verifier{Signer: e.Signer}
	store, err := NewResultStore(e.Database, e.Config.ResultCacheSize)
	if err != nil {
		panic(err)
	}
	e.store = store
	e.seen = gcache.New(e.Config.RelayCacheSize).LRU().Expiration(e.Config.RelayCacheExpire).Build()

	e.incoming = make(chan *transport_interface.IncomingLetter, e.Config.QueueSize)
	e.stageOneQueue = make(chan *vote.Received, e.Config.QueueSize)
	e.stageTwoQueue = make(chan *vote.Received, e.Config.QueueSize)
	e.resultQueue = make(chan *resultLetter, e.Config.QueueSize)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.quit = make(chan bool)
}

func (e *Engine) Name() string {
	return "PocBftEngine"
}

func (e *Engine) NewIncomingMessageEventChannel() chan *transport_interface.IncomingLetter {
	return e.incoming
}

func (e *Engine) Controller() *Controller {
	return e.controller
}

func (e *Engine) Store() *ResultStore {
	return e.store
}

func (e *Engine) Running() bool {
	return e.running.Load()
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		BallotsAccepted:  e.stats.ballotsAccepted.Load(),
		BallotsDropped:   e.stats.ballotsDropped.Load(),
		ResultsAccepted:  e.stats.resultsAccepted.Load(),
		ResultsRejected:  e.stats.resultsRejected.Load(),
		Relayed:          e.stats.relayed.Load(),
		SessionsFinished: e.stats.sessionsFinished.Load(),
		ResultsServed:    e.stats.resultsServed.Load(),
	}
}

func (e *Engine) GetBenchmarks() map[string]interface{} {
	s := e.Stats()
	data := map[string]interface{}{
		"ballotsAccepted":  s.BallotsAccepted,
		"ballotsDropped":   s.BallotsDropped,
		"resultsAccepted":  s.ResultsAccepted,
		"resultsRejected":  s.ResultsRejected,
		"relayed":          s.Relayed,
		"sessionsFinished": s.SessionsFinished,
		"resultsServed":    s.ResultsServed,
		"future":           e.future.Len(),
	}
	if pos, ok := e.controller.Position(); ok {
		data["position"] = pos.String()
	}
	return data
}

// Start resumes after the last finished slot, or starts at slot 0_0.
func (e *Engine) Start() {
	if !e.running.CAS(false, true) {
		return
	}
	height := e.Assembler.CurrentHeight() + 1
	last, ok, err := e.store.LastFinished()
	if err != nil {
		logrus.WithError(err).Warn("cannot read last finished position, starting over")
	}
	var ds []Decision
	if ok {
		logrus.WithField("last", last).Info("resuming consensus")
		ds, err = e.controller.Resume(last, height)
	} else {
		ds, err = e.controller.Start(height, model.ConsensusKey{})
	}
	if err != nil {
		logrus.WithError(err).Warn("first session not started, will retry")
	}
	e.handleDecisions(ds)

	goroutine.New(e.loopDispatch)
	goroutine.New(func() { e.loopBallots(e.stageOneQueue) })
	goroutine.New(func() { e.loopBallots(e.stageTwoQueue) })
	goroutine.New(e.loopResults)
	goroutine.New(e.loopDriver)
	goroutine.New(e.loopFutureCheck)
	logrus.WithField("address", e.Account.Address.ShortString()).Info("consensus engine started")
}

func (e *Engine) Stop() {
	if !e.running.CAS(true, false) {
		return
	}
	e.cancel()
	close(e.quit)
	logrus.Debug(e.DumpState())
	logrus.Info("consensus engine stopped")
}

// DumpState renders the engine state for debugging.
func (e *Engine) DumpState() string {
	return fmt.Sprintf("%s\nfuture slots: %v\n%s", e.controller.Describe(), e.future.Keys(), spew.Sdump(e.Stats()))
}

// OnBlockPersisted is called by the block assembler once the block
// confirmed at (height, key) is stored.
func (e *Engine) OnBlockPersisted(height uint64, key model.ConsensusKey) {
	pos := vote.Position{Height: height, Key: key}
	if err := e.store.SetLastFinished(pos); err != nil {
		logrus.WithError(err).Warn("failed to persist last finished position")
	}
	ds, advanced, err := e.controller.AdvanceToNextBlock(pos, height+1)
	if err != nil {
		logrus.WithError(err).WithField("pos", pos).Warn("next session not started")
	}
	if advanced {
		logrus.WithField("height", height).WithField("key", key).Debug("advanced to next block")
	}
	e.handleDecisions(ds)
}

func (e *Engine) enqueue(channel interface{}, val interface{}, name string) {
	select {
	case <-ffchan.NewTimeoutSenderShort(channel, val, name).C:
	case <-e.quit:
	}
}

func (e *Engine) send(letter *transport_interface.OutgoingLetter) {
	e.enqueue(e.Communicator.NewOutgoingMessageEventChannel(), letter, "outgoing "+e.Name())
}

// multicast sends msg to every member of schedule but except. Without a
// schedule it falls back to a broadcast.
func (e *Engine) multicast(msgType vote.MessageType, msg msgp.Marshaler, schedule *round.Schedule, except ...string) {
	except = append(except, e.Communicator.Id())
	letter := &transport_interface.OutgoingLetter{
		MsgType:     uint16(msgType),
		Msg:         msg,
		SendType:    transport_interface.SendTypeBroadcast,
		ExceptPeers: except,
	}
	if schedule != nil {
		letter.SendType = transport_interface.SendTypeMulticast
		letter.EndReceivers = schedule.PeerIds(except...)
		if len(letter.EndReceivers) == 0 {
			return
		}
	}
	e.send(letter)
}

func (e *Engine) unicast(msgType vote.MessageType, msg msgp.Marshaler, peer string) {
	e.send(&transport_interface.OutgoingLetter{
		MsgType:      uint16(msgType),
		Msg:          msg,
		SendType:     transport_interface.SendTypeUnicast,
		EndReceivers: []string{peer},
	})
}

// handleDecisions stores every decided result and acts on final ones.
func (e *Engine) handleDecisions(ds []Decision) {
	for len(ds) > 0 {
		d := ds[0]
		ds = ds[1:]
		if err := e.store.Put(d.Result); err != nil {
			logrus.WithError(err).WithField("result", d.Result).Warn("failed to store vote result")
		}
		if d.Final {
			ds = append(ds, e.onFinal(d)...)
		}
	}
}

func (e *Engine) onFinal(d Decision) []Decision {
	r := d.Result
	pos := vote.Position{Height: r.Height(), Key: r.Key(), VoteRound: r.VoteRound()}
	candidate, _ := r.Confirmed()
	logrus.WithField("pos", pos).
		WithField("finish", r.Finish()).
		WithField("candidate", candidate).
		WithField("future", d.Future).
		Info("session finished")

	if r.Finish() == vote.FinishEmptyConfirmed {
		current, _ := e.controller.Position()
		if d.Future && pos.Height != current.Height {
			// an empty slot at another height says nothing about ours
			return nil
		}
		if !d.Future {
			e.stats.sessionsFinished.Inc()
		}
		if err := e.store.SetLastFinished(pos); err != nil {
			logrus.WithError(err).Warn("failed to persist last finished position")
		}
		ds, _, err := e.controller.AdvancePastEmpty(pos)
		if err != nil {
			logrus.WithError(err).WithField("pos", pos).Warn("next session not started")
		}
		return ds
	}

	if d.Future && pos.Height != e.Assembler.CurrentHeight()+1 {
		// only the next block can be appended without a gap
		return nil
	}
	if !d.Future {
		e.stats.sessionsFinished.Inc()
	}
	event := model.ConfirmedEvent{
		Height:     pos.Height,
		Key:        pos.Key,
		VoteRound:  pos.VoteRound,
		Hash:       candidate.Hash,
		FromFuture: d.Future,
	}
	if candidate.IsFork() {
		event.Forked = true
		event.ForkFirst = candidate.Hash
		event.ForkSecond = candidate.ForkHash
	}
	e.Assembler.ByzantineConfirmed(event)
	return nil
}

// logDrop logs a rejected message at the level its kind deserves.
func (e *Engine) logDrop(err error, from string, msg fmt.Stringer) {
	entry := logrus.WithError(err).WithField("msg", msg).WithField("from", transport_interface.PrettyId(from))
	switch {
	case errors.Is(err, vote.ErrDuplicateVote), errors.Is(err, vote.ErrAlreadyDecided):
		entry.Trace("duplicate dropped")
	case errors.Is(err, vote.ErrStaleVote):
		entry.Warn("stale message dropped")
	case errors.Is(err, vote.ErrSignatureInvalid), errors.Is(err, vote.ErrNotCommitteeMember), errors.Is(err, vote.ErrThresholdNotMet):
		entry.Warn("possible malicious peer, message dropped")
	case errors.Is(err, vote.ErrProtocol):
		entry.Warn("malformed message dropped")
	default:
		entry.Warn("message dropped")
	}
}

// waitFor blocks until one of ready fires, over fires, d elapses or the engine stops.
func (e *Engine) waitFor(d time.Duration, over <-chan struct{}, ready ...<-chan struct{}) waitResult {
	timer := time.NewTimer(d)
	defer timer.Stop()
	var r0, r1 <-chan struct{}
	if len(ready) > 0 {
		r0 = ready[0]
	}
	if len(ready) > 1 {
		r1 = ready[1]
	}
	select {
	case <-r0:
		return waitReady
	case <-r1:
		return waitReady
	case <-over:
		return waitOver
	case <-timer.C:
		return waitTimeout
	case <-e.quit:
		return waitQuit
	}
}

type waitResult int

const (
	waitReady waitResult = iota
	waitOver
	waitTimeout
	waitQuit
)
