package transport

import (
	"sync"

	"github.com/annchain/ogbft/transport_interface"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// DropFunc decides whether a frame from one peer to another is lost.
type DropFunc func(from string, to string, msg *transport_interface.WireMessage) bool

// LocalHub connects LocalCommunicators in the same process.
// Frames are still encoded so peers never share message structs.
type LocalHub struct {
	mu    sync.RWMutex
	peers map[string]*LocalCommunicator
	order []string
	drop  DropFunc
}

func NewLocalHub() *LocalHub {
	return &LocalHub{
		peers: make(map[string]*LocalCommunicator),
	}
}

// SetDropFunc installs a loss filter. nil delivers everything.
func (h *LocalHub) SetDropFunc(f DropFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = f
}

// NewCommunicator registers a new peer with a random id.
func (h *LocalHub) NewCommunicator() *LocalCommunicator {
	return h.NewCommunicatorWithId(uuid.New().String())
}

// NewCommunicatorWithId registers a peer under a known id, replacing any
// peer already holding it.
func (h *LocalHub) NewCommunicatorWithId(id string) *LocalCommunicator {
	h.Remove(id)
	c := &LocalCommunicator{
		hub: h,
		id:  id,
	}
	c.InitDefault()
	h.mu.Lock()
	h.peers[c.id] = c
	h.order = append(h.order, c.id)
	h.mu.Unlock()
	return c
}

func (h *LocalHub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *LocalHub) PeerIds() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, len(h.order))
	copy(ids, h.order)
	return ids
}

func (h *LocalHub) deliver(from string, req *transport_interface.OutgoingLetter, wire *transport_interface.WireMessage) (sent int, dropped int) {
	except := make(map[string]bool, len(req.ExceptPeers)+1)
	except[from] = true
	for _, p := range req.ExceptPeers {
		except[p] = true
	}

	h.mu.RLock()
	var targets []*LocalCommunicator
	if req.SendType == transport_interface.SendTypeBroadcast {
		for _, id := range h.order {
			if !except[id] {
				targets = append(targets, h.peers[id])
			}
		}
	} else {
		for _, id := range req.EndReceivers {
			if except[id] {
				continue
			}
			if p, ok := h.peers[id]; ok {
				targets = append(targets, p)
			} else {
				dropped++
			}
		}
	}
	drop := h.drop
	h.mu.RUnlock()

	for _, t := range targets {
		if drop != nil && drop(from, t.id, wire) {
			dropped++
			continue
		}
		sent++
		t.receive(&transport_interface.IncomingLetter{
			Msg:  wire,
			From: from,
		})
	}
	return
}

// LocalCommunicator is the in-process counterpart of PhysicalCommunicator.
type LocalCommunicator struct {
	hub *LocalHub
	id  string

	outgoingChannel chan *transport_interface.OutgoingLetter
	incomingChannel chan *transport_interface.IncomingLetter

	newIncomingMessageSubscribers []transport_interface.NewIncomingMessageEventSubscriber

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64

	quit     chan bool
	stopOnce sync.Once
}

func (c *LocalCommunicator) InitDefault() {
	c.outgoingChannel = make(chan *transport_interface.OutgoingLetter, 100)
	c.incomingChannel = make(chan *transport_interface.IncomingLetter, 1000)
	c.quit = make(chan bool)
}

func (c *LocalCommunicator) Name() string {
	return "LocalCommunicator"
}

func (c *LocalCommunicator) Id() string {
	return c.id
}

func (c *LocalCommunicator) NewOutgoingMessageEventChannel() chan *transport_interface.OutgoingLetter {
	return c.outgoingChannel
}

func (c *LocalCommunicator) AddSubscriberNewIncomingMessageEvent(sub transport_interface.NewIncomingMessageEventSubscriber) {
	c.newIncomingMessageSubscribers = append(c.newIncomingMessageSubscribers, sub)
}

func (c *LocalCommunicator) Stats() CommunicatorStats {
	return CommunicatorStats{
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
		Dropped:  c.dropped.Load(),
	}
}

func (c *LocalCommunicator) GetBenchmarks() map[string]interface{} {
	return map[string]interface{}{
		"sent":     c.sent.Load(),
		"received": c.received.Load(),
		"dropped":  c.dropped.Load(),
	}
}

func (c *LocalCommunicator) Start() {
	go c.loopSend()
	go c.loopReceive()
}

func (c *LocalCommunicator) Stop() {
	c.stopOnce.Do(func() {
		c.hub.Remove(c.id)
		close(c.quit)
	})
}

func (c *LocalCommunicator) receive(letter *transport_interface.IncomingLetter) {
	select {
	case c.incomingChannel <- letter:
	case <-c.quit:
	default:
		// a full inbox behaves like a lossy link
		c.dropped.Inc()
		logrus.WithField("peer", transport_interface.PrettyId(c.id)).Warn("local inbox full, frame dropped")
	}
}

func (c *LocalCommunicator) loopSend() {
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.outgoingChannel:
			wire, err := req.Wire()
			if err != nil {
				logrus.WithError(err).WithField("letter", req).Warn("failed to encode letter")
				c.dropped.Inc()
				continue
			}
			sent, dropped := c.hub.deliver(c.id, req, wire)
			c.sent.Add(uint64(sent))
			c.dropped.Add(uint64(dropped))
		}
	}
}

func (c *LocalCommunicator) loopReceive() {
	for {
		select {
		case <-c.quit:
			return
		case letter := <-c.incomingChannel:
			c.received.Inc()
			for _, sub := range c.newIncomingMessageSubscribers {
				select {
				case sub.NewIncomingMessageEventChannel() <- letter:
				case <-c.quit:
					return
				}
			}
		}
	}
}
