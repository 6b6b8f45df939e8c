package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/annchain/ogbft/ffchan"
	"github.com/annchain/ogbft/transport_interface"
	"github.com/libp2p/go-libp2p"
	core "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	"github.com/libp2p/go-libp2p-core/protocol"
	swarm "github.com/libp2p/go-libp2p-swarm"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var IpLayerProtocol = "tcp"

var ErrPeerNotActive = errors.New("peer not active")

type CommunicatorStats struct {
	Sent     uint64
	Received uint64
	Dropped  uint64
}

// PhysicalCommunicator carries letters over libp2p streams, one Neighbour per peer.
type PhysicalCommunicator struct {
	Port       int
	ListenIp   string
	PrivateKey core.PrivKey
	ProtocolId string

	node            host.Host
	activePeers     map[peer.ID]*Neighbour
	tryingPeers     map[peer.ID]bool
	incomingChannel chan *transport_interface.IncomingLetter
	outgoingChannel chan *transport_interface.OutgoingLetter
	ioEventChannel  chan *IoEvent

	peerConnectedSubscribers      []transport_interface.PeerConnectedEventSubscriber
	newIncomingMessageSubscribers []transport_interface.NewIncomingMessageEventSubscriber

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64

	initWait sync.WaitGroup
	quit     chan bool
	mu       sync.RWMutex
}

func (c *PhysicalCommunicator) NewOutgoingMessageEventChannel() chan *transport_interface.OutgoingLetter {
	return c.outgoingChannel
}

func (c *PhysicalCommunicator) AddSubscriberNewIncomingMessageEvent(sub transport_interface.NewIncomingMessageEventSubscriber) {
	c.newIncomingMessageSubscribers = append(c.newIncomingMessageSubscribers, sub)
}

func (c *PhysicalCommunicator) notifyNewIncomingMessage(incomingLetter *transport_interface.IncomingLetter) {
	for _, sub := range c.newIncomingMessageSubscribers {
		<-ffchan.NewTimeoutSenderShort(sub.NewIncomingMessageEventChannel(), incomingLetter, "receive message "+sub.Name()).C
	}
}

func (c *PhysicalCommunicator) AddSubscriberPeerConnectedEvent(sub transport_interface.PeerConnectedEventSubscriber) {
	c.peerConnectedSubscribers = append(c.peerConnectedSubscribers, sub)
}

func (c *PhysicalCommunicator) notifyPeerConnected(event *transport_interface.PeerEvent) {
	for _, sub := range c.peerConnectedSubscribers {
		<-ffchan.NewTimeoutSenderShort(sub.GetPeerConnectedEventChannel(), event, "peer connected "+sub.Name()).C
	}
}

func (c *PhysicalCommunicator) Name() string {
	return "PhysicalCommunicator"
}

func (c *PhysicalCommunicator) Id() string {
	id, err := peer.IDFromPrivateKey(c.PrivateKey)
	if err != nil {
		return ""
	}
	return id.String()
}

func (c *PhysicalCommunicator) Stats() CommunicatorStats {
	return CommunicatorStats{
		Sent:     c.sent.Load(),
		Received: c.received.Load(),
		Dropped:  c.dropped.Load(),
	}
}

func (c *PhysicalCommunicator) InitDefault() {
	c.activePeers = make(map[peer.ID]*Neighbour)
	c.tryingPeers = make(map[peer.ID]bool)
	c.outgoingChannel = make(chan *transport_interface.OutgoingLetter)
	c.incomingChannel = make(chan *transport_interface.IncomingLetter)
	c.ioEventChannel = make(chan *IoEvent, 100)
	c.initWait.Add(1)
	c.peerConnectedSubscribers = []transport_interface.PeerConnectedEventSubscriber{}
	c.newIncomingMessageSubscribers = []transport_interface.NewIncomingMessageEventSubscriber{}
	c.quit = make(chan bool)
	if c.ListenIp == "" {
		c.ListenIp = "0.0.0.0"
	}
}

func (c *PhysicalCommunicator) GetBenchmarks() map[string]interface{} {
	return map[string]interface{}{
		"sent":     c.sent.Load(),
		"received": c.received.Load(),
		"dropped":  c.dropped.Load(),
	}
}

func (c *PhysicalCommunicator) Start() {
	go c.listen()
	go c.mainLoopSend()
	go c.mainLoopReceive()
	go c.peerDiscovery()
}

func (c *PhysicalCommunicator) Stop() {
	close(c.quit)
}

func (c *PhysicalCommunicator) peerDiscovery() {
	c.initWait.Wait()
	for {
		select {
		case <-c.quit:
			return
		case <-time.After(time.Second):
			c.pickOneAndConnect()
		}
	}
}

func (c *PhysicalCommunicator) mainLoopSend() {
	c.initWait.Wait()
	for {
		select {
		case <-c.quit:
			c.closeAll()
			return
		case outgoingLetter := <-c.outgoingChannel:
			logrus.WithField("letter", outgoingLetter).Trace("physical communicator got a request from outgoing channel")
			c.handleOutgoing(outgoingLetter)
		case event := <-c.ioEventChannel:
			logrus.WithField("reason", event.Reason).WithError(event.Err).Debug("neighbour down")
			c.closePeer(event.Neighbour.Id)
		}
	}
}

func (c *PhysicalCommunicator) mainLoopReceive() {
	c.initWait.Wait()
	for {
		select {
		case <-c.quit:
			return
		case incomingLetter := <-c.incomingChannel:
			c.received.Inc()
			c.notifyNewIncomingMessage(incomingLetter)
		}
	}
}

func (c *PhysicalCommunicator) makeHost(priv core.PrivKey) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/%s/%d", c.ListenIp, IpLayerProtocol, c.Port)),
		libp2p.Identity(priv),
		libp2p.DisableRelay(),
	}
	return libp2p.New(context.Background(), opts...)
}

func (c *PhysicalCommunicator) printHostInfo(basicHost host.Host) {
	hostAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/p2p/%s", basicHost.ID().Pretty()))
	if err != nil {
		logrus.WithError(err).Warn("failed to build host address")
		return
	}
	for _, addr := range basicHost.Addrs() {
		logrus.WithField("addr", addr.Encapsulate(hostAddr)).Info("my address")
	}
}

func (c *PhysicalCommunicator) listen() {
	h, err := c.makeHost(c.PrivateKey)
	if err != nil {
		logrus.WithError(err).Fatal("failed to start p2p host")
	}
	c.node = h
	c.printHostInfo(c.node)

	c.node.SetStreamHandler(protocol.ID(c.ProtocolId), c.HandlePeerStream)
	c.initWait.Done()
	logrus.Info("waiting for connection...")
	<-c.quit
	err = c.node.Close()
	if err != nil {
		logrus.WithError(err).Warn("closing communicator")
	}
}

func (c *PhysicalCommunicator) HandlePeerStream(s network.Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	peerId := s.Conn().RemotePeer()
	logrus.WithFields(logrus.Fields{
		"peerId":  peerId.String(),
		"address": s.Conn().RemoteMultiaddr().String(),
	}).Info("peer connection established")

	delete(c.tryingPeers, peerId)

	if _, ok := c.activePeers[peerId]; ok {
		err := s.Close()
		if err != nil {
			logrus.WithError(err).Warn("closing duplicate stream")
		}
		return
	}

	neighbour := &Neighbour{
		Id:              peerId,
		PrettyId:        peerId.String(),
		Stream:          s,
		IoEventChannel:  c.ioEventChannel,
		IncomingChannel: c.incomingChannel,
	}
	neighbour.InitDefault()
	c.activePeers[peerId] = neighbour

	go c.notifyPeerConnected(&transport_interface.PeerEvent{
		PeerId: neighbour.PrettyId,
	})

	neighbour.Start()
}

func (c *PhysicalCommunicator) closePeer(id peer.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	neighbour, ok := c.activePeers[id]
	if !ok {
		return
	}

	delete(c.activePeers, neighbour.Id)
	// keep retrying the peer
	c.tryingPeers[neighbour.Id] = true
	err := neighbour.Stream.Close()
	if err != nil {
		logrus.WithError(err).Warn("closing stream")
	}
	neighbour.CloseOutgoing()
}

func (c *PhysicalCommunicator) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, neighbour := range c.activePeers {
		_ = neighbour.Stream.Close()
		neighbour.CloseOutgoing()
		delete(c.activePeers, id)
	}
}

func (c *PhysicalCommunicator) GetNeighbour(id string) (neighbour *Neighbour, err error) {
	idp, err := peer.Decode(id)
	if err != nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	neighbour, ok := c.activePeers[idp]
	if !ok {
		err = ErrPeerNotActive
	}
	return
}

// SuggestConnection takes a full p2p address and keeps trying to connect to it.
func (c *PhysicalCommunicator) SuggestConnection(address string) (peerIds string, err error) {
	c.initWait.Wait()
	logrus.WithField("address", address).Info("registering address")
	fullAddr, err := multiaddr.NewMultiaddr(address)
	if err != nil {
		return
	}

	p2pAddr, err := fullAddr.ValueForProtocol(multiaddr.P_P2P)
	if err != nil {
		return
	}

	protocolAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/p2p/%s", p2pAddr))
	if err != nil {
		return
	}
	connectionAddr := fullAddr.Decapsulate(protocolAddr)

	peerId, err := peer.Decode(p2pAddr)
	if err != nil {
		return
	}
	peerIds = peerId.String()

	if peerId == c.node.ID() {
		return
	}

	c.node.Peerstore().AddAddr(peerId, connectionAddr, peerstore.PermanentAddrTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.activePeers[peerId]; ok {
		return
	}
	c.tryingPeers[peerId] = true
	return
}

func (c *PhysicalCommunicator) handleOutgoing(req *transport_interface.OutgoingLetter) {
	wire, err := req.Wire()
	if err != nil {
		logrus.WithError(err).WithField("letter", req).Warn("failed to encode letter")
		c.dropped.Inc()
		return
	}
	except := make(map[string]bool, len(req.ExceptPeers))
	for _, p := range req.ExceptPeers {
		except[p] = true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if req.SendType == transport_interface.SendTypeBroadcast {
		for _, neighbour := range c.activePeers {
			if except[neighbour.PrettyId] {
				continue
			}
			c.sent.Inc()
			neighbour.EnqueueSend(wire)
		}
		return
	}
	for _, peerIdEncoded := range req.EndReceivers {
		if except[peerIdEncoded] {
			continue
		}
		peerId, err := peer.Decode(peerIdEncoded)
		if err != nil {
			logrus.WithError(err).WithField("peerId", peerIdEncoded).Warn("decoding peer")
			c.dropped.Inc()
			continue
		}
		neighbour, ok := c.activePeers[peerId]
		if !ok {
			// connections are built ahead from the bootstrap list
			logrus.WithField("peerId", peerIdEncoded).Trace("connection not in active peers")
			c.dropped.Inc()
			continue
		}
		c.sent.Inc()
		neighbour.EnqueueSend(wire)
	}
}

func (c *PhysicalCommunicator) pickOneAndConnect() {
	c.mu.RLock()
	if len(c.tryingPeers) == 0 {
		c.mu.RUnlock()
		return
	}
	peerIds := make([]peer.ID, 0, len(c.tryingPeers))
	for k := range c.tryingPeers {
		peerIds = append(peerIds, k)
	}
	c.mu.RUnlock()

	peerId := peerIds[rand.Intn(len(peerIds))]

	logrus.WithField("peerId", peerId).Trace("connecting peer")

	s, err := c.node.NewStream(context.Background(), peerId, protocol.ID(c.ProtocolId))
	if err != nil {
		if err != swarm.ErrDialBackoff {
			logrus.WithError(err).WithField("peerId", peerId).Debug("error on starting stream")
		}
		return
	}
	c.HandlePeerStream(s)
}
