package transport_interface

type PeerEvent struct {
	PeerId string
}

type PeerConnectedEventSubscriber interface {
	Name() string
	GetPeerConnectedEventChannel() chan *PeerEvent
}

type NewIncomingMessageEventSubscriber interface {
	Name() string
	NewIncomingMessageEventChannel() chan *IncomingLetter
}

type NewOutgoingMessageEventSubscriber interface {
	Name() string
	NewOutgoingMessageEventChannel() chan *OutgoingLetter
}

// Communicator is what the consensus engine needs from a transport.
type Communicator interface {
	NewOutgoingMessageEventSubscriber
	AddSubscriberNewIncomingMessageEvent(sub NewIncomingMessageEventSubscriber)
	// Id is this node's peer id.
	Id() string
}
