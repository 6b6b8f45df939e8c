package transport_interface

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

type SendType int

const (
	SendTypeUnicast SendType = iota
	SendTypeMulticast
	SendTypeBroadcast
)

func (s SendType) String() string {
	switch s {
	case SendTypeUnicast:
		return "Unicast"
	case SendTypeMulticast:
		return "Multicast"
	case SendTypeBroadcast:
		return "Broadcast"
	default:
		return fmt.Sprintf("SendType(%d)", int(s))
	}
}

// OutgoingLetter is a send request. EndReceivers is ignored for broadcasts,
// ExceptPeers always applies.
type OutgoingLetter struct {
	MsgType      uint16
	Msg          msgp.Marshaler
	SendType     SendType
	EndReceivers []string
	ExceptPeers  []string
}

func (o *OutgoingLetter) String() string {
	return fmt.Sprintf("[out:%d %s to %s except %s]", o.MsgType, o.SendType, PrettyIds(o.EndReceivers), PrettyIds(o.ExceptPeers))
}

// Wire builds the frame to put on the wire.
func (o *OutgoingLetter) Wire() (*WireMessage, error) {
	content, err := o.Msg.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	return NewWireMessage(o.MsgType, content), nil
}

type IncomingLetter struct {
	Msg  *WireMessage
	From string
}

func (i *IncomingLetter) String() string {
	return fmt.Sprintf("[in:%d from %s]", i.Msg.MsgType, PrettyId(i.From))
}
