package transport

import (
	"github.com/annchain/ogbft/ffchan"
	"github.com/annchain/ogbft/transport_interface"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/sirupsen/logrus"
	"github.com/tinylib/msgp/msgp"
)

type IoEvent struct {
	Neighbour *Neighbour
	Err       error
	Reason    string
}

// Neighbour owns one stream to a connected peer.
type Neighbour struct {
	Id              peer.ID
	PrettyId        string
	Stream          network.Stream
	IoEventChannel  chan *IoEvent
	IncomingChannel chan *transport_interface.IncomingLetter
	msgpReader      *msgp.Reader
	msgpWriter      *msgp.Writer
	outgoingChannel chan *transport_interface.WireMessage
	quit            chan bool
}

func (c *Neighbour) InitDefault() {
	c.quit = make(chan bool)
	c.outgoingChannel = make(chan *transport_interface.WireMessage, 100)
}

func (c *Neighbour) Start() {
	go c.loopRead()
	go c.loopWrite()
}

func (c *Neighbour) loopRead() {
	var err error
	c.msgpReader = msgp.NewReader(c.Stream)
	for {
		msg := &transport_interface.WireMessage{}
		err = msg.DecodeMsg(c.msgpReader)
		if err != nil {
			logrus.WithError(err).WithField("peer", c.PrettyId).Debug("read error")
			break
		}
		<-ffchan.NewTimeoutSenderShort(c.IncomingChannel, &transport_interface.IncomingLetter{
			Msg:  msg,
			From: c.PrettyId,
		}, "read").C
	}
	c.IoEventChannel <- &IoEvent{
		Neighbour: c,
		Err:       err,
		Reason:    "read",
	}
}

func (c *Neighbour) loopWrite() {
	var err error
	c.msgpWriter = msgp.NewWriter(c.Stream)
loop:
	for {
		select {
		case msg := <-c.outgoingChannel:
			err = msg.EncodeMsg(c.msgpWriter)
			if err != nil {
				break loop
			}
			err = c.msgpWriter.Flush()
			if err != nil {
				break loop
			}
		case <-c.quit:
			return
		}
	}
	c.IoEventChannel <- &IoEvent{
		Neighbour: c,
		Err:       err,
		Reason:    "write",
	}
}

func (c *Neighbour) EnqueueSend(msg *transport_interface.WireMessage) {
	<-ffchan.NewTimeoutSenderShort(c.outgoingChannel, msg, "send").C
}

func (c *Neighbour) CloseOutgoing() {
	close(c.quit)
}
