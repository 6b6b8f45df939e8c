package transport_interface

import (
	"errors"

	"github.com/golang/snappy"
	"github.com/tinylib/msgp/msgp"
)

// CompressThreshold is the content size above which frames are snappy compressed.
var CompressThreshold = 1024

// MaxFrameSize bounds the payload of a frame, before and after decompression.
var MaxFrameSize = 4 << 20

var ErrFrameTooLarge = errors.New("frame too large")

// WireMessage is the frame exchanged between neighbours.
type WireMessage struct {
	MsgType      uint16
	Compressed   bool
	ContentBytes []byte
}

func NewWireMessage(msgType uint16, content []byte) *WireMessage {
	if len(content) > CompressThreshold {
		return &WireMessage{
			MsgType:      msgType,
			Compressed:   true,
			ContentBytes: snappy.Encode(nil, content),
		}
	}
	return &WireMessage{MsgType: msgType, ContentBytes: content}
}

// Content returns the decompressed payload.
func (z *WireMessage) Content() ([]byte, error) {
	if !z.Compressed {
		return z.ContentBytes, nil
	}
	n, err := snappy.DecodedLen(z.ContentBytes)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return snappy.Decode(nil, z.ContentBytes)
}

// DecodeMsg implements msgp.Decodable
func (z *WireMessage) DecodeMsg(dc *msgp.Reader) (err error) {
	var sz uint32
	sz, err = dc.ReadArrayHeader()
	if err != nil {
		return
	}
	if sz != 3 {
		err = msgp.ArrayError{Wanted: 3, Got: sz}
		return
	}
	z.MsgType, err = dc.ReadUint16()
	if err != nil {
		err = msgp.WrapError(err, "MsgType")
		return
	}
	z.Compressed, err = dc.ReadBool()
	if err != nil {
		err = msgp.WrapError(err, "Compressed")
		return
	}
	var n uint32
	n, err = dc.ReadBytesHeader()
	if err != nil {
		err = msgp.WrapError(err, "ContentBytes")
		return
	}
	if int64(n) > int64(MaxFrameSize) {
		err = ErrFrameTooLarge
		return
	}
	z.ContentBytes = make([]byte, n)
	_, err = dc.ReadFull(z.ContentBytes)
	if err != nil {
		err = msgp.WrapError(err, "ContentBytes")
	}
	return
}

// EncodeMsg implements msgp.Encodable
func (z *WireMessage) EncodeMsg(en *msgp.Writer) (err error) {
	err = en.WriteArrayHeader(3)
	if err != nil {
		return
	}
	err = en.WriteUint16(z.MsgType)
	if err != nil {
		return
	}
	err = en.WriteBool(z.Compressed)
	if err != nil {
		return
	}
	return en.WriteBytes(z.ContentBytes)
}

// MarshalMsg implements msgp.Marshaler
func (z *WireMessage) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 3)
	o = msgp.AppendUint16(o, z.MsgType)
	o = msgp.AppendBool(o, z.Compressed)
	o = msgp.AppendBytes(o, z.ContentBytes)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *WireMessage) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var sz uint32
	sz, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if sz != 3 {
		err = msgp.ArrayError{Wanted: 3, Got: sz}
		return
	}
	z.MsgType, bts, err = msgp.ReadUint16Bytes(bts)
	if err != nil {
		err = msgp.WrapError(err, "MsgType")
		return
	}
	z.Compressed, bts, err = msgp.ReadBoolBytes(bts)
	if err != nil {
		err = msgp.WrapError(err, "Compressed")
		return
	}
	z.ContentBytes, bts, err = msgp.ReadBytesBytes(bts, z.ContentBytes)
	if err != nil {
		err = msgp.WrapError(err, "ContentBytes")
		return
	}
	o = bts
	return
}

func (z *WireMessage) Msgsize() int {
	return msgp.ArrayHeaderSize + msgp.Uint16Size + msgp.BoolSize + msgp.BytesPrefixSize + len(z.ContentBytes)
}
