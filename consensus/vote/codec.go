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
package vote

// Tuple msgpack codec of the vote messages. Every message is a fixed-length
// array; hashes are 32 byte bins, signatures length prefixed bins.

import (
	"fmt"

	"github.com/annchain/ogbft/common"
	"github.com/tinylib/msgp/msgp"
)

const hashSize = msgp.BytesPrefixSize + common.HashLength

func appendHash(o []byte, h common.Hash) []byte {
	return msgp.AppendBytes(o, h.Bytes[:])
}

func readHash(bts []byte, h *common.Hash) ([]byte, error) {
	return msgp.ReadExactBytes(bts, h.Bytes[:])
}

func readTupleHeader(bts []byte, want uint32, field string) ([]byte, error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err, field)
	}
	if sz != want {
		return bts, msgp.WrapError(msgp.ArrayError{Wanted: want, Got: sz}, field)
	}
	return o, nil
}

// MaxListLen bounds the signature and item lists accepted from the wire.
const MaxListLen = 1024

// readListHeader reads a list length that is safe to allocate: it never
// exceeds MaxListLen nor the bytes left, as every entry takes at least one.
func readListHeader(bts []byte, field string) (uint32, []byte, error) {
	n, o, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return 0, bts, msgp.WrapError(err, field)
	}
	if n > MaxListLen || int64(n) > int64(len(o)) {
		return 0, bts, fmt.Errorf("%w: %s declares %d entries with %d bytes left", ErrProtocol, field, n, len(o))
	}
	return n, o, nil
}

func readStage(bts []byte, s *Stage) ([]byte, error) {
	v, o, err := msgp.ReadUint8Bytes(bts)
	if err != nil {
		return bts, err
	}
	*s = Stage(v)
	return o, nil
}

// MarshalMsg implements msgp.Marshaler
func (z *BallotSignature) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 2)
	o = msgp.AppendBytes(o, z.PublicKey)
	o = msgp.AppendBytes(o, z.Signature)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *BallotSignature) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if bts, err = readTupleHeader(bts, 2, "BallotSignature"); err != nil {
		return
	}
	if z.PublicKey, bts, err = msgp.ReadBytesBytes(bts, z.PublicKey); err != nil {
		err = msgp.WrapError(err, "PublicKey")
		return
	}
	if z.Signature, bts, err = msgp.ReadBytesBytes(bts, z.Signature); err != nil {
		err = msgp.WrapError(err, "Signature")
		return
	}
	o = bts
	return
}

func (z *BallotSignature) Msgsize() int {
	return msgp.ArrayHeaderSize + msgp.BytesPrefixSize + len(z.PublicKey) + msgp.BytesPrefixSize + len(z.Signature)
}

// MarshalMsg implements msgp.Marshaler
func (z *VoteMessage) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 8)
	o = msgp.AppendUint64(o, z.Height)
	o = msgp.AppendUint64(o, z.Round)
	o = msgp.AppendUint32(o, z.PackingIndex)
	o = msgp.AppendUint8(o, z.VoteRound)
	o = msgp.AppendUint8(o, uint8(z.Stage))
	o = appendHash(o, z.BlockHash)
	o = appendHash(o, z.ForkHash)
	return z.Signature.MarshalMsg(o)
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *VoteMessage) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if bts, err = readTupleHeader(bts, 8, "VoteMessage"); err != nil {
		return
	}
	if z.Height, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Height")
		return
	}
	if z.Round, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Round")
		return
	}
	if z.PackingIndex, bts, err = msgp.ReadUint32Bytes(bts); err != nil {
		err = msgp.WrapError(err, "PackingIndex")
		return
	}
	if z.VoteRound, bts, err = msgp.ReadUint8Bytes(bts); err != nil {
		err = msgp.WrapError(err, "VoteRound")
		return
	}
	if bts, err = readStage(bts, &z.Stage); err != nil {
		err = msgp.WrapError(err, "Stage")
		return
	}
	if bts, err = readHash(bts, &z.BlockHash); err != nil {
		err = msgp.WrapError(err, "BlockHash")
		return
	}
	if bts, err = readHash(bts, &z.ForkHash); err != nil {
		err = msgp.WrapError(err, "ForkHash")
		return
	}
	if bts, err = z.Signature.UnmarshalMsg(bts); err != nil {
		err = msgp.WrapError(err, "Signature")
		return
	}
	o = bts
	return
}

func (z *VoteMessage) Msgsize() int {
	return msgp.ArrayHeaderSize + 2*msgp.Uint64Size + msgp.Uint32Size + 2*msgp.Uint8Size + 2*hashSize + z.Signature.Msgsize()
}

// MarshalMsg implements msgp.Marshaler
func (z *VoteResultItem) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 8)
	o = msgp.AppendUint64(o, z.Height)
	o = msgp.AppendUint64(o, z.Round)
	o = msgp.AppendUint32(o, z.PackingIndex)
	o = msgp.AppendUint8(o, z.VoteRound)
	o = msgp.AppendUint8(o, uint8(z.Stage))
	o = appendHash(o, z.BlockHash)
	o = appendHash(o, z.ForkHash)
	o = msgp.AppendArrayHeader(o, uint32(len(z.Signatures)))
	for i := range z.Signatures {
		if o, err = z.Signatures[i].MarshalMsg(o); err != nil {
			err = msgp.WrapError(err, "Signatures", i)
			return
		}
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *VoteResultItem) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if bts, err = readTupleHeader(bts, 8, "VoteResultItem"); err != nil {
		return
	}
	if z.Height, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Height")
		return
	}
	if z.Round, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Round")
		return
	}
	if z.PackingIndex, bts, err = msgp.ReadUint32Bytes(bts); err != nil {
		err = msgp.WrapError(err, "PackingIndex")
		return
	}
	if z.VoteRound, bts, err = msgp.ReadUint8Bytes(bts); err != nil {
		err = msgp.WrapError(err, "VoteRound")
		return
	}
	if bts, err = readStage(bts, &z.Stage); err != nil {
		err = msgp.WrapError(err, "Stage")
		return
	}
	if bts, err = readHash(bts, &z.BlockHash); err != nil {
		err = msgp.WrapError(err, "BlockHash")
		return
	}
	if bts, err = readHash(bts, &z.ForkHash); err != nil {
		err = msgp.WrapError(err, "ForkHash")
		return
	}
	var n uint32
	if n, bts, err = readListHeader(bts, "Signatures"); err != nil {
		return
	}
	z.Signatures = make([]BallotSignature, n)
	for i := range z.Signatures {
		if bts, err = z.Signatures[i].UnmarshalMsg(bts); err != nil {
			err = msgp.WrapError(err, "Signatures", i)
			return
		}
	}
	o = bts
	return
}

func (z *VoteResultItem) Msgsize() int {
	s := msgp.ArrayHeaderSize + 2*msgp.Uint64Size + msgp.Uint32Size + 2*msgp.Uint8Size + 2*hashSize + msgp.ArrayHeaderSize
	for i := range z.Signatures {
		s += z.Signatures[i].Msgsize()
	}
	return s
}

// MarshalMsg implements msgp.Marshaler
func (z *VoteResult) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 2)
	o = msgp.AppendUint8(o, uint8(z.Outcome))
	o = msgp.AppendArrayHeader(o, uint32(len(z.Items)))
	for i, item := range z.Items {
		if item == nil {
			o = msgp.AppendNil(o)
			continue
		}
		if o, err = item.MarshalMsg(o); err != nil {
			err = msgp.WrapError(err, "Items", i)
			return
		}
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *VoteResult) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if bts, err = readTupleHeader(bts, 2, "VoteResult"); err != nil {
		return
	}
	var outcome uint8
	if outcome, bts, err = msgp.ReadUint8Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Outcome")
		return
	}
	z.Outcome = Outcome(outcome)
	var n uint32
	if n, bts, err = readListHeader(bts, "Items"); err != nil {
		return
	}
	z.Items = make([]*VoteResultItem, n)
	for i := range z.Items {
		if msgp.IsNil(bts) {
			if bts, err = msgp.ReadNilBytes(bts); err != nil {
				return
			}
			continue
		}
		z.Items[i] = &VoteResultItem{}
		if bts, err = z.Items[i].UnmarshalMsg(bts); err != nil {
			err = msgp.WrapError(err, "Items", i)
			return
		}
	}
	o = bts
	return
}

func (z *VoteResult) Msgsize() int {
	s := msgp.ArrayHeaderSize + msgp.Uint8Size + msgp.ArrayHeaderSize
	for _, item := range z.Items {
		if item == nil {
			s += msgp.NilSize
			continue
		}
		s += item.Msgsize()
	}
	return s
}

// MarshalMsg implements msgp.Marshaler
func (z *GetVoteResultMessage) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 4)
	o = msgp.AppendUint64(o, z.Height)
	o = msgp.AppendUint64(o, z.Round)
	o = msgp.AppendUint32(o, z.PackingIndex)
	o = msgp.AppendUint8(o, z.VoteRound)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *GetVoteResultMessage) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if bts, err = readTupleHeader(bts, 4, "GetVoteResultMessage"); err != nil {
		return
	}
	if z.Height, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Height")
		return
	}
	if z.Round, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Round")
		return
	}
	if z.PackingIndex, bts, err = msgp.ReadUint32Bytes(bts); err != nil {
		err = msgp.WrapError(err, "PackingIndex")
		return
	}
	if z.VoteRound, bts, err = msgp.ReadUint8Bytes(bts); err != nil {
		err = msgp.WrapError(err, "VoteRound")
		return
	}
	o = bts
	return
}

func (z *GetVoteResultMessage) Msgsize() int {
	return msgp.ArrayHeaderSize + 2*msgp.Uint64Size + msgp.Uint32Size + msgp.Uint8Size
}

// MarshalMsg implements msgp.Marshaler
func (z *CandidateMessage) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendArrayHeader(o, 5)
	o = msgp.AppendUint64(o, z.Height)
	o = msgp.AppendUint64(o, z.Round)
	o = msgp.AppendUint32(o, z.PackingIndex)
	o = appendHash(o, z.BlockHash)
	return z.Signature.MarshalMsg(o)
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *CandidateMessage) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if bts, err = readTupleHeader(bts, 5, "CandidateMessage"); err != nil {
		return
	}
	if z.Height, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Height")
		return
	}
	if z.Round, bts, err = msgp.ReadUint64Bytes(bts); err != nil {
		err = msgp.WrapError(err, "Round")
		return
	}
	if z.PackingIndex, bts, err = msgp.ReadUint32Bytes(bts); err != nil {
		err = msgp.WrapError(err, "PackingIndex")
		return
	}
	if bts, err = readHash(bts, &z.BlockHash); err != nil {
		err = msgp.WrapError(err, "BlockHash")
		return
	}
	if bts, err = z.Signature.UnmarshalMsg(bts); err != nil {
		err = msgp.WrapError(err, "Signature")
		return
	}
	o = bts
	return
}

func (z *CandidateMessage) Msgsize() int {
	return msgp.ArrayHeaderSize + 2*msgp.Uint64Size + msgp.Uint32Size + hashSize + z.Signature.Msgsize()
}
