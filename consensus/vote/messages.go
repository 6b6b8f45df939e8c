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

import (
	"fmt"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/common/byteutil"
	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/consensus/model"
)

type MessageType uint16

const (
	MessageTypeVote MessageType = iota + 1
	MessageTypeVoteResult
	MessageTypeGetVoteResult
	MessageTypeCandidate
)

func (m MessageType) String() string {
	switch m {
	case MessageTypeVote:
		return "Vote"
	case MessageTypeVoteResult:
		return "VoteResult"
	case MessageTypeGetVoteResult:
		return "GetVoteResult"
	case MessageTypeCandidate:
		return "Candidate"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(m))
	}
}

// Candidate is what a ballot votes for. ForkHash is set when the packer
// signed a second, different block for the same slot.
type Candidate struct {
	Hash     common.Hash
	ForkHash common.Hash
}

var EmptyCandidate = Candidate{}

func (c Candidate) IsEmpty() bool {
	return c == EmptyCandidate
}

func (c Candidate) IsFork() bool {
	return !c.ForkHash.Empty()
}

func (c Candidate) String() string {
	if c.IsFork() {
		return fmt.Sprintf("fork(%s,%s)", c.Hash, c.ForkHash)
	}
	return c.Hash.String()
}

type BallotSignature struct {
	PublicKey []byte
	Signature []byte
}

// Signer recovers the address of the ballot signer.
func (b BallotSignature) Signer(signer crypto.Signer) common.Address {
	return signer.Address(crypto.PublicKeyFromBytes(signer.GetCryptoType(), b.PublicKey))
}

// Verify checks the signature over digest.
func (b BallotSignature) Verify(signer crypto.Signer, digest common.Hash) bool {
	pub := crypto.PublicKeyFromBytes(signer.GetCryptoType(), b.PublicKey)
	sig := crypto.SignatureFromBytes(signer.GetCryptoType(), b.Signature)
	return signer.Verify(pub, sig, digest.ToBytes())
}

func ballotDigest(height uint64, key model.ConsensusKey, voteRound uint8, stage Stage, candidate Candidate) common.Hash {
	w := byteutil.NewBinaryWriter()
	w.Write(height, key.Round, key.PackingIndex, voteRound, uint8(stage), candidate.Hash.Bytes, candidate.ForkHash.Bytes)
	return common.Sha256Hash(w.Bytes())
}

// VoteMessage is one signed ballot.
type VoteMessage struct {
	Height       uint64
	Round        uint64
	PackingIndex uint32
	VoteRound    uint8
	Stage        Stage
	BlockHash    common.Hash
	ForkHash     common.Hash
	Signature    BallotSignature
}

func (m *VoteMessage) Key() model.ConsensusKey {
	return model.ConsensusKey{Round: m.Round, PackingIndex: m.PackingIndex}
}

func (m *VoteMessage) Candidate() Candidate {
	return Candidate{Hash: m.BlockHash, ForkHash: m.ForkHash}
}

// Digest is the signed content of the ballot.
func (m *VoteMessage) Digest() common.Hash {
	return ballotDigest(m.Height, m.Key(), m.VoteRound, m.Stage, m.Candidate())
}

func (m *VoteMessage) Sign(signer crypto.Signer, account *crypto.Account) {
	sig := signer.Sign(account.PrivateKey, m.Digest().ToBytes())
	m.Signature = BallotSignature{
		PublicKey: account.PublicKey.Bytes,
		Signature: sig.Bytes,
	}
}

func (m *VoteMessage) Validate() error {
	if !m.Stage.Valid() {
		return protocolError("unknown stage %d", m.Stage)
	}
	if m.VoteRound == FinalVoteRound {
		return protocolError("vote round %d is reserved", m.VoteRound)
	}
	if m.BlockHash.Empty() && !m.ForkHash.Empty() {
		return protocolError("fork evidence without a block")
	}
	if len(m.Signature.PublicKey) == 0 || len(m.Signature.Signature) == 0 {
		return protocolError("unsigned ballot")
	}
	return nil
}

func (m *VoteMessage) String() string {
	return fmt.Sprintf("vote[h%d %s vr%d %s %s]", m.Height, m.Key(), m.VoteRound, m.Stage, m.Candidate())
}

// VoteResultItem holds the signatures gathered for one candidate.
type VoteResultItem struct {
	Height       uint64
	Round        uint64
	PackingIndex uint32
	VoteRound    uint8
	Stage        Stage
	BlockHash    common.Hash
	ForkHash     common.Hash
	Signatures   []BallotSignature
}

func (i *VoteResultItem) Key() model.ConsensusKey {
	return model.ConsensusKey{Round: i.Round, PackingIndex: i.PackingIndex}
}

func (i *VoteResultItem) Candidate() Candidate {
	return Candidate{Hash: i.BlockHash, ForkHash: i.ForkHash}
}

// Digest equals the digest of every ballot aggregated into the item.
func (i *VoteResultItem) Digest() common.Hash {
	return ballotDigest(i.Height, i.Key(), i.VoteRound, i.Stage, i.Candidate())
}

// VoteResult is the decided outcome of one (vote-round, stage). On the wire
// it is the VoteResultMessage.
type VoteResult struct {
	Outcome Outcome
	Items   []*VoteResultItem
}

func (r *VoteResult) first() *VoteResultItem {
	return r.Items[0]
}

func (r *VoteResult) Height() uint64 {
	return r.first().Height
}

func (r *VoteResult) Key() model.ConsensusKey {
	return r.first().Key()
}

func (r *VoteResult) VoteRound() uint8 {
	return r.first().VoteRound
}

func (r *VoteResult) Stage() Stage {
	return r.first().Stage
}

// Confirmed returns the winning candidate of a confirmed result.
func (r *VoteResult) Confirmed() (Candidate, bool) {
	if r.Outcome != OutcomeConfirmed {
		return Candidate{}, false
	}
	return r.first().Candidate(), true
}

// IsFinal tells whether the result ends its session.
func (r *VoteResult) IsFinal() bool {
	return r.Outcome == OutcomeConfirmed && r.Stage() == StageTwo
}

// Finish maps a final result to how the session ends.
func (r *VoteResult) Finish() Finish {
	c, ok := r.Confirmed()
	if !ok || r.Stage() != StageTwo {
		return FinishNone
	}
	switch {
	case c.IsEmpty():
		return FinishEmptyConfirmed
	case c.IsFork():
		return FinishForked
	default:
		return FinishBlockConfirmed
	}
}

// Validate checks the structure only. Signatures and counts are checked by the verifier.
func (r *VoteResult) Validate() error {
	if len(r.Items) == 0 {
		return protocolError("result without items")
	}
	head := r.first()
	if !head.Stage.Valid() {
		return protocolError("unknown stage %d", head.Stage)
	}
	switch r.Outcome {
	case OutcomeConfirmed:
		if len(r.Items) != 1 {
			return protocolError("confirmed result with %d items", len(r.Items))
		}
	case OutcomeSplit:
	default:
		return protocolError("unknown outcome %d", r.Outcome)
	}
	seen := make(map[Candidate]bool, len(r.Items))
	for _, item := range r.Items {
		if item == nil {
			return protocolError("nil item")
		}
		if item.Height != head.Height || item.Key() != head.Key() || item.VoteRound != head.VoteRound || item.Stage != head.Stage {
			return protocolError("items of different positions")
		}
		if seen[item.Candidate()] {
			return protocolError("candidate %s listed twice", item.Candidate())
		}
		seen[item.Candidate()] = true
	}
	return nil
}

func (r *VoteResult) String() string {
	if len(r.Items) == 0 {
		return fmt.Sprintf("result[%s]", r.Outcome)
	}
	return fmt.Sprintf("result[h%d %s vr%d %s %s items:%d]", r.Height(), r.Key(), r.VoteRound(), r.Stage(), r.Outcome, len(r.Items))
}

// GetVoteResultMessage asks a peer for the result of a position.
type GetVoteResultMessage struct {
	Height       uint64
	Round        uint64
	PackingIndex uint32
	VoteRound    uint8
}

func (m *GetVoteResultMessage) Key() model.ConsensusKey {
	return model.ConsensusKey{Round: m.Round, PackingIndex: m.PackingIndex}
}

func (m *GetVoteResultMessage) String() string {
	return fmt.Sprintf("getResult[h%d %s vr%d]", m.Height, m.Key(), m.VoteRound)
}

// CandidateMessage announces the block the packer of a slot produced.
type CandidateMessage struct {
	Height       uint64
	Round        uint64
	PackingIndex uint32
	BlockHash    common.Hash
	Signature    BallotSignature
}

func (m *CandidateMessage) Key() model.ConsensusKey {
	return model.ConsensusKey{Round: m.Round, PackingIndex: m.PackingIndex}
}

func (m *CandidateMessage) Digest() common.Hash {
	w := byteutil.NewBinaryWriter()
	w.Write([]byte("candidate"), m.Height, m.Round, m.PackingIndex, m.BlockHash.Bytes)
	return common.Sha256Hash(w.Bytes())
}

func (m *CandidateMessage) Sign(signer crypto.Signer, account *crypto.Account) {
	sig := signer.Sign(account.PrivateKey, m.Digest().ToBytes())
	m.Signature = BallotSignature{
		PublicKey: account.PublicKey.Bytes,
		Signature: sig.Bytes,
	}
}

func (m *CandidateMessage) String() string {
	return fmt.Sprintf("candidate[h%d %s %s]", m.Height, m.Key(), m.BlockHash)
}
