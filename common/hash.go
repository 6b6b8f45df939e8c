// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package common

import (
	"crypto/sha256"
	"fmt"
)

// Length of hash in bytes.
const (
	HashLength = 32
)

// EmptyHash is the sentinel candidate of a "no block" vote.
var EmptyHash = Hash{}

// Hash represents the 32 byte of Hash.
type Hash struct {
	Bytes [HashLength]byte
}

func (h Hash) Empty() bool {
	return h == EmptyHash
}

// BytesToHash sets b to hash.
// If b is larger than len(h), b will be cropped from the left.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h.Bytes[HashLength-len(b):], b)
	return h
}

// HexToHash sets byte representation of s to hash.
// If b is larger than len(h), b will be cropped from the left.
func HexToHash(s string) (Hash, error) {
	b, err := FromHex(s)
	if err != nil {
		return Hash{}, err
	}
	return BytesToHash(b), nil
}

// Sha256Hash hashes data into a Hash.
func Sha256Hash(data []byte) Hash {
	return Hash{Bytes: sha256.Sum256(data)}
}

func (h Hash) ToBytes() []byte { return h.Bytes[:] }

// Hex converts a hash to a hex string.
func (h Hash) Hex() string { return ToHex(h.Bytes[:]) }

// TerminalString implements log.TerminalStringer, formatting a string for console
// output during logging.
func (h Hash) TerminalString() string {
	return fmt.Sprintf("%x..%x", h.Bytes[:3], h.Bytes[len(h.Bytes)-3:])
}

// String implements the stringer interface and is used also by the logger when
// doing full logging into a file.
func (h Hash) String() string {
	if h.Empty() {
		return "EMPTY"
	}
	return h.Hex()[:10]
}

// MarshalText returns the hex representation of h.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText parses a Hash in hex syntax.
func (h *Hash) UnmarshalText(input []byte) error {
	b, err := FromHex(string(input))
	if err != nil {
		return err
	}
	return h.SetBytes(b)
}

// SetBytes sets the Hash to the value of b.
func (h *Hash) SetBytes(b []byte) error {
	if len(b) > HashLength {
		return fmt.Errorf("byte to set is longer than expected length: %d > %d", len(b), HashLength)
	}
	h.Bytes = [HashLength]byte{}
	copy(h.Bytes[HashLength-len(b):], b)
	return nil
}

// Cmp compares two hashes.
// Returns  0 if two hashes are same.
// Returns -1 if the self hash is less than parameter hash.
// Returns  1 if the self hash is larger than parameter hash.
func (h Hash) Cmp(another Hash) int {
	for i := 0; i < HashLength; i++ {
		if h.Bytes[i] < another.Bytes[i] {
			return -1
		} else if h.Bytes[i] > another.Bytes[i] {
			return 1
		}
	}
	return 0
}
