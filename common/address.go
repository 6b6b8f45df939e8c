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
	"fmt"
)

// Length of Addresses in bytes.
const (
	AddressLength = 20
)

// Address represents the 20 byte of address.
type Address struct {
	Bytes [AddressLength]byte
}

// BytesToAddress sets b to address.
// If b is larger than len(h), b will be cropped from the left.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a.Bytes[AddressLength-len(b):], b)
	return a
}

// HexToAddress returns Address with byte values of s.
func HexToAddress(s string) (Address, error) {
	b, err := FromHex(s)
	if err != nil {
		return Address{}, err
	}
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address length mismatch: %d", len(b))
	}
	return BytesToAddress(b), nil
}

func (h Address) ToBytes() []byte { return h.Bytes[:] }

// Hex converts an address to a hex string.
func (h Address) Hex() string { return ToHex(h.Bytes[:]) }

// TerminalString implements log.TerminalStringer, formatting a string for console
// output during logging.
func (h Address) TerminalString() string {
	return fmt.Sprintf("%x..%x", h.Bytes[:3], h.Bytes[len(h.Bytes)-3:])
}

func (h Address) ShortString() string {
	return h.Hex()[:8]
}

// String implements the stringer interface and is used also by the logger.
func (h Address) String() string {
	return h.Hex()
}

// MarshalText returns the hex representation of a.
func (h Address) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText parses an address in hex syntax.
func (h *Address) UnmarshalText(input []byte) error {
	a, err := HexToAddress(string(input))
	if err != nil {
		return err
	}
	*h = a
	return nil
}
