package crypto

import (
	crand "crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"
)

type CryptoType int

const (
	CryptoTypeEd25519 CryptoType = iota
	CryptoTypeSecp256k1
)

func (c CryptoType) String() string {
	switch c {
	case CryptoTypeEd25519:
		return "ed25519"
	case CryptoTypeSecp256k1:
		return "secp256k1"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

func CryptoTypeFromString(s string) (CryptoType, error) {
	switch strings.ToLower(s) {
	case "ed25519":
		return CryptoTypeEd25519, nil
	case "secp256k1":
		return CryptoTypeSecp256k1, nil
	}
	return 0, fmt.Errorf("unknown crypto type: %s", s)
}

type PrivateKey struct {
	Type  CryptoType
	Bytes []byte
}

type PublicKey struct {
	Type  CryptoType
	Bytes []byte
}

type Signature struct {
	Type  CryptoType
	Bytes []byte
}

func PrivateKeyFromBytes(typev CryptoType, bytes []byte) PrivateKey {
	return PrivateKey{Type: typev, Bytes: bytes}
}
func PublicKeyFromBytes(typev CryptoType, bytes []byte) PublicKey {
	return PublicKey{Type: typev, Bytes: bytes}
}
func SignatureFromBytes(typev CryptoType, bytes []byte) Signature {
	return Signature{Type: typev, Bytes: bytes}
}

func Sha256(bytes []byte) []byte {
	hasher := sha256.New()
	hasher.Write(bytes)
	return hasher.Sum(nil)
}

func CRandBytes(numBytes int) []byte {
	b := make([]byte, numBytes)
	_, err := crand.Read(b)
	if err != nil {
		panic(err)
	}
	return b
}
