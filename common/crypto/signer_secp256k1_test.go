package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignerSecp(t *testing.T) {
	signer := SignerSecp256k1{}

	pub, priv, err := signer.RandomKeyPair()
	assert.NoError(t, err)

	pub2 := signer.PubKey(priv)
	assert.True(t, bytes.Equal(pub.Bytes, pub2.Bytes))

	content := []byte("This is a test")
	sig := signer.Sign(priv, content)

	assert.True(t, signer.Verify(pub2, sig, content))

	content[0] = 0x88
	assert.False(t, signer.Verify(pub2, sig, content))
}

func TestSignerSecpMalformedInput(t *testing.T) {
	signer := SignerSecp256k1{}
	pub, _, err := signer.RandomKeyPair()
	assert.NoError(t, err)

	assert.False(t, signer.Verify(pub, SignatureFromBytes(CryptoTypeSecp256k1, []byte{0x30, 0x01}), []byte("foo")))
	assert.False(t, signer.Verify(PublicKeyFromBytes(CryptoTypeSecp256k1, []byte{1}), Signature{}, []byte("foo")))
}

func TestAddressDiffersByCurve(t *testing.T) {
	ed := SignerEd25519{}
	sp := SignerSecp256k1{}
	pub, _, _ := sp.RandomKeyPair()
	assert.NotEqual(t, ed.Address(pub), sp.Address(pub))
}
