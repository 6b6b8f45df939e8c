package crypto

import (
	"fmt"

	"github.com/annchain/ogbft/common"
)

type Signer interface {
	GetCryptoType() CryptoType
	Sign(privKey PrivateKey, msg []byte) Signature
	PubKey(privKey PrivateKey) PublicKey
	Verify(pubKey PublicKey, signature Signature, msg []byte) bool
	RandomKeyPair() (publicKey PublicKey, privateKey PrivateKey, err error)
	Address(pubKey PublicKey) common.Address
}

func NewSigner(cryptoType CryptoType) (Signer, error) {
	switch cryptoType {
	case CryptoTypeEd25519:
		return &SignerEd25519{}, nil
	case CryptoTypeSecp256k1:
		return &SignerSecp256k1{}, nil
	}
	return nil, fmt.Errorf("no signer for crypto type %s", cryptoType)
}
