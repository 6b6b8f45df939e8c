package transport

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/ioutil"

	core "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/sirupsen/logrus"
)

type TransportPrivateInfo struct {
	Type             string
	PrivateKeyString string
	PrivateKey       core.PrivKey `json:"-"`
	Id               string
}

// DefaultTransportIdentityHolder keeps the libp2p node key in a json file.
type DefaultTransportIdentityHolder struct {
	KeyFile string
	pi      *TransportPrivateInfo
}

func (a *DefaultTransportIdentityHolder) ProvidePrivateKey(createIfMissing bool) (identity *TransportPrivateInfo, err error) {
	if a.pi != nil {
		identity = a.pi
		return
	}

	err = a.loadPrivateKey(a.KeyFile)
	if err == nil {
		identity = a.pi
		return
	}
	if !createIfMissing {
		return
	}

	logrus.Info("creating a new transport identity")
	err = a.initPrivateInfo(nil)
	if err != nil {
		return
	}
	err = a.loadPrivateKey(a.KeyFile)
	if err == nil {
		identity = a.pi
	}
	return
}

func (a *DefaultTransportIdentityHolder) loadPrivateKey(keyFile string) error {
	bytes, err := ioutil.ReadFile(keyFile)
	if err != nil {
		return err
	}

	pi := &TransportPrivateInfo{}
	err = json.Unmarshal(bytes, pi)
	if err != nil {
		return err
	}

	privb, err := hex.DecodeString(pi.PrivateKeyString)
	if err != nil {
		return err
	}

	pk, err := core.UnmarshalPrivateKey(privb)
	if err != nil {
		return err
	}
	pi.PrivateKey = pk
	a.pi = pi
	return nil
}

func (a *DefaultTransportIdentityHolder) initPrivateInfo(randomizer io.Reader) error {
	if randomizer == nil {
		randomizer = crand.Reader
	}

	priv, _, err := core.GenerateKeyPairWithReader(core.Secp256k1, 0, randomizer)
	if err != nil {
		return err
	}

	privm, err := core.MarshalPrivateKey(priv)
	if err != nil {
		return err
	}

	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return err
	}

	pi := &TransportPrivateInfo{
		Type:             "secp256k1",
		PrivateKeyString: hex.EncodeToString(privm),
		Id:               id.String(),
	}

	bytes, err := json.MarshalIndent(pi, "", " ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(a.KeyFile, bytes, 0600)
}
