package crypto

import (
	"encoding/hex"
	"encoding/json"
	"io/ioutil"

	"github.com/annchain/ogbft/common"
	"github.com/sirupsen/logrus"
)

// Account is the consensus identity of this node: it signs ballots.
type Account struct {
	PublicKey  PublicKey
	PrivateKey PrivateKey
	Address    common.Address
}

func NewAccount(signer Signer, priv PrivateKey) *Account {
	pub := signer.PubKey(priv)
	return &Account{
		PublicKey:  pub,
		PrivateKey: priv,
		Address:    signer.Address(pub),
	}
}

type accountFile struct {
	Type             string
	PrivateKeyString string
	Address          string
}

// AccountHolder loads the consensus key from KeyFile, generating it on demand.
type AccountHolder struct {
	KeyFile string
	Signer  Signer
	account *Account
}

func (a *AccountHolder) ProvideAccount(createIfMissing bool) (account *Account, err error) {
	if a.account != nil {
		return a.account, nil
	}
	err = a.load()
	if err == nil {
		return a.account, nil
	}
	if !createIfMissing {
		return
	}

	logrus.WithField("file", a.KeyFile).Info("creating a new consensus account")
	_, priv, err := a.Signer.RandomKeyPair()
	if err != nil {
		return
	}
	a.account = NewAccount(a.Signer, priv)
	if err = a.save(); err != nil {
		return
	}
	return a.account, nil
}

func (a *AccountHolder) load() error {
	bytes, err := ioutil.ReadFile(a.KeyFile)
	if err != nil {
		return err
	}
	f := accountFile{}
	if err = json.Unmarshal(bytes, &f); err != nil {
		return err
	}
	cryptoType, err := CryptoTypeFromString(f.Type)
	if err != nil {
		return err
	}
	privb, err := hex.DecodeString(f.PrivateKeyString)
	if err != nil {
		return err
	}
	a.account = NewAccount(a.Signer, PrivateKeyFromBytes(cryptoType, privb))
	return nil
}

func (a *AccountHolder) save() error {
	f := accountFile{
		Type:             a.Signer.GetCryptoType().String(),
		PrivateKeyString: hex.EncodeToString(a.account.PrivateKey.Bytes),
		Address:          a.account.Address.Hex(),
	}
	bytes, err := json.MarshalIndent(f, "", " ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(a.KeyFile, bytes, 0600)
}
