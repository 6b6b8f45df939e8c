package dummy

import (
	"fmt"
	"io/ioutil"
	"sort"

	"github.com/annchain/ogbft/common"
	"github.com/annchain/ogbft/common/crypto"
	"github.com/annchain/ogbft/consensus/model"
	"gopkg.in/yaml.v2"
)

type CommitteeMember struct {
	Address   string `yaml:"address"`
	PublicKey string `yaml:"public_key"`
	PeerId    string `yaml:"peer_id"`
	Deposit   uint64 `yaml:"deposit"`
}

type CommitteeFile struct {
	Crypto  string            `yaml:"crypto"`
	Members []CommitteeMember `yaml:"members"`
}

// StaticCommittee serves the same agents for every round, largest deposit first.
type StaticCommittee struct {
	Agents []model.Agent
}

func NewStaticCommittee(agents []model.Agent) *StaticCommittee {
	sorted := make([]model.Agent, len(agents))
	copy(sorted, agents)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Deposit != sorted[j].Deposit {
			return sorted[i].Deposit > sorted[j].Deposit
		}
		return sorted[i].Address.Hex() < sorted[j].Address.Hex()
	})
	return &StaticCommittee{Agents: sorted}
}

func (s *StaticCommittee) AgentsForRound(roundIndex uint64) ([]model.Agent, error) {
	agents := make([]model.Agent, len(s.Agents))
	copy(agents, s.Agents)
	return agents, nil
}

// LoadStaticCommittee reads a yaml committee file. Addresses are derived
// from the public keys and must match when given.
func LoadStaticCommittee(path string) (*StaticCommittee, error) {
	bytes, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	file := &CommitteeFile{}
	if err = yaml.Unmarshal(bytes, file); err != nil {
		return nil, err
	}
	cryptoType, err := crypto.CryptoTypeFromString(file.Crypto)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.NewSigner(cryptoType)
	if err != nil {
		return nil, err
	}

	agents := make([]model.Agent, 0, len(file.Members))
	for i, m := range file.Members {
		pubBytes, err := common.FromHex(m.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("member %d: %v", i, err)
		}
		pub := crypto.PublicKeyFromBytes(cryptoType, pubBytes)
		address := signer.Address(pub)
		if m.Address != "" {
			given, err := common.HexToAddress(m.Address)
			if err != nil {
				return nil, fmt.Errorf("member %d: %v", i, err)
			}
			if given != address {
				return nil, fmt.Errorf("member %d: address %s does not match public key", i, m.Address)
			}
		}
		agents = append(agents, model.Agent{
			Address:        address,
			PublicKey:      pub,
			PackingAddress: address,
			Deposit:        m.Deposit,
			PeerId:         m.PeerId,
		})
	}
	return NewStaticCommittee(agents), nil
}

// Save writes the committee in the format LoadStaticCommittee reads.
func (s *StaticCommittee) Save(path string, cryptoType crypto.CryptoType) error {
	file := &CommitteeFile{Crypto: cryptoType.String()}
	for _, a := range s.Agents {
		file.Members = append(file.Members, CommitteeMember{
			Address:   a.Address.Hex(),
			PublicKey: common.ToHex(a.PublicKey.Bytes),
			PeerId:    a.PeerId,
			Deposit:   a.Deposit,
		})
	}
	bytes, err := yaml.Marshal(file)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, bytes, 0644)
}
