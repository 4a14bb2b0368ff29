package exports

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"daopresale/native/presale"
	"daopresale/storage/trie"
)

// LedgerCommitment commits to the participant ledger with a Merkle-Patricia
// root. Each leaf is keyed by the participant address and holds the RLP
// encoded participant record, so auditors can check one allocation with
// ProveParticipant without the full export.
func LedgerCommitment(accounts []*presale.ParticipantAccount) (*trie.Commitment, error) {
	entries := make([]trie.Entry, 0, len(accounts))
	for _, account := range accounts {
		if account == nil {
			continue
		}
		value, err := rlp.EncodeToBytes(presale.NewParticipantRecord(account))
		if err != nil {
			return nil, fmt.Errorf("exports: encode participant %s: %w", account.Address.Hex(), err)
		}
		entries = append(entries, trie.Entry{Key: account.Address.Bytes(), Value: value})
	}
	return trie.NewCommitment(entries)
}

// ProveParticipant returns the inclusion proof for addr in commitment.
func ProveParticipant(commitment *trie.Commitment, addr common.Address) ([][]byte, error) {
	if commitment == nil {
		return nil, fmt.Errorf("exports: nil commitment")
	}
	return commitment.Prove(addr.Bytes())
}

// VerifyParticipant checks a proof against root and decodes the committed
// participant record.
func VerifyParticipant(root common.Hash, addr common.Address, proof [][]byte) (*presale.ParticipantAccount, error) {
	value, err := trie.VerifyProof(root, addr.Bytes(), proof)
	if err != nil {
		return nil, err
	}
	record := new(presale.ParticipantRecord)
	if err := rlp.DecodeBytes(value, record); err != nil {
		return nil, fmt.Errorf("exports: decode committed participant: %w", err)
	}
	return record.Participant()
}
