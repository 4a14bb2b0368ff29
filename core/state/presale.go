package state

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"daopresale/native/presale"
)

var (
	presaleConfigKey           = []byte("presale/config")
	presaleStateKey            = []byte("presale/state")
	presaleParticipantIndexKey = []byte("presale/participants")
	presaleParticipantPrefix   = []byte("presale/participant/")
	presaleAdmissionPrefix     = []byte("presale/admission/")
	presaleReceiptPrefix       = []byte("presale/receipt/")
)

func presaleParticipantKey(addr common.Address) []byte {
	buf := make([]byte, len(presaleParticipantPrefix)+common.AddressLength)
	copy(buf, presaleParticipantPrefix)
	copy(buf[len(presaleParticipantPrefix):], addr.Bytes())
	return buf
}

func sequenceKey(prefix []byte, sequence uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], sequence)
	return buf
}

// PresaleConfigGet loads the fixed sale configuration.
func (m *Manager) PresaleConfigGet() (*presale.SaleConfig, bool, error) {
	var record presale.ConfigRecord
	ok, err := m.KVGet(presaleConfigKey, &record)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := record.Config()
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// PresaleStateGet loads the sale accounting singleton.
func (m *Manager) PresaleStateGet() (*presale.SaleState, bool, error) {
	var record presale.StateRecord
	ok, err := m.KVGet(presaleStateKey, &record)
	if err != nil || !ok {
		return nil, ok, err
	}
	state, err := record.State()
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// PresaleParticipantGet loads the ledger entry for addr.
func (m *Manager) PresaleParticipantGet(addr common.Address) (*presale.ParticipantAccount, bool, error) {
	var record presale.ParticipantRecord
	ok, err := m.KVGet(presaleParticipantKey(addr), &record)
	if err != nil || !ok {
		return nil, ok, err
	}
	account, err := record.Participant()
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}

// PresaleParticipantList returns participant addresses in first-purchase
// order.
func (m *Manager) PresaleParticipantList() ([]common.Address, error) {
	var raw [][]byte
	if err := m.KVGetList(presaleParticipantIndexKey, &raw); err != nil {
		return nil, err
	}
	addrs := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != common.AddressLength {
			return nil, fmt.Errorf("state: malformed participant index entry (%d bytes)", len(entry))
		}
		addrs = append(addrs, common.BytesToAddress(entry))
	}
	return addrs, nil
}

// PresaleAdmissionGet loads the admission recorded under sequence.
func (m *Manager) PresaleAdmissionGet(sequence uint64) (*presale.Admission, bool, error) {
	var record presale.AdmissionRecord
	ok, err := m.KVGet(sequenceKey(presaleAdmissionPrefix, sequence), &record)
	if err != nil || !ok {
		return nil, ok, err
	}
	admission, err := record.Admission()
	if err != nil {
		return nil, false, err
	}
	return admission, true, nil
}

// PresaleReceiptGet loads the settlement receipt recorded under sequence.
func (m *Manager) PresaleReceiptGet(sequence uint64) (*presale.PurchaseReceipt, bool, error) {
	var record presale.ReceiptRecord
	ok, err := m.KVGet(sequenceKey(presaleReceiptPrefix, sequence), &record)
	if err != nil || !ok {
		return nil, ok, err
	}
	receipt, err := record.Receipt()
	if err != nil {
		return nil, false, err
	}
	return receipt, true, nil
}

// PresaleCommit writes every record carried by commit in a single batch.
func (m *Manager) PresaleCommit(commit *presale.Commit) error {
	if commit == nil {
		return nil
	}
	return m.Update(func(tx *Tx) error {
		if commit.Config != nil {
			if err := tx.KVPut(presaleConfigKey, presale.NewConfigRecord(commit.Config)); err != nil {
				return err
			}
		}
		if commit.State != nil {
			if err := tx.KVPut(presaleStateKey, presale.NewStateRecord(commit.State)); err != nil {
				return err
			}
		}
		if commit.Participant != nil {
			addr := commit.Participant.Address
			if err := tx.KVPut(presaleParticipantKey(addr), presale.NewParticipantRecord(commit.Participant)); err != nil {
				return err
			}
			if commit.NewParticipant {
				if err := tx.KVAppend(presaleParticipantIndexKey, addr.Bytes()); err != nil {
					return err
				}
			}
		}
		if commit.Admission != nil {
			key := sequenceKey(presaleAdmissionPrefix, commit.Admission.Sequence)
			if err := tx.KVPut(key, presale.NewAdmissionRecord(commit.Admission)); err != nil {
				return err
			}
		}
		if commit.Receipt != nil {
			key := sequenceKey(presaleReceiptPrefix, commit.Receipt.Sequence)
			if err := tx.KVPut(key, presale.NewReceiptRecord(commit.Receipt)); err != nil {
				return err
			}
		}
		return nil
	})
}
