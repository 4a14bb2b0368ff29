package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the key derivation scheme of the store. It changes
// only when record keys move; record field layouts are versioned separately
// by the presale schema history.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored key scheme does not match
	// the one supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion records the provided key scheme version.
func (m *Manager) SetStateVersion(version uint32) error {
	if m == nil {
		return errManagerUnavailable
	}
	return m.KVPut(stateVersionKey, uint64(version))
}

// StateVersion returns the stored key scheme version and whether it was
// present.
func (m *Manager) StateVersion() (uint32, bool, error) {
	if m == nil {
		return 0, false, errManagerUnavailable
	}
	var stored uint64
	ok, err := m.KVGet(stateVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion stamps an empty store with StateVersion and verifies the
// stamp of an existing one. When allowMigrate is true, mismatches are
// tolerated so operators can perform manual migrations.
func (m *Manager) EnsureStateVersion(allowMigrate bool) error {
	version, ok, err := m.StateVersion()
	if err != nil {
		return err
	}
	if !ok {
		return m.SetStateVersion(StateVersion)
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
