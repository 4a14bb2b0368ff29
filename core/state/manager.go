package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"daopresale/storage"
)

var errManagerUnavailable = errors.New("state: manager unavailable")

// Manager provides RLP-encoded key/value access to the presale store. Keys
// are hashed with keccak256 before they reach the database so every record
// family shares one flat keyspace.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Update runs fn against a write transaction and commits every staged write
// in one atomic batch. Nothing is written when fn returns an error. Updates
// are serialised so read-modify-write helpers such as KVAppend observe a
// consistent view.
func (m *Manager) Update(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return errManagerUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &Tx{db: m.db, batch: storage.NewBatch(), pending: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	return m.db.Write(tx.batch)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	return m.Update(func(tx *Tx) error { return tx.KVPut(key, value) })
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errManagerUnavailable
	}
	return m.reader().KVGet(key, out)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	return m.Update(func(tx *Tx) error { return tx.KVAppend(key, value) })
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if m == nil || m.db == nil {
		return errManagerUnavailable
	}
	return m.reader().KVGetList(key, out)
}

func (m *Manager) reader() *Tx {
	return &Tx{db: m.db}
}

// Tx stages writes for Manager.Update. Reads observe the transaction's own
// pending writes before falling back to the database.
type Tx struct {
	db      storage.Database
	batch   *storage.Batch
	pending map[string][]byte
}

func (tx *Tx) get(hashed []byte) ([]byte, error) {
	if value, ok := tx.pending[string(hashed)]; ok {
		return value, nil
	}
	value, err := tx.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (tx *Tx) put(hashed, encoded []byte) error {
	if tx.batch == nil {
		return fmt.Errorf("kv: read-only transaction")
	}
	tx.batch.Put(hashed, encoded)
	tx.pending[string(hashed)] = encoded
	return nil
}

// KVPut stages an RLP-encoded value.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.put(kvKey(key), encoded)
}

// KVGet decodes the value under key into out.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend stages value onto the byte-slice list under key unless it is
// already present.
func (tx *Tx) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := tx.get(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return tx.put(hashed, encoded)
}

// KVGetList decodes the RLP list under key into out, which must be a pointer
// to a slice.
func (tx *Tx) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
