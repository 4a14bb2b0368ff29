package trie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// Entry is a single leaf of a commitment. Keys are hashed with keccak256 before
// insertion so every path has the same length regardless of the caller's key
// shape.
type Entry struct {
	Key   []byte
	Value []byte
}

// Commitment wraps an in-memory go-ethereum trie used to publish a Merkle root
// over an exported data set and to produce inclusion proofs against it.
//
// Commitment is not safe for concurrent use.
type Commitment struct {
	trie *gethtrie.Trie
}

// NewCommitment builds a commitment over the supplied entries. Duplicate keys
// are rejected because the later value would silently shadow the earlier one.
func NewCommitment(entries []Entry) (*Commitment, error) {
	backend := memorydb.New()
	db := rawdb.NewDatabase(backend)
	trieDB := triedb.NewDatabase(db, triedb.HashDefaults)
	tr, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	seen := make(map[common.Hash]struct{}, len(entries))
	for _, entry := range entries {
		if len(entry.Key) == 0 {
			return nil, fmt.Errorf("trie: entry key must not be empty")
		}
		hashed := crypto.Keccak256Hash(entry.Key)
		if _, dup := seen[hashed]; dup {
			return nil, fmt.Errorf("trie: duplicate entry key %x", entry.Key)
		}
		seen[hashed] = struct{}{}
		if err := tr.Update(hashed.Bytes(), entry.Value); err != nil {
			return nil, err
		}
	}
	return &Commitment{trie: tr}, nil
}

// Root returns the Merkle root reflecting every entry.
func (c *Commitment) Root() common.Hash {
	if c == nil || c.trie == nil {
		return gethtypes.EmptyRootHash
	}
	return c.trie.Hash()
}

// Prove returns the proof nodes for the supplied key.
func (c *Commitment) Prove(key []byte) ([][]byte, error) {
	if c == nil || c.trie == nil {
		return nil, fmt.Errorf("trie: commitment not built")
	}
	proof := memorydb.New()
	if err := c.trie.Prove(crypto.Keccak256(key), proof); err != nil {
		return nil, err
	}
	nodes := make([][]byte, 0)
	iter := proof.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		nodes = append(nodes, append([]byte(nil), iter.Value()...))
	}
	return nodes, iter.Error()
}

// VerifyProof checks a proof produced by Prove against root and returns the
// committed value for key.
func VerifyProof(root common.Hash, key []byte, nodes [][]byte) ([]byte, error) {
	proof := memorydb.New()
	for _, node := range nodes {
		if err := proof.Put(crypto.Keccak256(node), node); err != nil {
			return nil, err
		}
	}
	value, err := gethtrie.VerifyProof(root, crypto.Keccak256(key), proof)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fmt.Errorf("trie: key %x not committed", key)
	}
	return value, nil
}

// ComputeRoot is a convenience wrapper returning only the Merkle root.
func ComputeRoot(entries []Entry) (common.Hash, error) {
	commitment, err := NewCommitment(entries)
	if err != nil {
		return common.Hash{}, err
	}
	return commitment.Root(), nil
}
