package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"yieldvault/storage"
)

// Manager provides RLP-encoded key/value access to protocol state. Writes are
// staged in an overlay and journaled so a failing transaction can be reverted
// to any earlier snapshot before anything reaches the backing database.
type Manager struct {
	db      storage.Database
	pending map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string][]byte)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) load(hashed []byte) ([]byte, error) {
	if value, ok := m.pending[string(hashed)]; ok {
		return value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) stage(hashed []byte, value []byte) {
	key := string(hashed)
	prev, existed := m.pending[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, existed: existed})
	m.pending[key] = value
}

// KVPut RLP-encodes the value and stages it under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	m.stage(kvKey(key), encoded)
	return nil
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether a value was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.load(kvKey(key))
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
		return false, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return true, nil
}

// KVDelete stages the removal of key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.stage(kvKey(key), nil)
	return nil
}

// Snapshot returns an identifier that can later be passed to RevertToSnapshot.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every staged write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.pending[entry.key] = entry.prev
		} else {
			delete(m.pending, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Pending reports how many keys are staged but not yet committed.
func (m *Manager) Pending() int {
	return len(m.pending)
}

// Commit flushes the overlay to the backing database in one batch and clears
// the journal.
func (m *Manager) Commit() error {
	if len(m.pending) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	if err := m.db.Write(m.pending); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pending = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.RevertToSnapshot(0)
}

// Digest hashes the committed state with BLAKE3. Staged writes are not
// included.
func (m *Manager) Digest() ([32]byte, error) {
	var out [32]byte
	type kv struct{ key, value []byte }
	var entries []kv
	if err := m.db.Iterate(func(key, value []byte) error {
		entries = append(entries, kv{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
		return nil
	}); err != nil {
		return out, err
	}
	sort.Slice(entries, func(i, j int) bool { return string(entries[i].key) < string(entries[j].key) })
	hasher := blake3.New(32, nil)
	for _, entry := range entries {
		hasher.Write(entry.key)
		hasher.Write(entry.value)
	}
	copy(out[:], hasher.Sum(nil))
	return out, nil
}
