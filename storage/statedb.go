package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() and Export always cover it.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

var statePrefixes []string

var (
	prefixAccount = registerPrefix("acct:")
	prefixRecord  = registerPrefix("rec:")
)

func accountKey(addr crypto.Address) string { return prefixAccount + hex.EncodeToString(addr[:]) }
func recordKey(addr crypto.Address) string  { return prefixRecord + hex.EncodeToString(addr[:]) }

// Records are never deleted, so a snapshot is just a copy of the buffer.
type stateSnapshot map[string][]byte

// StateDB implements core.State on top of a DB with an in-memory write
// buffer, snapshot/rollback, and deterministic state-root computation.
// It is safe for concurrent use.
type StateDB struct {
	mu        sync.RWMutex
	db        DB
	dirty     map[string][]byte
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

// ---- internal helpers, callers hold mu ----

func (s *StateDB) get(key string) ([]byte, error) {
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) has(key string) (bool, error) {
	_, err := s.get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, core.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *StateDB) set(key string, val []byte) {
	s.dirty[key] = val
}

// ---- Account ----

func (s *StateDB) GetAccount(addr crypto.Address) (*core.Account, error) {
	s.mu.RLock()
	data, err := s.get(accountKey(addr))
	s.mu.RUnlock()
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: addr}, nil
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr, err)
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.set(accountKey(acc.Address), data)
	s.mu.Unlock()
	return nil
}

// ---- Records ----

func (s *StateDB) Get(addr crypto.Address, rec core.Record) error {
	s.mu.RLock()
	data, err := s.get(recordKey(addr))
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := rec.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("load %s at %s: %w", rec.RecordType(), addr, err)
	}
	return nil
}

func (s *StateDB) Create(addr crypto.Address, rec core.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	key := recordKey(addr)

	s.mu.Lock()
	defer s.mu.Unlock()
	occupied, err := s.has(key)
	if err != nil {
		return err
	}
	if occupied {
		return core.WithMetadata(core.CodeAlreadyExists, "record already exists", map[string]string{
			"type":    rec.RecordType(),
			"address": addr.String(),
		})
	}
	s.set(key, data)
	return nil
}

func (s *StateDB) Update(addr crypto.Address, rec core.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	key := recordKey(addr)

	s.mu.Lock()
	defer s.mu.Unlock()
	old, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return core.WithMetadata(core.CodeNotInitialized, "record is not initialized", map[string]string{
			"type":    rec.RecordType(),
			"address": addr.String(),
		})
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(old[:8], data[:8]) {
		return core.WithMetadata(core.CodeRecordMismatch, "stored record has a different type", map[string]string{
			"type":    rec.RecordType(),
			"address": addr.String(),
		})
	}
	s.set(key, data)
	return nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(stateSnapshot, len(s.dirty))
	for k, v := range s.dirty {
		snap[k] = bytes.Clone(v)
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it together with every later one.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	s.dirty = s.snapshots[id]
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state:
// persisted entries under the registered prefixes merged with the write
// buffer, sorted by key and length-prefix encoded. It does not flush.
func (s *StateDB) ComputeRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			merged[string(it.Key())] = bytes.Clone(it.Value())
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	s.dirty = make(map[string][]byte)
	s.snapshots = nil
	return nil
}
