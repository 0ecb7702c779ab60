package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
var statePrefixes []string

var (
	prefixAccount   = registerPrefix("acct:")
	prefixToken     = registerPrefix("tok:")
	prefixTokenBal  = registerPrefix("tbal:")  // tbal:<token>:<owner>
	prefixAllowance = registerPrefix("allow:") // allow:<token>:<owner>:<spender>
	prefixAuction   = registerPrefix("auct:")
	prefixBid       = registerPrefix("bid:") // bid:<auction>:<bidder>
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation. It is safe
// for concurrent readers alongside the single block-producing writer;
// readers observe uncommitted writes of the block being built.
type StateDB struct {
	db        DB
	mu        sync.RWMutex
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirty, key)
	s.deleted[key] = true
}

// scan returns every live entry under prefix, merging persisted entries
// with the write buffer.
func (s *StateDB) scan(prefix string) map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	merged := make(map[string][]byte)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[string(it.Key())] = v
	}
	it.Release()
	for k, v := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range s.deleted {
		delete(merged, k)
	}
	return merged
}

func (s *StateDB) getUint(key string) (uint64, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// setUint stores v under key; zero deletes the key so the root does not
// depend on whether an entry was ever touched.
func (s *StateDB) setUint(key string, v uint64) {
	if v == 0 {
		s.del(key)
		return
	}
	s.set(key, []byte(strconv.FormatUint(v, 10)))
}

func putJSON(s *StateDB, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	data, err := s.get(prefixAccount + address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return putJSON(s, prefixAccount+acc.Address, acc)
}

// ---- Token ----

func (s *StateDB) GetToken(id string) (*core.Token, error) {
	data, err := s.get(prefixToken + id)
	if err != nil {
		return nil, err
	}
	var t core.Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetToken(t *core.Token) error {
	return putJSON(s, prefixToken+t.ID, t)
}

func (s *StateDB) GetTokenBalance(tokenID, owner string) (uint64, error) {
	return s.getUint(prefixTokenBal + tokenID + ":" + owner)
}

func (s *StateDB) SetTokenBalance(tokenID, owner string, amount uint64) error {
	s.setUint(prefixTokenBal+tokenID+":"+owner, amount)
	return nil
}

func (s *StateDB) GetAllowance(tokenID, owner, spender string) (uint64, error) {
	return s.getUint(prefixAllowance + tokenID + ":" + owner + ":" + spender)
}

func (s *StateDB) SetAllowance(tokenID, owner, spender string, amount uint64) error {
	s.setUint(prefixAllowance+tokenID+":"+owner+":"+spender, amount)
	return nil
}

// ---- Auction ----

func (s *StateDB) GetAuction(id string) (*core.Auction, error) {
	data, err := s.get(prefixAuction + id)
	if err != nil {
		return nil, err
	}
	var a core.Auction
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAuction(a *core.Auction) error {
	return putJSON(s, prefixAuction+a.ID, a)
}

// Auctions returns all auctions ordered by creation time, ties broken by ID.
func (s *StateDB) Auctions() ([]*core.Auction, error) {
	entries := s.scan(prefixAuction)
	out := make([]*core.Auction, 0, len(entries))
	for k, v := range entries {
		var a core.Auction
		if err := json.Unmarshal(v, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ---- Bid ledger ----

func bidKey(auctionID, bidder string) string {
	return prefixBid + auctionID + ":" + bidder
}

func (s *StateDB) GetBid(auctionID, bidder string) (uint64, error) {
	return s.getUint(bidKey(auctionID, bidder))
}

func (s *StateDB) SetBid(auctionID, bidder string, amount uint64) error {
	s.setUint(bidKey(auctionID, bidder), amount)
	return nil
}

func (s *StateDB) Bids(auctionID string) (map[string]uint64, error) {
	prefix := prefixBid + auctionID + ":"
	out := make(map[string]uint64)
	for k, v := range s.scan(prefix) {
		amount, err := strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out[strings.TrimPrefix(k, prefix)] = amount
	}
	return out, nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, stateSnapshot{
		dirty:   copyDirty(s.dirty),
		deleted: copyDeleted(s.deleted),
	})
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it along with every later snapshot.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]
	s.dirty = copyDirty(snap.dirty)
	s.deleted = copyDeleted(snap.deleted)
	s.snapshots = s.snapshots[:id]
	return nil
}

func copyDirty(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func copyDeleted(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ComputeRoot returns the deterministic hash of the complete world state:
// every registered prefix merged with the write buffer, sorted by key and
// length-prefix encoded. It does not flush, so it is safe before signing.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		for k, v := range s.scan(prefix) {
			merged[k] = v
		}
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
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
