package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"math/big"
	"os"
	"slices"
	"sort"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

const (
	// StoreCacheMB is the LevelDB block cache size in MB
	StoreCacheMB = 16

	// StoreHandles is the maximum number of open file handles for LevelDB
	StoreHandles = 16

	// LookupCacheBytes bounds the memo of historical ValueAt results
	LookupCacheBytes = 32 * 1024 * 1024
)

var (
	countPrefix    = []byte("cp-n")
	entryPrefix    = []byte("cp-e")
	snapshotPrefix = []byte("st-")
)

// Checkpoint is a recorded (timepoint, value) pair
type Checkpoint struct {
	Timepoint uint64       `json:"timepoint"`
	Value     *uint256.Int `json:"value"`
}

type entry struct {
	timepoint uint64
	value     uint256.Int
}

// series is the arena of checkpoints of one subject, ordered by timepoint
type series struct {
	entries   []entry
	dirtyFrom int // first index not yet persisted, -1 when clean
}

// Store keeps the checkpoint history of every subject. Reads and writes
// go to an in-memory arena per subject; Flush persists committed changes.
// Components whose state is not a checkpoint series stage snapshots that
// Flush writes in the same batch.
type Store struct {
	mu      sync.Mutex
	db      ethdb.Database
	lookups *fastcache.Cache
	journal *state.Journal
	series  map[common.Address]*series
	staged  map[string][]byte
	closed  bool
}

// NewStore creates a checkpoint store. If path is empty or LevelDB cannot
// be opened, it falls back to in-memory storage.
func NewStore(path string, journal *state.Journal) (*Store, error) {
	var db ethdb.Database

	if path != "" {
		if mkErr := os.MkdirAll(path, 0755); mkErr != nil {
			log.Printf("[Checkpoint] Failed to create directory %s: %v, using in-memory", path, mkErr)
			db = rawdb.NewMemoryDatabase()
		} else {
			ldb, ldbErr := leveldb.New(path, StoreCacheMB, StoreHandles, "", false)
			if ldbErr != nil {
				log.Printf("[Checkpoint] Failed to open LevelDB at %s: %v, using in-memory", path, ldbErr)
				db = rawdb.NewMemoryDatabase()
			} else {
				db = rawdb.NewDatabase(ldb)
				log.Printf("[Checkpoint] Opened persistent storage at %s", path)
			}
		}
	} else {
		db = rawdb.NewMemoryDatabase()
	}

	return &Store{
		db:      db,
		lookups: fastcache.New(LookupCacheBytes),
		journal: journal,
		series:  make(map[common.Address]*series),
		staged:  make(map[string][]byte),
	}, nil
}

// Now returns the current clock value
func (s *Store) Now() uint64 {
	return s.journal.Clock().Now()
}

// RecordDelta applies a signed delta to the latest value of subject and
// checkpoints the result at clock. A write at the latest timepoint
// overwrites that checkpoint.
func (s *Store) RecordDelta(subject common.Address, delta *big.Int, clock uint64) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser, err := s.load(subject)
	if err != nil {
		return nil, err
	}

	prev := new(uint256.Int)
	n := len(ser.entries)
	if n > 0 {
		last := ser.entries[n-1]
		if clock < last.timepoint {
			return nil, fmt.Errorf("%w: write at %d after %d", protocol.ErrNonMonotonicClock, clock, last.timepoint)
		}
		prev.Set(&last.value)
	}

	sum := new(big.Int).Add(prev.ToBig(), delta)
	if sum.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %s on %s", protocol.ErrUnderflow, prev.Dec(), delta.String(), subject.Hex())
	}
	next, overflow := uint256.FromBig(sum)
	if overflow {
		return nil, fmt.Errorf("%w: %s on %s", protocol.ErrOverflow, sum.String(), subject.Hex())
	}

	if n > 0 && ser.entries[n-1].timepoint == clock {
		idx := n - 1
		old := ser.entries[idx].value
		ser.entries[idx].value = *next
		s.journal.Append(func() { ser.entries[idx].value = old })
		ser.markDirty(idx)
	} else {
		ser.entries = append(ser.entries, entry{timepoint: clock, value: *next})
		s.journal.Append(func() { ser.entries = ser.entries[:n] })
		ser.markDirty(n)
	}

	s.journal.Emit(protocol.CheckpointUpdated{
		Subject:   subject,
		Timepoint: clock,
		Previous:  prev,
		Value:     next.Clone(),
	})
	return next.Clone(), nil
}

// ValueAt returns the value of subject at timepoint t, that is the value
// of the latest checkpoint at or before t, or zero without earlier history.
// Only past timepoints can be queried.
func (s *Store) ValueAt(subject common.Address, t uint64) (*uint256.Int, error) {
	now := s.Now()
	if t >= now {
		return nil, fmt.Errorf("%w: timepoint %d, clock %d", protocol.ErrFutureLookup, t, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := lookupKey(subject, t)
	if buf, ok := s.lookups.HasGet(nil, key); ok {
		return new(uint256.Int).SetBytes(buf), nil
	}

	ser, err := s.load(subject)
	if err != nil {
		return nil, err
	}

	entries := ser.entries
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].timepoint > t
	})
	if idx == 0 {
		return new(uint256.Int), nil
	}
	value := entries[idx-1].value

	// Later writes land at or after the latest timepoint, so answers for
	// timepoints strictly before it are final.
	if t < entries[len(entries)-1].timepoint {
		b := value.Bytes32()
		s.lookups.Set(key, b[:])
	}
	return value.Clone(), nil
}

// Latest returns the most recent value of subject
func (s *Store) Latest(subject common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser, err := s.load(subject)
	if err != nil {
		return nil, err
	}
	if len(ser.entries) == 0 {
		return new(uint256.Int), nil
	}
	return ser.entries[len(ser.entries)-1].value.Clone(), nil
}

// Checkpoints returns a copy of the whole history of subject
func (s *Store) Checkpoints(subject common.Address) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser, err := s.load(subject)
	if err != nil {
		return nil, err
	}
	out := make([]Checkpoint, len(ser.entries))
	for i := range ser.entries {
		out[i] = Checkpoint{Timepoint: ser.entries[i].timepoint, Value: ser.entries[i].value.Clone()}
	}
	return out, nil
}

// Len returns the number of checkpoints of subject
func (s *Store) Len(subject common.Address) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser, err := s.load(subject)
	if err != nil {
		return 0, err
	}
	return len(ser.entries), nil
}

// At returns the i-th checkpoint of subject
func (s *Store) At(subject common.Address, i int) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser, err := s.load(subject)
	if err != nil {
		return Checkpoint{}, err
	}
	if i < 0 || i >= len(ser.entries) {
		return Checkpoint{}, fmt.Errorf("checkpoint %d of %s: index out of range [0, %d)", i, subject.Hex(), len(ser.entries))
	}
	return Checkpoint{Timepoint: ser.entries[i].timepoint, Value: ser.entries[i].value.Clone()}, nil
}

// BalanceAt is ValueAt for an account
func (s *Store) BalanceAt(account common.Address, t uint64) (*uint256.Int, error) {
	return s.ValueAt(account, t)
}

// TotalSupplyAt is ValueAt for the total supply subject
func (s *Store) TotalSupplyAt(t uint64) (*uint256.Int, error) {
	return s.ValueAt(protocol.TotalSupplySubject, t)
}

// Flush persists every checkpoint written since the previous flush.
// Call it only after the operation that wrote them has committed.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("checkpoint store is closed")
	}

	batch := s.db.NewBatch()
	dirty := len(s.staged)
	for name, data := range s.staged {
		if err := batch.Put(snapshotKey(name), data); err != nil {
			return err
		}
	}
	for subject, ser := range s.series {
		if ser.dirtyFrom < 0 {
			continue
		}
		for i := ser.dirtyFrom; i < len(ser.entries); i++ {
			if err := batch.Put(entryKey(subject, uint64(i)), encodeEntry(&ser.entries[i])); err != nil {
				return err
			}
		}
		var count [8]byte
		binary.BigEndian.PutUint64(count[:], uint64(len(ser.entries)))
		if err := batch.Put(countKey(subject), count[:]); err != nil {
			return err
		}
		ser.dirtyFrom = -1
		dirty++
	}
	if dirty == 0 {
		return nil
	}
	if err := batch.Write(); err != nil {
		return err
	}
	clear(s.staged)
	return nil
}

// Stage queues the snapshot of a component for the next Flush. A later
// Stage of the same name before the flush replaces it.
func (s *Store) Stage(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[name] = bytes.Clone(data)
}

// Snapshot returns the latest snapshot staged or persisted under name, or
// nil if there is none
func (s *Store) Snapshot(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.staged[name]; ok {
		return bytes.Clone(data), nil
	}
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}
	key := snapshotKey(name)
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return nil, err
	}
	return s.db.Get(key)
}

// Subjects returns every subject with at least one checkpoint, in address
// order
func (s *Store) Subjects() ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[common.Address]bool)
	for subject, ser := range s.series {
		if len(ser.entries) > 0 {
			seen[subject] = true
		}
	}
	it := s.db.NewIterator(countPrefix, nil)
	for it.Next() {
		if key := it.Key(); len(key) == len(countPrefix)+common.AddressLength {
			subject := common.BytesToAddress(key[len(countPrefix):])
			if _, loaded := s.series[subject]; !loaded {
				seen[subject] = true
			}
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, err
	}

	subjects := make([]common.Address, 0, len(seen))
	for subject := range seen {
		subjects = append(subjects, subject)
	}
	slices.SortFunc(subjects, func(a, b common.Address) int { return a.Cmp(b) })
	return subjects, nil
}

// HasHistory reports whether the database holds any checkpoint or snapshot
// from an earlier run
func (s *Store) HasHistory() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, prefix := range [][]byte{countPrefix, snapshotPrefix} {
		it := s.db.NewIterator(prefix, nil)
		found := it.Next()
		it.Release()
		if err := it.Error(); err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Close flushes and closes the underlying database
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.lookups.Reset()
	return s.db.Close()
}

// load returns the arena of subject, reading it from disk on first use
func (s *Store) load(subject common.Address) (*series, error) {
	if ser, ok := s.series[subject]; ok {
		return ser, nil
	}
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	ser := &series{dirtyFrom: -1}
	raw, err := s.db.Get(countKey(subject))
	if err == nil && len(raw) == 8 {
		count := binary.BigEndian.Uint64(raw)
		ser.entries = make([]entry, 0, count)
		for i := uint64(0); i < count; i++ {
			data, err := s.db.Get(entryKey(subject, i))
			if err != nil {
				return nil, fmt.Errorf("checkpoint %d of %s: %w", i, subject.Hex(), err)
			}
			e, err := decodeEntry(data)
			if err != nil {
				return nil, err
			}
			ser.entries = append(ser.entries, e)
		}
	}
	s.series[subject] = ser
	return ser, nil
}

func (ser *series) markDirty(idx int) {
	if ser.dirtyFrom < 0 || idx < ser.dirtyFrom {
		ser.dirtyFrom = idx
	}
}

func countKey(subject common.Address) []byte {
	return append(append([]byte{}, countPrefix...), subject.Bytes()...)
}

func entryKey(subject common.Address, idx uint64) []byte {
	key := append(append([]byte{}, entryPrefix...), subject.Bytes()...)
	return binary.BigEndian.AppendUint64(key, idx)
}

func snapshotKey(name string) []byte {
	return append(append([]byte{}, snapshotPrefix...), name...)
}

func lookupKey(subject common.Address, t uint64) []byte {
	return binary.BigEndian.AppendUint64(subject.Bytes(), t)
}

func encodeEntry(e *entry) []byte {
	buf := make([]byte, 8, 40)
	binary.BigEndian.PutUint64(buf, e.timepoint)
	value := e.value.Bytes32()
	return append(buf, value[:]...)
}

func decodeEntry(data []byte) (entry, error) {
	if len(data) != 40 {
		return entry{}, fmt.Errorf("corrupt checkpoint entry of %d bytes", len(data))
	}
	var e entry
	e.timepoint = binary.BigEndian.Uint64(data[:8])
	e.value.SetBytes(data[8:])
	return e, nil
}
