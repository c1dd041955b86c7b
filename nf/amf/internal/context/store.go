package context

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/your-org/5gc-core/nf/amf/internal/config"
)

const shardCount = 64

// Store is the process-wide SUPI -> UEContext mapping with a GUTI reverse
// index. Contexts are sharded by SUPI hash so writers to different UEs do
// not block each other.
type Store struct {
	shards [shardCount]shard

	gutiMu    sync.RWMutex
	gutiIndex map[string]string // GUTI -> SUPI
}

type shard struct {
	mu       sync.RWMutex
	contexts map[string]*UEContext
}

// NewStore creates an empty UE context store.
func NewStore() *Store {
	s := &Store{gutiIndex: make(map[string]string)}
	for i := range s.shards {
		s.shards[i].contexts = make(map[string]*UEContext)
	}
	return s
}

func (s *Store) shardFor(supi string) *shard {
	h := fnv.New32a()
	h.Write([]byte(supi))
	return &s.shards[h.Sum32()%shardCount]
}

// Create creates a new UE context. It fails if the SUPI is already known.
func (s *Store) Create(supi string) (*UEContext, error) {
	sh := s.shardFor(supi)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.contexts[supi]; exists {
		return nil, fmt.Errorf("UE context already exists: %s", supi)
	}

	ue := NewUEContext(supi)
	sh.contexts[supi] = ue
	return ue, nil
}

// Get retrieves a UE context by SUPI.
func (s *Store) Get(supi string) (*UEContext, bool) {
	sh := s.shardFor(supi)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	ue, ok := sh.contexts[supi]
	return ue, ok
}

// GetByGuti retrieves a UE context through the GUTI reverse index. A GUTI
// entry pointing at a SUPI missing from the primary index is a broken
// invariant and panics; an external supervisor restarts the process.
func (s *Store) GetByGuti(guti string) (*UEContext, bool) {
	s.gutiMu.RLock()
	supi, ok := s.gutiIndex[guti]
	s.gutiMu.RUnlock()
	if !ok {
		return nil, false
	}

	ue, ok := s.Get(supi)
	if !ok {
		panic(fmt.Sprintf("GUTI index inconsistent: %s -> %s not in store", guti, supi))
	}
	return ue, true
}

// SetGuti assigns a GUTI to a UE and keeps the reverse index consistent.
func (s *Store) SetGuti(supi, guti string) error {
	ue, ok := s.Get(supi)
	if !ok {
		return fmt.Errorf("UE context not found: %s", supi)
	}

	ue.Lock()
	old := ue.GUTI
	ue.GUTI = guti
	ue.Unlock()

	s.gutiMu.Lock()
	defer s.gutiMu.Unlock()
	if old != "" {
		delete(s.gutiIndex, old)
	}
	if guti != "" {
		s.gutiIndex[guti] = supi
	}
	return nil
}

// Remove removes a UE context and its GUTI reverse mapping if present.
func (s *Store) Remove(supi string) bool {
	sh := s.shardFor(supi)
	sh.mu.Lock()
	ue, ok := sh.contexts[supi]
	if ok {
		delete(sh.contexts, supi)
	}
	sh.mu.Unlock()
	if !ok {
		return false
	}

	ue.RLock()
	guti := ue.GUTI
	ue.RUnlock()
	if guti != "" {
		s.gutiMu.Lock()
		delete(s.gutiIndex, guti)
		s.gutiMu.Unlock()
	}
	return true
}

// AllActive returns a snapshot of all non-deregistered contexts. Callers
// must not assume ordering.
func (s *Store) AllActive() []*UEContext {
	var out []*UEContext
	s.forEach(func(ue *UEContext) {
		if ue.GetState() != StateDeregistered {
			out = append(out, ue)
		}
	})
	return out
}

// BySlice returns the contexts whose allowed NSSAI contains the given slice.
func (s *Store) BySlice(snssai config.SNSSAI) []*UEContext {
	var out []*UEContext
	s.forEach(func(ue *UEContext) {
		ue.RLock()
		for _, allowed := range ue.Mobility.AllowedNSSAI {
			if allowed.SST == snssai.SST && allowed.SD == snssai.SD {
				out = append(out, ue)
				break
			}
		}
		ue.RUnlock()
	})
	return out
}

// ByLocation returns the contexts last seen in the given tracking area.
func (s *Store) ByLocation(tai string) []*UEContext {
	var out []*UEContext
	s.forEach(func(ue *UEContext) {
		ue.RLock()
		if ue.Location.TAI == tai {
			out = append(out, ue)
		}
		ue.RUnlock()
	})
	return out
}

// Count returns the total number of UE contexts.
func (s *Store) Count() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		total += len(s.shards[i].contexts)
		s.shards[i].mu.RUnlock()
	}
	return total
}

// ConnectedCount returns the number of connected UEs.
func (s *Store) ConnectedCount() int {
	count := 0
	s.forEach(func(ue *UEContext) {
		if ue.IsConnected() {
			count++
		}
	})
	return count
}

// ActiveSessionCount returns the number of PDU sessions across all UEs.
func (s *Store) ActiveSessionCount() int {
	count := 0
	s.forEach(func(ue *UEContext) {
		count += ue.SessionCount()
	})
	return count
}

// SweepInactive removes contexts that are Deregistered and idle past the
// threshold. Contexts in any other state are never removed here.
func (s *Store) SweepInactive(threshold time.Duration) int {
	now := time.Now()
	var expired []string

	s.forEach(func(ue *UEContext) {
		ue.RLock()
		if ue.State == StateDeregistered && now.Sub(ue.LastActivity) > threshold {
			expired = append(expired, ue.SUPI)
		}
		ue.RUnlock()
	})

	removed := 0
	for _, supi := range expired {
		if s.Remove(supi) {
			removed++
		}
	}
	return removed
}

func (s *Store) forEach(fn func(*UEContext)) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		snapshot := make([]*UEContext, 0, len(sh.contexts))
		for _, ue := range sh.contexts {
			snapshot = append(snapshot, ue)
		}
		sh.mu.RUnlock()

		for _, ue := range snapshot {
			fn(ue)
		}
	}
}
