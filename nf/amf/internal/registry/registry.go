package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/config"
)

const (
	// HeartbeatExpiry marks an instance stale; an instance whose last
	// heartbeat is exactly this old is already stale.
	HeartbeatExpiry = 60 * time.Second

	// RemovalExpiry deletes an instance entirely.
	RemovalExpiry = 120 * time.Second
)

// DiscoveryQuery filters NF instances during discovery.
type DiscoveryQuery struct {
	TargetType  NFType
	ServiceName string
	PLMNID      string
	SNSSAI      *config.SNSSAI
	DNN         string
}

// Registry is the NF instance registry with load-aware selection.
type Registry struct {
	mu sync.RWMutex

	instances map[string]*NFInstance
	byType    map[NFType][]string

	logger *zap.Logger
}

// NewRegistry creates an empty NF registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		instances: make(map[string]*NFInstance),
		byType:    make(map[NFType][]string),
		logger:    logger,
	}
}

// Register adds a new NF instance. It fails if the id is already known.
func (r *Registry) Register(nf *NFInstance) error {
	if !nf.IsValid() {
		return fmt.Errorf("invalid NF profile: %s", nf.InstanceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[nf.InstanceID]; exists {
		return fmt.Errorf("NF instance already registered: %s", nf.InstanceID)
	}

	nf.Load = clampLoad(nf.Load)
	nf.RegisteredAt = time.Now()
	nf.LastHeartbeat = time.Now()
	r.instances[nf.InstanceID] = nf
	r.byType[nf.NFType] = append(r.byType[nf.NFType], nf.InstanceID)

	r.logger.Info("NF instance registered",
		zap.String("nf_instance_id", nf.InstanceID),
		zap.String("nf_type", string(nf.NFType)),
		zap.Int("priority", nf.Priority),
	)
	return nil
}

// Update replaces an existing NF profile, keeping the type index consistent.
func (r *Registry) Update(id string, nf *NFInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.instances[id]
	if !exists {
		return fmt.Errorf("NF instance not found: %s", id)
	}

	if old.NFType != nf.NFType {
		r.removeFromTypeIndex(old.NFType, id)
		r.byType[nf.NFType] = append(r.byType[nf.NFType], id)
	}

	nf.InstanceID = id
	nf.Load = clampLoad(nf.Load)
	nf.RegisteredAt = old.RegisteredAt
	if nf.LastHeartbeat.IsZero() {
		nf.LastHeartbeat = old.LastHeartbeat
	}
	r.instances[id] = nf
	return nil
}

// Deregister removes an NF instance.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nf, exists := r.instances[id]
	if !exists {
		return fmt.Errorf("NF instance not found: %s", id)
	}

	delete(r.instances, id)
	r.removeFromTypeIndex(nf.NFType, id)

	r.logger.Info("NF instance deregistered",
		zap.String("nf_instance_id", id),
		zap.String("nf_type", string(nf.NFType)),
	)
	return nil
}

// UpdateStatus sets the status of an NF instance.
func (r *Registry) UpdateStatus(id string, status NFStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nf, exists := r.instances[id]
	if !exists {
		return fmt.Errorf("NF instance not found: %s", id)
	}
	nf.Status = status
	return nil
}

// UpdateLoad sets the reported load of an NF instance, clamped to [0,100].
func (r *Registry) UpdateLoad(id string, load int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nf, exists := r.instances[id]
	if !exists {
		return fmt.Errorf("NF instance not found: %s", id)
	}
	nf.Load = clampLoad(load)
	return nil
}

// Heartbeat bumps the last-heartbeat stamp of an NF instance.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nf, exists := r.instances[id]
	if !exists {
		return fmt.Errorf("NF instance not found: %s", id)
	}
	nf.LastHeartbeat = time.Now()
	return nil
}

// Get returns a snapshot of an NF instance.
func (r *Registry) Get(id string) (*NFInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nf, exists := r.instances[id]
	if !exists {
		return nil, false
	}
	return nf.clone(), true
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// HealthyCount returns the number of healthy instances.
func (r *Registry) HealthyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	count := 0
	for _, nf := range r.instances {
		if isHealthy(nf, now) {
			count++
		}
	}
	return count
}

// Discover returns healthy instances matching the query, sorted by
// descending priority with ties broken by ascending load.
func (r *Registry) Discover(q DiscoveryQuery) []*NFInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var results []*NFInstance
	for _, id := range r.byType[q.TargetType] {
		nf := r.instances[id]
		if !isHealthy(nf, now) {
			continue
		}
		if q.ServiceName != "" && !nf.HasService(q.ServiceName) {
			continue
		}
		if q.PLMNID != "" && nf.PLMNID != "" && nf.PLMNID != q.PLMNID {
			continue
		}
		if q.SNSSAI != nil && !nf.SupportsSlice(*q.SNSSAI) {
			continue
		}
		if q.DNN != "" && !nf.SupportsDNN(q.DNN) {
			continue
		}
		results = append(results, nf.clone())
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Priority != results[j].Priority {
			return results[i].Priority > results[j].Priority
		}
		return results[i].Load < results[j].Load
	})
	return results
}

// Select returns the best instance of the given type for the PLMN, or nil.
func (r *Registry) Select(nfType NFType, plmnID string) *NFInstance {
	results := r.Discover(DiscoveryQuery{TargetType: nfType, PLMNID: plmnID})
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

// HealthSweep suspends every instance whose heartbeat has gone stale.
func (r *Registry) HealthSweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	suspended := 0
	for _, nf := range r.instances {
		if nf.Status == NFStatusRegistered && now.Sub(nf.LastHeartbeat) >= HeartbeatExpiry {
			nf.Status = NFStatusSuspended
			suspended++
			r.logger.Warn("NF instance suspended on stale heartbeat",
				zap.String("nf_instance_id", nf.InstanceID),
				zap.String("nf_type", string(nf.NFType)),
				zap.Duration("age", now.Sub(nf.LastHeartbeat)),
			)
		}
	}
	return suspended
}

// ExpireSweep removes every instance whose heartbeat is older than the
// removal expiry.
func (r *Registry) ExpireSweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, nf := range r.instances {
		if now.Sub(nf.LastHeartbeat) > RemovalExpiry {
			delete(r.instances, id)
			r.removeFromTypeIndex(nf.NFType, id)
			removed++
			r.logger.Warn("NF instance expired",
				zap.String("nf_instance_id", id),
				zap.String("nf_type", string(nf.NFType)),
			)
		}
	}
	return removed
}

// isHealthy: Registered with a fresh heartbeat. Exactly at the expiry is
// stale; strict inequality is reserved for fresh.
func isHealthy(nf *NFInstance, now time.Time) bool {
	return nf.Status == NFStatusRegistered && now.Sub(nf.LastHeartbeat) < HeartbeatExpiry
}

func (r *Registry) removeFromTypeIndex(t NFType, id string) {
	ids := r.byType[t]
	for i, existing := range ids {
		if existing == id {
			r.byType[t] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byType[t]) == 0 {
		delete(r.byType, t)
	}
}

func clampLoad(load int) int {
	if load < 0 {
		return 0
	}
	if load > 100 {
		return 100
	}
	return load
}
