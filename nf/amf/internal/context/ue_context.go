// Package context holds per-UE state and the process-wide UE context store.
package context

import (
	"fmt"
	"sync"
	"time"

	"github.com/your-org/5gc-core/nf/amf/internal/config"
)

// RegistrationState represents UE registration state
type RegistrationState string

const (
	StateDeregistered        RegistrationState = "DEREGISTERED"
	StateRegisteredIdle      RegistrationState = "REGISTERED_IDLE"
	StateRegisteredConnected RegistrationState = "REGISTERED_CONNECTED"
)

// PDUSessionState represents the state of a PDU session
type PDUSessionState string

const (
	PDUSessionStateActive   PDUSessionState = "ACTIVE"
	PDUSessionStateInactive PDUSessionState = "INACTIVE"
	PDUSessionStateReleased PDUSessionState = "RELEASED"
)

// SecurityContext holds the UE security sub-context
type SecurityContext struct {
	KAMF             []byte
	KSEAF            []byte
	KAUSF            []byte
	KeySetIdentifier uint8
	LastAuthAt       time.Time
	Authenticated    bool
}

// LocationInfo holds the last reported UE location
type LocationInfo struct {
	TAI        string
	CellID     string
	RATType    string
	LastUpdate time.Time
}

// AccessInfo holds current access network attachment
type AccessInfo struct {
	AccessType string
	RANNodeID  string
	RANAddress string
	Connected  bool
}

// MobilityInfo holds slice and roaming information
type MobilityInfo struct {
	AllowedNSSAI    []config.SNSSAI
	ConfiguredNSSAI []config.SNSSAI
	Roaming         bool
}

// SubscriptionInfo holds subscription data relevant to mobility management
type SubscriptionInfo struct {
	SubscribedNSSAI   []config.SNSSAI
	AccessRestriction string
	Emergency         bool
}

// PDUSessionInfo represents one PDU session of a UE
type PDUSessionInfo struct {
	SessionID     uint8
	DNN           string
	SNSSAI        config.SNSSAI
	SMFInstanceID string
	UPFInstanceID string
	SessionType   string
	State         PDUSessionState
	CreatedAt     time.Time
}

// UEContext represents one subscriber known to this AMF. Mutations must hold
// the context lock; the store serializes writers to the same UE through it.
type UEContext struct {
	mu sync.RWMutex

	// Identities
	SUPI string
	PEI  string
	GPSI string
	GUTI string
	TMSI string

	// Registration state
	State           RegistrationState
	ConnectionState string // sub-state label updated by adapters

	Security     SecurityContext
	Location     LocationInfo
	Access       AccessInfo
	Mobility     MobilityInfo
	Subscription SubscriptionInfo

	// PDU sessions keyed by session id
	Sessions map[uint8]*PDUSessionInfo

	CreatedAt    time.Time
	LastActivity time.Time
}

// NewUEContext creates a new UE context in the Deregistered state.
func NewUEContext(supi string) *UEContext {
	now := time.Now()
	return &UEContext{
		SUPI:         supi,
		State:        StateDeregistered,
		Sessions:     make(map[uint8]*PDUSessionInfo),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Lock acquires the per-UE write lock. Callers hold it across a read-modify-
// write of the context and release with Unlock.
func (ue *UEContext) Lock() { ue.mu.Lock() }

// Unlock releases the per-UE write lock and refreshes the activity stamp.
func (ue *UEContext) Unlock() {
	ue.LastActivity = time.Now()
	ue.mu.Unlock()
}

// RLock acquires the per-UE read lock.
func (ue *UEContext) RLock() { ue.mu.RLock() }

// RUnlock releases the per-UE read lock.
func (ue *UEContext) RUnlock() { ue.mu.RUnlock() }

// GetState returns the registration state.
func (ue *UEContext) GetState() RegistrationState {
	ue.mu.RLock()
	defer ue.mu.RUnlock()
	return ue.State
}

// IsConnected reports whether the UE has an active access connection.
func (ue *UEContext) IsConnected() bool {
	ue.mu.RLock()
	defer ue.mu.RUnlock()
	return ue.Access.Connected
}

// SessionCount returns the number of PDU sessions.
func (ue *UEContext) SessionCount() int {
	ue.mu.RLock()
	defer ue.mu.RUnlock()
	return len(ue.Sessions)
}

// AddSession adds a PDU session. The session slice must be in the UE's
// allowed NSSAI and a UE in Deregistered state cannot carry sessions.
func (ue *UEContext) AddSession(s *PDUSessionInfo) error {
	ue.mu.Lock()
	defer func() {
		ue.LastActivity = time.Now()
		ue.mu.Unlock()
	}()

	if ue.State == StateDeregistered {
		return fmt.Errorf("UE %s is deregistered", ue.SUPI)
	}
	if _, exists := ue.Sessions[s.SessionID]; exists {
		return fmt.Errorf("session %d already exists for UE %s", s.SessionID, ue.SUPI)
	}
	if !ue.sliceAllowed(s.SNSSAI) {
		return fmt.Errorf("slice %s not allowed for UE %s", s.SNSSAI, ue.SUPI)
	}

	ue.Sessions[s.SessionID] = s
	return nil
}

// RemoveSession removes a PDU session.
func (ue *UEContext) RemoveSession(sessionID uint8) bool {
	ue.mu.Lock()
	defer func() {
		ue.LastActivity = time.Now()
		ue.mu.Unlock()
	}()

	if _, exists := ue.Sessions[sessionID]; !exists {
		return false
	}
	delete(ue.Sessions, sessionID)
	return true
}

// GetSession retrieves a PDU session.
func (ue *UEContext) GetSession(sessionID uint8) (*PDUSessionInfo, bool) {
	ue.mu.RLock()
	defer ue.mu.RUnlock()
	s, ok := ue.Sessions[sessionID]
	return s, ok
}

// ReleaseAllSessions marks every session released and drops it.
func (ue *UEContext) ReleaseAllSessions() {
	ue.mu.Lock()
	defer func() {
		ue.LastActivity = time.Now()
		ue.mu.Unlock()
	}()

	for id, s := range ue.Sessions {
		s.State = PDUSessionStateReleased
		delete(ue.Sessions, id)
	}
}

func (ue *UEContext) sliceAllowed(snssai config.SNSSAI) bool {
	for _, allowed := range ue.Mobility.AllowedNSSAI {
		if allowed.SST == snssai.SST && allowed.SD == snssai.SD {
			return true
		}
	}
	return false
}
