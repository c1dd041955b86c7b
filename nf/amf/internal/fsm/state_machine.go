// Package fsm implements the per-UE registration state machine.
package fsm

import (
	"go.uber.org/zap"

	uectx "github.com/your-org/5gc-core/nf/amf/internal/context"
)

// Event is a stimulus driving the UE state machine.
type Event int

const (
	EventUnknown Event = iota
	EventRegistrationRequest
	EventEmergencyRegistration
	EventRegistrationReject
	EventAuthFailure
	EventSecModeReject
	EventNetworkFailure
	EventServiceRequest
	EventEmergencyServiceRequest
	EventPagingResponse
	EventPDUSessionEstablishmentRequest
	EventHandoverRequest
	EventDeregisterRequest
	EventDeregisterAccept
	EventT3511Expiry
	EventTrackingAreaUpdate
	EventPeriodicRegistrationUpdate
	EventPagingRequest
	EventANRelease
	EventConnectionRelease
	EventHandoverComplete
	EventPDUSessionReleaseRequest
	EventAuthRequest
	EventAuthResponse
	EventSecModeCommand
	EventSecModeComplete
)

var eventNames = map[Event]string{
	EventRegistrationRequest:            "RegistrationRequest",
	EventEmergencyRegistration:          "EmergencyRegistration",
	EventRegistrationReject:             "RegistrationReject",
	EventAuthFailure:                    "AuthFailure",
	EventSecModeReject:                  "SecModeReject",
	EventNetworkFailure:                 "NetworkFailure",
	EventServiceRequest:                 "ServiceRequest",
	EventEmergencyServiceRequest:        "EmergencyServiceRequest",
	EventPagingResponse:                 "PagingResponse",
	EventPDUSessionEstablishmentRequest: "PduSessionEstablishmentRequest",
	EventHandoverRequest:                "HandoverRequest",
	EventDeregisterRequest:              "DeregisterRequest",
	EventDeregisterAccept:               "DeregisterAccept",
	EventT3511Expiry:                    "T3511Expiry",
	EventTrackingAreaUpdate:             "TrackingAreaUpdate",
	EventPeriodicRegistrationUpdate:     "PeriodicRegistrationUpdate",
	EventPagingRequest:                  "PagingRequest",
	EventANRelease:                      "AnRelease",
	EventConnectionRelease:              "ConnectionRelease",
	EventHandoverComplete:               "HandoverComplete",
	EventPDUSessionReleaseRequest:       "PduSessionReleaseRequest",
	EventAuthRequest:                    "AuthRequest",
	EventAuthResponse:                   "AuthResponse",
	EventSecModeCommand:                 "SecModeCommand",
	EventSecModeComplete:                "SecModeComplete",
}

// String returns the event name.
func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "Unknown"
}

// Actions are the side effects the state machine delegates back to its
// owner. The transition table stays pure; the orchestrator implements these.
type Actions interface {
	RegisterUE(ue *uectx.UEContext, emergency bool)
	RecordRegistrationFailure(ue *uectx.UEContext, ev Event)
	EstablishConnection(ue *uectx.UEContext, ev Event)
	EstablishSession(ue *uectx.UEContext)
	UpdateRANNode(ue *uectx.UEContext)
	ReleaseUE(ue *uectx.UEContext, ev Event)
	UpdateLocation(ue *uectx.UEContext, ev Event)
	ReleaseConnection(ue *uectx.UEContext, ev Event)
	UpdateSecurity(ue *uectx.UEContext, ev Event)
}

type transition struct {
	target uectx.RegistrationState
	action func(a Actions, ue *uectx.UEContext, ev Event)
}

var transitions = map[uectx.RegistrationState]map[Event]transition{
	uectx.StateDeregistered: {
		EventRegistrationRequest: {uectx.StateRegisteredConnected, func(a Actions, ue *uectx.UEContext, ev Event) {
			a.RegisterUE(ue, false)
		}},
		EventEmergencyRegistration: {uectx.StateRegisteredConnected, func(a Actions, ue *uectx.UEContext, ev Event) {
			a.RegisterUE(ue, true)
		}},
		EventRegistrationReject: {uectx.StateDeregistered, actionFailure},
		EventAuthFailure:        {uectx.StateDeregistered, actionFailure},
		EventSecModeReject:      {uectx.StateDeregistered, actionFailure},
		EventNetworkFailure:     {uectx.StateDeregistered, actionFailure},
	},
	uectx.StateRegisteredIdle: {
		EventServiceRequest:          {uectx.StateRegisteredConnected, actionConnect},
		EventEmergencyServiceRequest: {uectx.StateRegisteredConnected, actionConnect},
		EventPagingResponse:          {uectx.StateRegisteredConnected, actionConnect},
		EventPDUSessionEstablishmentRequest: {uectx.StateRegisteredConnected, func(a Actions, ue *uectx.UEContext, ev Event) {
			a.EstablishSession(ue)
		}},
		EventHandoverRequest: {uectx.StateRegisteredConnected, func(a Actions, ue *uectx.UEContext, ev Event) {
			a.UpdateRANNode(ue)
		}},
		EventDeregisterRequest:          {uectx.StateDeregistered, actionRelease},
		EventT3511Expiry:                {uectx.StateDeregistered, actionRelease},
		EventNetworkFailure:             {uectx.StateDeregistered, actionRelease},
		EventTrackingAreaUpdate:         {uectx.StateRegisteredIdle, actionLocation},
		EventPeriodicRegistrationUpdate: {uectx.StateRegisteredIdle, actionLocation},
		EventPagingRequest:              {uectx.StateRegisteredIdle, actionLocation},
	},
	uectx.StateRegisteredConnected: {
		EventANRelease:                {uectx.StateRegisteredIdle, actionDisconnect},
		EventConnectionRelease:        {uectx.StateRegisteredIdle, actionDisconnect},
		EventHandoverComplete:         {uectx.StateRegisteredIdle, actionDisconnect},
		EventPDUSessionReleaseRequest: {uectx.StateRegisteredIdle, actionDisconnect},
		EventDeregisterRequest:        {uectx.StateDeregistered, actionRelease},
		EventDeregisterAccept:         {uectx.StateDeregistered, actionRelease},
		EventNetworkFailure:           {uectx.StateDeregistered, actionRelease},
		EventAuthFailure:              {uectx.StateDeregistered, actionRelease},
		EventAuthRequest:              {uectx.StateRegisteredConnected, actionSecurity},
		EventAuthResponse:             {uectx.StateRegisteredConnected, actionSecurity},
		EventSecModeCommand:           {uectx.StateRegisteredConnected, actionSecurity},
		EventSecModeComplete:          {uectx.StateRegisteredConnected, actionSecurity},
	},
}

func actionFailure(a Actions, ue *uectx.UEContext, ev Event) { a.RecordRegistrationFailure(ue, ev) }
func actionConnect(a Actions, ue *uectx.UEContext, ev Event) { a.EstablishConnection(ue, ev) }
func actionRelease(a Actions, ue *uectx.UEContext, ev Event) { a.ReleaseUE(ue, ev) }
func actionLocation(a Actions, ue *uectx.UEContext, ev Event) {
	a.UpdateLocation(ue, ev)
}
func actionDisconnect(a Actions, ue *uectx.UEContext, ev Event) {
	a.ReleaseConnection(ue, ev)
}
func actionSecurity(a Actions, ue *uectx.UEContext, ev Event) { a.UpdateSecurity(ue, ev) }

// Machine drives UE contexts through the registration state machine.
type Machine struct {
	actions Actions
	logger  *zap.Logger
}

// NewMachine creates a state machine bound to its side-effect implementation.
func NewMachine(actions Actions, logger *zap.Logger) *Machine {
	return &Machine{actions: actions, logger: logger}
}

// Fire applies an event to a UE. Events without a row in the current state
// are accepted and ignored. Fire returns true when a transition was applied.
// Concurrent events against the same UE are serialized by the UE's lock so
// the table semantics hold.
func (m *Machine) Fire(ue *uectx.UEContext, ev Event) bool {
	ue.Lock()
	from := ue.State
	t, ok := transitions[from][ev]
	if !ok {
		ue.Unlock()
		m.logger.Debug("event ignored in current state",
			zap.String("supi", ue.SUPI),
			zap.String("state", string(from)),
			zap.String("event", ev.String()),
		)
		return false
	}

	ue.State = t.target
	// The connected flag tracks the Connected state so the two never diverge.
	ue.Access.Connected = t.target == uectx.StateRegisteredConnected
	ue.Unlock()

	m.logger.Debug("UE state transition",
		zap.String("supi", ue.SUPI),
		zap.String("from", string(from)),
		zap.String("to", string(t.target)),
		zap.String("event", ev.String()),
	)

	if t.action != nil {
		t.action(m.actions, ue, ev)
	}
	return true
}
