// Package message defines the internal wire message model shared by the SBI,
// N1 and N2 adapters.
package message

import (
	"time"
)

// ServiceType identifies the SBI service family a request belongs to.
type ServiceType int

const (
	ServiceUnknown ServiceType = iota
	ServiceNamfComm
	ServiceNausfAuth
	ServiceNsmfPDUSession
	ServiceNpcfAMPolicy
	ServiceNnrfNFM
	ServiceNnrfDisc
)

// String returns the 3GPP service name.
func (s ServiceType) String() string {
	switch s {
	case ServiceNamfComm:
		return "namf-comm"
	case ServiceNausfAuth:
		return "nausf-auth"
	case ServiceNsmfPDUSession:
		return "nsmf-pdusession"
	case ServiceNpcfAMPolicy:
		return "npcf-am-policy"
	case ServiceNnrfNFM:
		return "nnrf-nfm"
	case ServiceNnrfDisc:
		return "nnrf-disc"
	default:
		return "unknown"
	}
}

// OperationType identifies the operation within a service.
type OperationType int

const (
	OpUnknown OperationType = iota
	OpUEContextCreate
	OpUEContextUpdate
	OpUEContextRelease
	OpUEAuthentication
	OpPDUSessionCreate
	OpPDUSessionRelease
	OpAMPolicyControl
	OpNFManagement
	OpNFDiscovery
)

// String returns a short operation label.
func (o OperationType) String() string {
	switch o {
	case OpUEContextCreate:
		return "UeContextCreate"
	case OpUEContextUpdate:
		return "UeContextUpdate"
	case OpUEContextRelease:
		return "UeContextRelease"
	case OpUEAuthentication:
		return "UeAuthentication"
	case OpPDUSessionCreate:
		return "PduSessionCreate"
	case OpPDUSessionRelease:
		return "PduSessionRelease"
	case OpAMPolicyControl:
		return "AmPolicyControl"
	case OpNFManagement:
		return "NfManagement"
	case OpNFDiscovery:
		return "NfDiscovery"
	default:
		return "Unknown"
	}
}

// SBIMessage is a decoded SBI request or response. Responses are correlated
// with their request by RequestID rather than by message type.
type SBIMessage struct {
	RequestID   string
	ServiceType ServiceType
	Operation   OperationType
	Method      string
	URI         string
	Headers     map[string][]string
	Body        []byte
	Status      int
	Timestamp   time.Time
}

// N1 message types (NAS, simplified 5GMM set).
type N1MessageType int

const (
	N1Unknown N1MessageType = iota
	N1RegistrationRequest
	N1RegistrationAccept
	N1RegistrationReject
	N1RegistrationComplete
	N1DeregistrationRequest
	N1DeregistrationAccept
	N1ServiceRequest
	N1ServiceAccept
	N1ServiceReject
	N1AuthenticationRequest
	N1AuthenticationResponse
	N1AuthenticationFailure
	N1SecurityModeCommand
	N1SecurityModeComplete
	N1SecurityModeReject
	N1PDUSessionEstablishmentRequest
	N1PDUSessionEstablishmentAccept
	N1PDUSessionReleaseRequest
	N1PDUSessionReleaseComplete
)

// N1Message is a NAS message toward or from a UE.
type N1Message struct {
	Type         N1MessageType
	UEID         string // SUPI or GUTI
	NASContainer []byte
	IEs          map[string]string
	Timestamp    time.Time
}

// N2 message types (NGAP, simplified set).
type N2MessageType int

const (
	N2Unknown N2MessageType = iota
	N2NGSetupRequest
	N2NGSetupResponse
	N2InitialUEMessage
	N2InitialContextSetupRequest
	N2InitialContextSetupResponse
	N2UEContextReleaseCommand
	N2UEContextReleaseComplete
	N2DownlinkNASTransport
	N2UplinkNASTransport
	N2HandoverRequired
	N2HandoverRequest
	N2HandoverNotify
	N2Paging
	N2PDUSessionResourceSetupRequest
	N2PDUSessionResourceSetupResponse
	N2PDUSessionResourceReleaseCommand
)

// N2Message is an NGAP message toward or from a RAN node.
type N2Message struct {
	Type          N2MessageType
	RANNodeID     string
	AMFUENGAPID   uint64
	RANUENGAPID   uint64
	NGAPContainer []byte
	IEs           map[string]string
	Timestamp     time.Time
}
