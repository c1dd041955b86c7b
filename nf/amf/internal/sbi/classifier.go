package sbi

import (
	"net/http"
	"strings"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

// Classify maps a request onto its service/operation tuple by URI substring,
// the way the legacy classifier did. The boolean reports whether the path
// matched a known service family; callers in strict mode turn a false into
// a 404, callers in compatibility mode fall back to namf-comm
// UeContextCreate to preserve the forgiving behavior.
func Classify(method, uri string) (message.ServiceType, message.OperationType, bool) {
	switch {
	case strings.Contains(uri, "/namf-comm/"):
		return message.ServiceNamfComm, classifyNamfComm(method, uri), true

	case strings.Contains(uri, "/nausf-auth/"):
		op := message.OpUnknown
		if strings.Contains(uri, "/authentications") {
			op = message.OpUEAuthentication
		}
		return message.ServiceNausfAuth, op, true

	case strings.Contains(uri, "/nsmf-pdusession/"):
		return message.ServiceNsmfPDUSession, classifyNsmf(method, uri), true

	case strings.Contains(uri, "/npcf-am-policy/"):
		return message.ServiceNpcfAMPolicy, message.OpAMPolicyControl, true

	case strings.Contains(uri, "/nnrf-nfm/"):
		return message.ServiceNnrfNFM, message.OpNFManagement, true

	case strings.Contains(uri, "/nnrf-disc/"):
		return message.ServiceNnrfDisc, message.OpNFDiscovery, true

	// Legacy aliases kept for compatibility-mode clients.
	case strings.Contains(uri, "/registrations"):
		return message.ServiceNamfComm, message.OpUEContextCreate, true
	case strings.Contains(uri, "/deregistrations"):
		return message.ServiceNamfComm, message.OpUEContextRelease, true
	}

	return message.ServiceNamfComm, message.OpUEContextCreate, false
}

func classifyNamfComm(method, uri string) message.OperationType {
	if !strings.Contains(uri, "/ue-contexts") {
		return message.OpUnknown
	}
	switch method {
	case http.MethodPost:
		return message.OpUEContextCreate
	case http.MethodPut:
		return message.OpUEContextUpdate
	case http.MethodDelete:
		return message.OpUEContextRelease
	}
	return message.OpUnknown
}

func classifyNsmf(method, uri string) message.OperationType {
	if !strings.Contains(uri, "/pdu-sessions") && !strings.Contains(uri, "/sm-contexts") {
		return message.OpUnknown
	}
	switch method {
	case http.MethodPost:
		return message.OpPDUSessionCreate
	case http.MethodDelete:
		return message.OpPDUSessionRelease
	}
	return message.OpUnknown
}
