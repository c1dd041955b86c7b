package sbi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		method string
		uri    string
		svc    message.ServiceType
		op     message.OperationType
		known  bool
	}{
		{"ue context create", http.MethodPost, "/namf-comm/v1/ue-contexts", message.ServiceNamfComm, message.OpUEContextCreate, true},
		{"ue context update", http.MethodPut, "/namf-comm/v1/ue-contexts/imsi-1", message.ServiceNamfComm, message.OpUEContextUpdate, true},
		{"ue context release", http.MethodDelete, "/namf-comm/v1/ue-contexts/imsi-1", message.ServiceNamfComm, message.OpUEContextRelease, true},
		{"authentication", http.MethodPost, "/nausf-auth/v1/authentications", message.ServiceNausfAuth, message.OpUEAuthentication, true},
		{"sm context create", http.MethodPost, "/nsmf-pdusession/v1/sm-contexts", message.ServiceNsmfPDUSession, message.OpPDUSessionCreate, true},
		{"sm context release", http.MethodDelete, "/nsmf-pdusession/v1/sm-contexts/imsi-1:1", message.ServiceNsmfPDUSession, message.OpPDUSessionRelease, true},
		{"pdu session create", http.MethodPost, "/nsmf-pdusession/v1/pdu-sessions", message.ServiceNsmfPDUSession, message.OpPDUSessionCreate, true},
		{"am policy", http.MethodPost, "/npcf-am-policy/v1/policies", message.ServiceNpcfAMPolicy, message.OpAMPolicyControl, true},
		{"nf management", http.MethodPut, "/nnrf-nfm/v1/nf-instances/nf-1", message.ServiceNnrfNFM, message.OpNFManagement, true},
		{"nf discovery", http.MethodGet, "/nnrf-disc/v1/nf-instances?target-nf-type=SMF", message.ServiceNnrfDisc, message.OpNFDiscovery, true},
		{"legacy registration alias", http.MethodPost, "/registrations", message.ServiceNamfComm, message.OpUEContextCreate, true},
		{"legacy deregistration alias", http.MethodPost, "/deregistrations", message.ServiceNamfComm, message.OpUEContextRelease, true},
		{"unknown path", http.MethodGet, "/healthz", message.ServiceNamfComm, message.OpUEContextCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, op, known := Classify(tt.method, tt.uri)
			assert.Equal(t, tt.svc, svc)
			assert.Equal(t, tt.op, op)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestClassifyUnsupportedMethodOnKnownFamily(t *testing.T) {
	svc, op, known := Classify(http.MethodGet, "/namf-comm/v1/ue-contexts")
	assert.Equal(t, message.ServiceNamfComm, svc)
	assert.Equal(t, message.OpUnknown, op)
	assert.True(t, known)
}
