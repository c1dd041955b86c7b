package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/config"
	uectx "github.com/your-org/5gc-core/nf/amf/internal/context"
	"github.com/your-org/5gc-core/nf/amf/internal/fsm"
	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

const testSUPI = "imsi-460001234567890"

// newTestAMF builds a fully wired AMF serving SBI in-process, without
// opening the N2 listener or the monitor workers.
func newTestAMF(t *testing.T, mutate func(*config.Config)) (*AMF, *httptest.Server) {
	t.Helper()

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	a := NewAMF(cfg, zap.NewNop())
	require.NoError(t, a.bootstrapNFs())
	a.state.Store("OPERATIONAL")

	srv := httptest.NewServer(a.sbi.Router())
	t.Cleanup(srv.Close)
	return a, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func registerUE(t *testing.T, srv *httptest.Server, supi string) {
	t.Helper()
	resp := postJSON(t, srv.URL+"/namf-comm/v1/ue-contexts", map[string]string{"supi": supi})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestFreshRegistration(t *testing.T) {
	a, srv := newTestAMF(t, nil)

	resp := postJSON(t, srv.URL+"/namf-comm/v1/ue-contexts", map[string]string{"supi": testSUPI})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, testSUPI, body["ueContextId"])

	assert.Equal(t, 1, a.store.Count())

	ue, ok := a.store.Get(testSUPI)
	require.True(t, ok)
	assert.Equal(t, uectx.StateRegisteredConnected, ue.GetState())
	assert.True(t, ue.IsConnected())

	stats := a.GetStats()
	assert.Equal(t, uint64(1), stats.TotalRegistrations)
	assert.Equal(t, 1, stats.ConnectedUEs)

	// The fresh GUTI resolves back to the same context.
	ue.RLock()
	guti := ue.GUTI
	ue.RUnlock()
	require.NotEmpty(t, guti)
	byGuti, ok := a.store.GetByGuti(guti)
	require.True(t, ok)
	assert.Same(t, ue, byGuti)
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	resp := postJSON(t, srv.URL+"/namf-comm/v1/ue-contexts", map[string]string{"supi": testSUPI})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 1, a.store.Count())
	assert.Equal(t, uint64(1), a.GetStats().TotalRegistrations)
}

func TestRegistrationRejectsMissingSUPI(t *testing.T) {
	_, srv := newTestAMF(t, nil)

	resp := postJSON(t, srv.URL+"/namf-comm/v1/ue-contexts", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegistrationCapacityLimit(t *testing.T) {
	_, srv := newTestAMF(t, func(c *config.Config) { c.MaxUEConnections = 1 })

	registerUE(t, srv, "imsi-1")

	resp := postJSON(t, srv.URL+"/namf-comm/v1/ue-contexts", map[string]string{"supi": "imsi-2"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEmergencyRegistration(t *testing.T) {
	a, srv := newTestAMF(t, nil)

	data, _ := json.Marshal(map[string]string{"supi": testSUPI})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/namf-comm/v1/ue-contexts", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("X-Emergency-Registration", "true")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ue, ok := a.store.Get(testSUPI)
	require.True(t, ok)
	ue.RLock()
	defer ue.RUnlock()
	assert.True(t, ue.Subscription.Emergency)
}

func TestSessionCreateThenRelease(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	resp := postJSON(t, srv.URL+"/nsmf-pdusession/v1/sm-contexts", map[string]string{"supi": testSUPI})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeJSON(t, resp)

	ref, ok := body["smContextRef"].(string)
	require.True(t, ok)
	require.NotEmpty(t, ref)

	ue, _ := a.store.Get(testSUPI)
	require.Equal(t, 1, ue.SessionCount())

	session, ok := ue.GetSession(uint8(body["pduSessionId"].(float64)))
	require.True(t, ok)
	assert.Equal(t, uectx.PDUSessionStateActive, session.State)
	assert.Equal(t, "internet", session.DNN)
	assert.NotEmpty(t, session.SMFInstanceID)
	assert.Equal(t, uint64(1), a.GetStats().TotalPDUSessions)

	del := doRequest(t, http.MethodDelete, srv.URL+ref)
	del.Body.Close()
	require.Equal(t, http.StatusOK, del.StatusCode)

	assert.Equal(t, 0, ue.SessionCount())
	assert.Equal(t, uectx.StateRegisteredIdle, ue.GetState())
}

func TestSessionCreateRequiresRegistration(t *testing.T) {
	_, srv := newTestAMF(t, nil)

	resp := postJSON(t, srv.URL+"/nsmf-pdusession/v1/sm-contexts", map[string]string{"supi": "imsi-unknown"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSessionCreateWhileIdleReconnects(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	ue, _ := a.store.Get(testSUPI)
	a.machine.Fire(ue, fsm.EventANRelease)
	require.Equal(t, uectx.StateRegisteredIdle, ue.GetState())

	resp := postJSON(t, srv.URL+"/nsmf-pdusession/v1/sm-contexts", map[string]string{"supi": testSUPI})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, uectx.StateRegisteredConnected, ue.GetState())
	assert.Equal(t, 1, ue.SessionCount())
}

func TestRefusedSessionStagingLeavesNothingBehind(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	// The UE raced back to connected, so the establishment event is not
	// accepted and the staged entry must be unstaged again.
	ue, _ := a.store.Get(testSUPI)
	require.Equal(t, uectx.StateRegisteredConnected, ue.GetState())

	staged := a.stagePendingSession(ue, &pendingSession{sessionID: 7, dnn: "internet"})
	assert.False(t, staged)
	assert.Equal(t, 0, ue.SessionCount())

	a.pendingMu.Lock()
	_, leaked := a.pendingSessions[testSUPI]
	a.pendingMu.Unlock()
	assert.False(t, leaked)
}

func TestDuplicateSessionIDConflicts(t *testing.T) {
	_, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	first := postJSON(t, srv.URL+"/nsmf-pdusession/v1/sm-contexts",
		map[string]any{"supi": testSUPI, "pduSessionId": 5})
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second := postJSON(t, srv.URL+"/nsmf-pdusession/v1/sm-contexts",
		map[string]any{"supi": testSUPI, "pduSessionId": 5})
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestUEContextRelease(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	sess := postJSON(t, srv.URL+"/nsmf-pdusession/v1/sm-contexts", map[string]string{"supi": testSUPI})
	sess.Body.Close()
	require.Equal(t, http.StatusCreated, sess.StatusCode)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/namf-comm/v1/ue-contexts/"+testSUPI)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ue, _ := a.store.Get(testSUPI)
	assert.Equal(t, uectx.StateDeregistered, ue.GetState())
	assert.Equal(t, 0, ue.SessionCount())
	assert.Equal(t, uint64(1), a.GetStats().TotalDeregistrations)
}

func TestReleaseUnknownUEForbidden(t *testing.T) {
	_, srv := newTestAMF(t, nil)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/namf-comm/v1/ue-contexts/imsi-unknown")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuthenticationSelectsAUSF(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	resp := postJSON(t, srv.URL+"/nausf-auth/v1/authentications", map[string]string{"supi": testSUPI})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.NotEmpty(t, body["ausfInstanceId"])

	ue, _ := a.store.Get(testSUPI)
	ue.RLock()
	defer ue.RUnlock()
	assert.False(t, ue.Security.LastAuthAt.IsZero())
}

func TestNFManagementLifecycle(t *testing.T) {
	_, srv := newTestAMF(t, nil)

	profile := map[string]any{
		"nfType":   "SMF",
		"nfStatus": "REGISTERED",
		"plmnId":   "46000",
		"priority": 50,
	}
	data, _ := json.Marshal(profile)

	put := func() *http.Response {
		req, err := http.NewRequest(http.MethodPut,
			srv.URL+"/nnrf-nfm/v1/nf-instances/smf-test", bytes.NewReader(data))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := put()
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = put()
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	hb := doRequest(t, http.MethodPatch, srv.URL+"/nnrf-nfm/v1/nf-instances/smf-test")
	hb.Body.Close()
	assert.Equal(t, http.StatusOK, hb.StatusCode)

	del := doRequest(t, http.MethodDelete, srv.URL+"/nnrf-nfm/v1/nf-instances/smf-test")
	del.Body.Close()
	assert.Equal(t, http.StatusOK, del.StatusCode)

	gone := doRequest(t, http.MethodPatch, srv.URL+"/nnrf-nfm/v1/nf-instances/smf-test")
	gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestNFDiscoveryEndpoint(t *testing.T) {
	_, srv := newTestAMF(t, nil)

	resp, err := http.Get(srv.URL + "/nnrf-disc/v1/nf-instances?target-nf-type=SMF")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	instances, ok := body["nfInstances"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, instances)

	missing, err := http.Get(srv.URL + "/nnrf-disc/v1/nf-instances")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestN2InitialUEMessageRegisters(t *testing.T) {
	a, _ := newTestAMF(t, nil)

	a.n2.HandleIncoming(&message.N2Message{
		Type:      message.N2InitialUEMessage,
		RANNodeID: "gnb-001",
		IEs:       map[string]string{"supi": testSUPI},
	})

	ue, ok := a.store.Get(testSUPI)
	require.True(t, ok)
	assert.Equal(t, uectx.StateRegisteredConnected, ue.GetState())

	ue.RLock()
	defer ue.RUnlock()
	assert.Equal(t, "gnb-001", ue.Access.RANNodeID)
	assert.Equal(t, "NR", ue.Location.RATType)
}

func TestHandoverFlow(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	ue, _ := a.store.Get(testSUPI)

	// Handover is staged from idle in this model.
	a.n2.HandleIncoming(&message.N2Message{
		Type: message.N2UEContextReleaseComplete,
		IEs:  map[string]string{"supi": testSUPI},
	})
	require.Equal(t, uectx.StateRegisteredIdle, ue.GetState())

	a.n2.HandleIncoming(&message.N2Message{
		Type: message.N2HandoverRequired,
		IEs:  map[string]string{"supi": testSUPI, "targetRanNodeId": "gnb-002"},
	})

	assert.Equal(t, uectx.StateRegisteredConnected, ue.GetState())
	ue.RLock()
	ranNode := ue.Access.RANNodeID
	ue.RUnlock()
	assert.Equal(t, "gnb-002", ranNode)
	assert.Equal(t, uint64(1), a.GetStats().Handovers)

	a.n2.HandleIncoming(&message.N2Message{
		Type: message.N2HandoverNotify,
		IEs:  map[string]string{"supi": testSUPI},
	})
	assert.Equal(t, uectx.StateRegisteredIdle, ue.GetState())
}

func TestPagingWhileIdle(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, testSUPI)

	ue, _ := a.store.Get(testSUPI)
	a.machine.Fire(ue, fsm.EventANRelease)

	paged := make(chan *message.N2Message, 1)
	a.n2.SetOutbound(func(msg *message.N2Message) {
		if msg.Type == message.N2Paging {
			paged <- msg
		}
	})

	a.machine.Fire(ue, fsm.EventPagingRequest)

	select {
	case msg := <-paged:
		assert.Equal(t, testSUPI, msg.IEs["supi"])
	default:
		t.Fatal("no paging message emitted")
	}
	assert.Equal(t, uint64(1), a.GetStats().PagingRequests)
	assert.Equal(t, uectx.StateRegisteredIdle, ue.GetState())
}

func TestGetStatsSnapshot(t *testing.T) {
	a, srv := newTestAMF(t, nil)
	registerUE(t, srv, "imsi-1")
	registerUE(t, srv, "imsi-2")

	stats := a.GetStats()
	assert.Equal(t, 2, stats.UEContexts)
	assert.Equal(t, 2, stats.ConnectedUEs)
	assert.Equal(t, uint64(2), stats.TotalRegistrations)
	assert.Equal(t, 6, stats.RegisteredNFs) // self + five bootstrapped peers
	assert.Equal(t, 6, stats.HealthyNFs)
	assert.Equal(t, 0, stats.SystemLoad)
}

func TestMetricsEndpointServed(t *testing.T) {
	_, srv := newTestAMF(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
