package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/config"
	uectx "github.com/your-org/5gc-core/nf/amf/internal/context"
	"github.com/your-org/5gc-core/nf/amf/internal/fsm"
	"github.com/your-org/5gc-core/nf/amf/internal/message"
	"github.com/your-org/5gc-core/nf/amf/internal/registry"
	"github.com/your-org/5gc-core/nf/amf/internal/sbi"
)

// ueRequest is the common SBI request body for UE-scoped operations.
type ueRequest struct {
	SUPI         string `json:"supi"`
	PEI          string `json:"pei,omitempty"`
	GPSI         string `json:"gpsi,omitempty"`
	RANNodeID    string `json:"ranNodeId,omitempty"`
	DNN          string `json:"dnn,omitempty"`
	SNSSAI       string `json:"snssai,omitempty"` // "SST:n,SD:xxx"
	PDUSessionID uint8  `json:"pduSessionId,omitempty"`
}

// HandleSBI routes one decoded SBI message through the orchestrator and
// returns the outcome the adapter turns into an HTTP response.
func (a *AMF) HandleSBI(ctx context.Context, msg *message.SBIMessage) sbi.Outcome {
	_, span := a.tracer.Start(ctx, "AMF.HandleSBI")
	span.SetAttributes(
		attribute.String("sbi.service", msg.ServiceType.String()),
		attribute.String("sbi.operation", msg.Operation.String()),
		attribute.String("sbi.request_id", msg.RequestID),
	)
	defer span.End()

	var out sbi.Outcome
	switch msg.Operation {
	case message.OpUEContextCreate:
		out = a.handleUEContextCreate(msg)
	case message.OpUEContextUpdate:
		out = a.handleUEContextUpdate(msg)
	case message.OpUEContextRelease:
		out = a.handleUEContextRelease(msg)
	case message.OpUEAuthentication:
		out = a.handleUEAuthentication(msg)
	case message.OpPDUSessionCreate:
		out = a.handlePDUSessionCreate(msg)
	case message.OpPDUSessionRelease:
		out = a.handlePDUSessionRelease(msg)
	case message.OpAMPolicyControl:
		out = a.handleAMPolicy(msg)
	case message.OpNFManagement:
		out = a.handleNFManagement(msg)
	case message.OpNFDiscovery:
		out = a.handleNFDiscovery(msg)
	default:
		out = sbi.Outcome{Status: http.StatusBadRequest, Reason: "unsupported operation"}
	}

	a.metrics.SBIRequests.WithLabelValues(
		msg.ServiceType.String(), strconv.Itoa(out.Status)).Inc()
	return out
}

func (a *AMF) handleUEContextCreate(msg *message.SBIMessage) sbi.Outcome {
	req, err := parseUERequest(msg.Body)
	if err != nil || req.SUPI == "" {
		return sbi.Outcome{Status: http.StatusBadRequest, Reason: "missing or malformed supi"}
	}

	ue, exists := a.store.Get(req.SUPI)
	if exists && ue.GetState() != uectx.StateDeregistered {
		return sbi.Outcome{Status: http.StatusConflict, Reason: "UE already registered"}
	}
	if !exists {
		if a.store.Count() >= a.cfg.MaxUEConnections {
			return sbi.Outcome{Status: http.StatusServiceUnavailable, Reason: "max UE connections reached"}
		}
		ue, err = a.store.Create(req.SUPI)
		if err != nil {
			return sbi.Outcome{Status: http.StatusConflict, Reason: err.Error()}
		}
	}

	ue.Lock()
	ue.PEI = req.PEI
	ue.GPSI = req.GPSI
	if req.RANNodeID != "" {
		ue.Access.RANNodeID = req.RANNodeID
	}
	ue.Unlock()

	ev := fsm.EventRegistrationRequest
	if msg.Headers != nil && len(msg.Headers["X-Emergency-Registration"]) > 0 {
		ev = fsm.EventEmergencyRegistration
	}
	if !a.machine.Fire(ue, ev) {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "registration not allowed in current state"}
	}

	return sbi.Outcome{
		Status: http.StatusCreated,
		Extra:  map[string]any{"ueContextId": req.SUPI},
	}
}

func (a *AMF) handleUEContextUpdate(msg *message.SBIMessage) sbi.Outcome {
	supi := lastPathSegment(msg.URI)
	ue, ok := a.resolveUE(supi)
	if !ok {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "UE not registered"}
	}

	req, err := parseUERequest(msg.Body)
	if err != nil {
		return sbi.Outcome{Status: http.StatusBadRequest, Reason: "malformed request body"}
	}

	ue.Lock()
	if req.RANNodeID != "" {
		ue.Access.RANNodeID = req.RANNodeID
	}
	if req.PEI != "" {
		ue.PEI = req.PEI
	}
	ue.Unlock()

	a.machine.Fire(ue, fsm.EventTrackingAreaUpdate)
	return sbi.Outcome{Status: http.StatusOK}
}

func (a *AMF) handleUEContextRelease(msg *message.SBIMessage) sbi.Outcome {
	supi := lastPathSegment(msg.URI)
	if supi == "" {
		req, err := parseUERequest(msg.Body)
		if err == nil {
			supi = req.SUPI
		}
	}

	ue, ok := a.resolveUE(supi)
	if !ok {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "UE not registered"}
	}

	if !a.machine.Fire(ue, fsm.EventDeregisterRequest) {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "release not allowed in current state"}
	}
	return sbi.Outcome{Status: http.StatusOK}
}

func (a *AMF) handleUEAuthentication(msg *message.SBIMessage) sbi.Outcome {
	req, err := parseUERequest(msg.Body)
	if err != nil || req.SUPI == "" {
		return sbi.Outcome{Status: http.StatusBadRequest, Reason: "missing or malformed supi"}
	}

	ue, ok := a.resolveUE(req.SUPI)
	if !ok {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "UE not registered"}
	}

	ausf := a.SelectAusfForAuthentication()
	if ausf == nil {
		return sbi.Outcome{Status: http.StatusServiceUnavailable, Reason: "no healthy AUSF"}
	}

	a.machine.Fire(ue, fsm.EventAuthRequest)
	a.sendN1(&message.N1Message{
		Type: message.N1AuthenticationRequest,
		UEID: req.SUPI,
		IEs:  map[string]string{"ausfInstanceId": ausf.InstanceID},
	})

	return sbi.Outcome{
		Status: http.StatusOK,
		Extra:  map[string]any{"ausfInstanceId": ausf.InstanceID},
	}
}

func (a *AMF) handlePDUSessionCreate(msg *message.SBIMessage) sbi.Outcome {
	req, err := parseUERequest(msg.Body)
	if err != nil || req.SUPI == "" {
		return sbi.Outcome{Status: http.StatusBadRequest, Reason: "missing or malformed supi"}
	}

	ue, ok := a.resolveUE(req.SUPI)
	if !ok || ue.GetState() == uectx.StateDeregistered {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "UE not registered"}
	}

	dnn := req.DNN
	if dnn == "" {
		dnn = "internet"
	}
	snssai, err := a.resolveSlice(req.SNSSAI)
	if err != nil {
		return sbi.Outcome{Status: http.StatusBadRequest, Reason: err.Error()}
	}

	smf := a.SelectSmfForSession(dnn, snssai)
	if smf == nil {
		return sbi.Outcome{Status: http.StatusServiceUnavailable, Reason: "no healthy SMF for session"}
	}
	var upfID string
	if upf := a.SelectUpfForSession(snssai); upf != nil {
		upfID = upf.InstanceID
	}

	sessionID := req.PDUSessionID
	if sessionID == 0 {
		sessionID = a.nextSessionID(ue)
	}
	if _, exists := ue.GetSession(sessionID); exists {
		return sbi.Outcome{Status: http.StatusConflict, Reason: "PDU session already exists"}
	}

	pending := &pendingSession{
		sessionID: sessionID,
		dnn:       dnn,
		snssai:    snssai,
		smfID:     smf.InstanceID,
		upfID:     upfID,
	}

	if ue.GetState() == uectx.StateRegisteredIdle {
		a.stagePendingSession(ue, pending)
	} else {
		a.createSession(ue, pending)
	}

	if _, created := ue.GetSession(sessionID); !created {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "PDU session not established"}
	}

	ref := fmt.Sprintf("/nsmf-pdusession/v1/sm-contexts/%s:%d", ue.SUPI, sessionID)
	return sbi.Outcome{
		Status: http.StatusCreated,
		Extra: map[string]any{
			"smContextRef": ref,
			"pduSessionId": sessionID,
		},
	}
}

func (a *AMF) handlePDUSessionRelease(msg *message.SBIMessage) sbi.Outcome {
	supi, sessionID, err := parseSessionRef(lastPathSegment(msg.URI))
	if err != nil {
		return sbi.Outcome{Status: http.StatusBadRequest, Reason: err.Error()}
	}

	ue, ok := a.resolveUE(supi)
	if !ok {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "UE not registered"}
	}
	if !ue.RemoveSession(sessionID) {
		return sbi.Outcome{Status: http.StatusForbidden, Reason: "PDU session not found"}
	}

	a.machine.Fire(ue, fsm.EventPDUSessionReleaseRequest)
	return sbi.Outcome{Status: http.StatusOK}
}

func (a *AMF) handleAMPolicy(msg *message.SBIMessage) sbi.Outcome {
	pcf := a.registry.Select(registry.NFTypePCF, a.cfg.PLMNID)
	if pcf == nil {
		return sbi.Outcome{Status: http.StatusServiceUnavailable, Reason: "no healthy PCF"}
	}
	return sbi.Outcome{
		Status: http.StatusOK,
		Extra:  map[string]any{"pcfInstanceId": pcf.InstanceID},
	}
}

func (a *AMF) handleNFManagement(msg *message.SBIMessage) sbi.Outcome {
	id := lastPathSegment(msg.URI)

	switch msg.Method {
	case http.MethodPut:
		var nf registry.NFInstance
		if err := json.Unmarshal(msg.Body, &nf); err != nil {
			return sbi.Outcome{Status: http.StatusBadRequest, Reason: "malformed NF profile"}
		}
		nf.InstanceID = id
		if nf.Status == "" {
			nf.Status = registry.NFStatusRegistered
		}
		if _, exists := a.registry.Get(id); exists {
			if err := a.registry.Update(id, &nf); err != nil {
				return sbi.Outcome{Status: http.StatusBadRequest, Reason: err.Error()}
			}
			return sbi.Outcome{Status: http.StatusOK}
		}
		if err := a.registry.Register(&nf); err != nil {
			return sbi.Outcome{Status: http.StatusConflict, Reason: err.Error()}
		}
		return sbi.Outcome{Status: http.StatusCreated}

	case http.MethodPatch:
		if err := a.registry.Heartbeat(id); err != nil {
			return sbi.Outcome{Status: http.StatusNotFound, Reason: err.Error()}
		}
		return sbi.Outcome{Status: http.StatusOK}

	case http.MethodDelete:
		if err := a.registry.Deregister(id); err != nil {
			return sbi.Outcome{Status: http.StatusNotFound, Reason: err.Error()}
		}
		return sbi.Outcome{Status: http.StatusOK}
	}
	return sbi.Outcome{Status: http.StatusBadRequest, Reason: "unsupported NF management method"}
}

func (a *AMF) handleNFDiscovery(msg *message.SBIMessage) sbi.Outcome {
	query := registry.DiscoveryQuery{PLMNID: a.cfg.PLMNID}

	// Query parameters ride on the echoed URI.
	if idx := strings.IndexByte(msg.URI, '?'); idx >= 0 {
		for _, pair := range strings.Split(msg.URI[idx+1:], "&") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "target-nf-type":
				query.TargetType = registry.NFType(strings.ToUpper(kv[1]))
			case "service-names":
				query.ServiceName = kv[1]
			case "dnn":
				query.DNN = kv[1]
			case "snssais":
				if snssai, err := config.ParseSNSSAI(kv[1]); err == nil {
					query.SNSSAI = &snssai
				}
			}
		}
	}

	if query.TargetType == "" {
		return sbi.Outcome{Status: http.StatusBadRequest, Reason: "missing target-nf-type"}
	}

	results := a.registry.Discover(query)
	return sbi.Outcome{
		Status: http.StatusOK,
		Extra:  map[string]any{"nfInstances": results},
	}
}

// --- N1 / N2 wiring --------------------------------------------------------

// n1EventMap drives the generic NAS handler: message type to UE event.
var n1EventMap = map[message.N1MessageType]fsm.Event{
	message.N1RegistrationRequest:            fsm.EventRegistrationRequest,
	message.N1DeregistrationRequest:          fsm.EventDeregisterRequest,
	message.N1DeregistrationAccept:           fsm.EventDeregisterAccept,
	message.N1ServiceRequest:                 fsm.EventServiceRequest,
	message.N1AuthenticationResponse:         fsm.EventAuthResponse,
	message.N1AuthenticationFailure:          fsm.EventAuthFailure,
	message.N1SecurityModeComplete:           fsm.EventSecModeComplete,
	message.N1SecurityModeReject:             fsm.EventSecModeReject,
	message.N1PDUSessionEstablishmentRequest: fsm.EventPDUSessionEstablishmentRequest,
	message.N1PDUSessionReleaseRequest:       fsm.EventPDUSessionReleaseRequest,
}

func (a *AMF) registerN1Handlers() {
	for msgType, ev := range n1EventMap {
		ev := ev
		a.n1.RegisterHandler(msgType, func(msg *message.N1Message) {
			a.metrics.N1Messages.WithLabelValues("rx").Inc()
			ue, ok := a.resolveUE(msg.UEID)
			if !ok {
				if ev != fsm.EventRegistrationRequest {
					a.logger.Warn("N1 message for unknown UE",
						zap.String("ue_id", msg.UEID),
						zap.Int("type", int(msg.Type)),
					)
					return
				}
				var err error
				ue, err = a.store.Create(msg.UEID)
				if err != nil {
					return
				}
			}
			a.machine.Fire(ue, ev)
		})
	}
}

func (a *AMF) registerN2Handlers() {
	a.n2.RegisterHandler(message.N2NGSetupRequest, func(msg *message.N2Message) {
		a.metrics.N2Messages.WithLabelValues("rx").Inc()
		a.sendN2(&message.N2Message{
			Type:      message.N2NGSetupResponse,
			RANNodeID: msg.RANNodeID,
			IEs:       map[string]string{"amfName": a.cfg.AMFName, "guami": a.cfg.GetGUAMI()},
		})
	})

	a.n2.RegisterHandler(message.N2InitialUEMessage, func(msg *message.N2Message) {
		a.metrics.N2Messages.WithLabelValues("rx").Inc()
		supi := msg.IEs["supi"]
		if supi == "" {
			a.logger.Warn("InitialUEMessage without supi", zap.String("ran_node_id", msg.RANNodeID))
			return
		}

		ue, ok := a.store.Get(supi)
		if !ok {
			var err error
			ue, err = a.store.Create(supi)
			if err != nil {
				return
			}
		}
		ue.Lock()
		ue.Access.RANNodeID = msg.RANNodeID
		ue.Access.AccessType = "3GPP_ACCESS"
		ue.Location.RATType = "NR"
		ue.Unlock()

		a.machine.Fire(ue, fsm.EventRegistrationRequest)
	})

	a.n2.RegisterHandler(message.N2UEContextReleaseComplete, func(msg *message.N2Message) {
		a.metrics.N2Messages.WithLabelValues("rx").Inc()
		if ue, ok := a.resolveUE(msg.IEs["supi"]); ok {
			a.machine.Fire(ue, fsm.EventANRelease)
		}
	})

	a.n2.RegisterHandler(message.N2HandoverRequired, func(msg *message.N2Message) {
		a.metrics.N2Messages.WithLabelValues("rx").Inc()
		supi := msg.IEs["supi"]
		target := msg.IEs["targetRanNodeId"]
		ue, ok := a.resolveUE(supi)
		if !ok || target == "" {
			return
		}

		a.pendingMu.Lock()
		a.pendingRANNode[supi] = target
		a.pendingMu.Unlock()
		a.machine.Fire(ue, fsm.EventHandoverRequest)
	})

	a.n2.RegisterHandler(message.N2HandoverNotify, func(msg *message.N2Message) {
		a.metrics.N2Messages.WithLabelValues("rx").Inc()
		if ue, ok := a.resolveUE(msg.IEs["supi"]); ok {
			a.machine.Fire(ue, fsm.EventHandoverComplete)
		}
	})

	a.n2.RegisterHandler(message.N2UplinkNASTransport, func(msg *message.N2Message) {
		a.metrics.N2Messages.WithLabelValues("rx").Inc()
		nasType, err := strconv.Atoi(msg.IEs["nasType"])
		if err != nil {
			a.logger.Warn("UplinkNASTransport without nasType",
				zap.String("ran_node_id", msg.RANNodeID),
			)
			return
		}
		a.n1.HandleIncoming(&message.N1Message{
			Type:         message.N1MessageType(nasType),
			UEID:         msg.IEs["supi"],
			NASContainer: msg.NGAPContainer,
			IEs:          msg.IEs,
		})
	})
}

// --- helpers ---------------------------------------------------------------

// resolveUE finds a UE by SUPI or GUTI.
func (a *AMF) resolveUE(id string) (*uectx.UEContext, bool) {
	if id == "" {
		return nil, false
	}
	if ue, ok := a.store.Get(id); ok {
		return ue, true
	}
	return a.store.GetByGuti(id)
}

// resolveSlice maps a request slice onto the configured set; empty means the
// first supported slice.
func (a *AMF) resolveSlice(s string) (config.SNSSAI, error) {
	slices := a.cfg.AllowedSlices()
	if s == "" {
		if len(slices) == 0 {
			return config.SNSSAI{}, fmt.Errorf("no supported slices configured")
		}
		return slices[0], nil
	}
	snssai, err := config.ParseSNSSAI(s)
	if err != nil {
		return config.SNSSAI{}, fmt.Errorf("invalid snssai: %w", err)
	}
	return snssai, nil
}

// nextSessionID finds the lowest free PDU session id (1-15).
func (a *AMF) nextSessionID(ue *uectx.UEContext) uint8 {
	for id := uint8(1); id <= 15; id++ {
		if _, exists := ue.GetSession(id); !exists {
			return id
		}
	}
	return 15
}

func parseUERequest(body []byte) (*ueRequest, error) {
	var req ueRequest
	if len(body) == 0 {
		return &req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// parseSessionRef splits "supi:sessionId".
func parseSessionRef(ref string) (string, uint8, error) {
	idx := strings.LastIndexByte(ref, ':')
	if idx <= 0 || idx == len(ref)-1 {
		return "", 0, fmt.Errorf("malformed sm context reference: %q", ref)
	}
	id, err := strconv.ParseUint(ref[idx+1:], 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("malformed session id in reference: %q", ref)
	}
	return ref[:idx], uint8(id), nil
}

func lastPathSegment(uri string) string {
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		uri = uri[:idx]
	}
	uri = strings.TrimRight(uri, "/")
	if idx := strings.LastIndexByte(uri, '/'); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}
