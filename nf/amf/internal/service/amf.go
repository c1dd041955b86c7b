// Package service wires the AMF together: the UE context store, NF
// registry, state machine and the three protocol adapters, plus the
// monitoring workers.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/analytics"
	"github.com/your-org/5gc-core/nf/amf/internal/config"
	uectx "github.com/your-org/5gc-core/nf/amf/internal/context"
	"github.com/your-org/5gc-core/nf/amf/internal/fsm"
	"github.com/your-org/5gc-core/nf/amf/internal/message"
	"github.com/your-org/5gc-core/nf/amf/internal/metrics"
	"github.com/your-org/5gc-core/nf/amf/internal/n1"
	"github.com/your-org/5gc-core/nf/amf/internal/n2"
	"github.com/your-org/5gc-core/nf/amf/internal/ops"
	"github.com/your-org/5gc-core/nf/amf/internal/registry"
	"github.com/your-org/5gc-core/nf/amf/internal/sbi"
)

// Deregistered contexts idle past this threshold are swept.
const ueIdleExpiry = 5 * time.Minute

// Counters are updated atomically so statistics snapshots are never torn.
type counters struct {
	registrations        atomic.Uint64
	deregistrations      atomic.Uint64
	registrationFailures atomic.Uint64
	pduSessions          atomic.Uint64
	pagingRequests       atomic.Uint64
	handovers            atomic.Uint64
}

// pendingSession carries PDU session parameters from the SBI handler into
// the state machine action that creates the session.
type pendingSession struct {
	sessionID uint8
	dnn       string
	snssai    config.SNSSAI
	smfID     string
	upfID     string
}

// AMF is the orchestrator. It owns the four singletons (UE store, NF
// registry, N1 and N2 services) as explicit values.
type AMF struct {
	cfg    *config.Config
	logger *zap.Logger
	tracer trace.Tracer

	store    *uectx.Store
	registry *registry.Registry
	n1       *n1.Service
	n2       *n2.Service
	machine  *fsm.Machine
	sbi      *sbi.Server
	metrics  *metrics.Metrics
	hub      *ops.Hub
	sink     *analytics.Sink

	selfNFID string
	state    atomic.Value // string label

	counters counters

	pendingMu       sync.Mutex
	pendingSessions map[string]*pendingSession // SUPI -> pending create
	pendingRANNode  map[string]string          // SUPI -> target RAN node

	tmsiCounter atomic.Uint32
	shutdown    atomic.Bool
	monitorWG   sync.WaitGroup
}

// NewAMF constructs the orchestrator and its singletons. No port is opened
// until Start.
func NewAMF(cfg *config.Config, logger *zap.Logger) *AMF {
	a := &AMF{
		cfg:             cfg,
		logger:          logger,
		tracer:          otel.Tracer("amf"),
		store:           uectx.NewStore(),
		registry:        registry.NewRegistry(logger.Named("registry")),
		n1:              n1.NewService(logger.Named("n1")),
		n2:              n2.NewService(logger.Named("n2")),
		metrics:         metrics.New(),
		hub:             ops.NewHub(logger.Named("ops")),
		pendingSessions: make(map[string]*pendingSession),
		pendingRANNode:  make(map[string]string),
	}
	a.machine = fsm.NewMachine(a, logger.Named("fsm"))
	a.sbi = sbi.NewServer(a, cfg.SBICompatRouting, logger.Named("sbi"))
	a.sbi.MountMetrics(a.metrics.Handler())
	a.sbi.MountStream(a.hub)
	a.state.Store("INITIALIZING")

	a.registerN1Handlers()
	a.registerN2Handlers()
	return a
}

// Start brings the AMF up: peer NF bootstrap, N2 listener, SBI listener,
// monitor workers, optional analytics sink.
func (a *AMF) Start(ctx context.Context) error {
	if err := a.bootstrapNFs(); err != nil {
		return fmt.Errorf("failed to bootstrap peer NFs: %w", err)
	}

	if a.cfg.ClickHouseDSN != "" {
		sink, err := analytics.NewSink(ctx, a.cfg.ClickHouseDSN, a.logger.Named("analytics"))
		if err != nil {
			// Analytics is best effort; the control plane runs without it.
			a.logger.Warn("analytics sink unavailable", zap.Error(err))
		} else {
			a.sink = sink
		}
	}

	if err := a.n2.Start(a.cfg.N1N2BindAddr, a.cfg.N2Port); err != nil {
		return err
	}
	if err := a.sbi.Start(a.cfg.SBIBindAddress, a.cfg.SBIPort); err != nil {
		a.n2.Shutdown()
		return err
	}

	a.monitorWG.Add(1)
	go a.monitorLoop()

	a.state.Store("OPERATIONAL")
	a.logger.Info("AMF started",
		zap.String("amf_name", a.cfg.AMFName),
		zap.String("guami", a.cfg.GetGUAMI()),
		zap.Int("sbi_port", a.cfg.SBIPort),
		zap.Int("n2_port", a.cfg.N2Port),
	)
	return nil
}

// Shutdown stops the AMF in reverse dependency order.
func (a *AMF) Shutdown(ctx context.Context) {
	a.state.Store("SHUTTING_DOWN")
	a.shutdown.Store(true)
	a.monitorWG.Wait()

	if err := a.sbi.Shutdown(ctx); err != nil {
		a.logger.Warn("SBI shutdown incomplete", zap.Error(err))
	}
	a.n2.Shutdown()
	a.hub.Close()
	if a.sink != nil {
		a.sink.Close()
	}

	a.state.Store("STOPPED")
	a.logger.Info("AMF stopped")
}

// AMFState returns the global state label exposed in SBI responses.
func (a *AMF) AMFState() string {
	return a.state.Load().(string)
}

// Store exposes the UE context store (tests, monitor).
func (a *AMF) Store() *uectx.Store { return a.store }

// Registry exposes the NF registry (tests, monitor).
func (a *AMF) Registry() *registry.Registry { return a.registry }

// SBIRouter exposes the SBI handler for in-process serving in tests.
func (a *AMF) SBIRouter() *sbi.Server { return a.sbi }

// bootstrapNFs pre-registers the peer NFs the AMF needs before discovery
// traffic arrives, plus the self profile.
func (a *AMF) bootstrapNFs() error {
	slices := a.cfg.AllowedSlices()

	a.selfNFID = a.cfg.AMFInstanceID
	self := &registry.NFInstance{
		InstanceID: a.selfNFID,
		NFType:     registry.NFTypeAMF,
		Status:     registry.NFStatusRegistered,
		PLMNID:     a.cfg.PLMNID,
		SNSSAIs:    slices,
		TAIList:    a.cfg.TAIList,
		Priority:   100,
		Capacity:   a.cfg.MaxUEConnections,
		Services: []registry.NFService{{
			ServiceName: "namf-comm",
			Versions:    []string{"v1"},
			Scheme:      "http",
			Address:     fmt.Sprintf("%s:%d", a.cfg.SBIBindAddress, a.cfg.SBIPort),
			APIPrefix:   "/namf-comm/v1",
		}},
	}
	if err := a.registry.Register(self); err != nil {
		return err
	}

	peers := []struct {
		nfType  registry.NFType
		service string
	}{
		{registry.NFTypeSMF, "nsmf-pdusession"},
		{registry.NFTypeUPF, ""},
		{registry.NFTypeAUSF, "nausf-auth"},
		{registry.NFTypeUDM, "nudm-uecm"},
		{registry.NFTypePCF, "npcf-am-policy-control"},
	}
	for _, peer := range peers {
		nf := &registry.NFInstance{
			InstanceID: uuid.NewString(),
			NFType:     peer.nfType,
			Status:     registry.NFStatusRegistered,
			PLMNID:     a.cfg.PLMNID,
			SNSSAIs:    slices,
			Priority:   10,
			Capacity:   100,
		}
		if peer.service != "" {
			nf.Services = []registry.NFService{{
				ServiceName: peer.service,
				Versions:    []string{"v1"},
				Scheme:      "http",
			}}
		}
		if err := a.registry.Register(nf); err != nil {
			return err
		}
	}
	return nil
}

// SelectSmfForSession picks the SMF for a new PDU session, constrained by
// DNN and slice.
func (a *AMF) SelectSmfForSession(dnn string, snssai config.SNSSAI) *registry.NFInstance {
	results := a.registry.Discover(registry.DiscoveryQuery{
		TargetType:  registry.NFTypeSMF,
		ServiceName: "nsmf-pdusession",
		PLMNID:      a.cfg.PLMNID,
		SNSSAI:      &snssai,
		DNN:         dnn,
	})
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

// SelectAusfForAuthentication picks the AUSF for a UE authentication run.
func (a *AMF) SelectAusfForAuthentication() *registry.NFInstance {
	return a.registry.Select(registry.NFTypeAUSF, a.cfg.PLMNID)
}

// SelectUpfForSession picks a UPF instance for a new PDU session.
func (a *AMF) SelectUpfForSession(snssai config.SNSSAI) *registry.NFInstance {
	results := a.registry.Discover(registry.DiscoveryQuery{
		TargetType: registry.NFTypeUPF,
		PLMNID:     a.cfg.PLMNID,
		SNSSAI:     &snssai,
	})
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

// sendN1 delivers an outgoing NAS message and counts it on success.
func (a *AMF) sendN1(msg *message.N1Message) {
	if a.n1.Send(msg) {
		a.metrics.N1Messages.WithLabelValues("tx").Inc()
	}
}

// sendN2 delivers an outgoing NGAP message and counts it on success.
func (a *AMF) sendN2(msg *message.N2Message) {
	if a.n2.Send(msg) {
		a.metrics.N2Messages.WithLabelValues("tx").Inc()
	}
}

// nextGUTI allocates a fresh temporary identifier under this AMF's GUAMI.
func (a *AMF) nextGUTI() (guti, tmsi string) {
	t := a.tmsiCounter.Add(1)
	tmsi = fmt.Sprintf("%08x", t)
	return fmt.Sprintf("%s-%s", a.cfg.GetGUAMI(), tmsi), tmsi
}

// --- fsm.Actions -----------------------------------------------------------

// RegisterUE completes a successful registration transition.
func (a *AMF) RegisterUE(ue *uectx.UEContext, emergency bool) {
	guti, tmsi := a.nextGUTI()

	ue.Lock()
	ue.ConnectionState = "CONNECTED"
	ue.TMSI = tmsi
	ue.Mobility.AllowedNSSAI = a.cfg.AllowedSlices()
	ue.Mobility.ConfiguredNSSAI = a.cfg.AllowedSlices()
	ue.Subscription.Emergency = emergency
	if len(a.cfg.TAIList) > 0 {
		ue.Location.TAI = a.cfg.TAIList[0]
		ue.Location.LastUpdate = time.Now()
	}
	supi := ue.SUPI
	ranNode := ue.Access.RANNodeID
	ue.Unlock()

	if err := a.store.SetGuti(supi, guti); err != nil {
		a.logger.Error("failed to assign GUTI", zap.String("supi", supi), zap.Error(err))
	}

	a.counters.registrations.Add(1)
	a.metrics.UERegistrations.Inc()

	a.sendN1(&message.N1Message{
		Type: message.N1RegistrationAccept,
		UEID: supi,
		IEs:  map[string]string{"guti": guti},
	})
	a.sendN2(&message.N2Message{
		Type:      message.N2InitialContextSetupRequest,
		RANNodeID: ranNode,
		IEs:       map[string]string{"supi": supi},
	})

	a.logger.Info("UE registered",
		zap.String("supi", supi),
		zap.String("guti", guti),
		zap.Bool("emergency", emergency),
	)
}

// RecordRegistrationFailure counts a failed registration attempt.
func (a *AMF) RecordRegistrationFailure(ue *uectx.UEContext, ev fsm.Event) {
	a.counters.registrationFailures.Add(1)
	a.logger.Info("registration attempt failed",
		zap.String("supi", ue.SUPI),
		zap.String("event", ev.String()),
	)
}

// EstablishConnection moves an idle UE back to connected and asks the RAN
// to set up the UE context.
func (a *AMF) EstablishConnection(ue *uectx.UEContext, ev fsm.Event) {
	ue.Lock()
	ue.ConnectionState = "CONNECTED"
	supi := ue.SUPI
	ranNode := ue.Access.RANNodeID
	ue.Unlock()

	a.sendN2(&message.N2Message{
		Type:      message.N2InitialContextSetupRequest,
		RANNodeID: ranNode,
		IEs:       map[string]string{"supi": supi, "cause": ev.String()},
	})
}

// EstablishSession creates the PDU session staged by the SBI handler.
func (a *AMF) EstablishSession(ue *uectx.UEContext) {
	a.pendingMu.Lock()
	pending := a.pendingSessions[ue.SUPI]
	delete(a.pendingSessions, ue.SUPI)
	a.pendingMu.Unlock()

	if pending == nil {
		a.logger.Warn("no staged PDU session for UE", zap.String("supi", ue.SUPI))
		return
	}
	a.createSession(ue, pending)
}

// stagePendingSession parks the create parameters for the idle-to-connected
// action and fires the establishment event. A refused transition, from the
// UE leaving idle between the handler's state check and the fire, unstages
// the entry so it cannot leak into a later create.
func (a *AMF) stagePendingSession(ue *uectx.UEContext, pending *pendingSession) bool {
	a.pendingMu.Lock()
	a.pendingSessions[ue.SUPI] = pending
	a.pendingMu.Unlock()

	if !a.machine.Fire(ue, fsm.EventPDUSessionEstablishmentRequest) {
		a.pendingMu.Lock()
		delete(a.pendingSessions, ue.SUPI)
		a.pendingMu.Unlock()
		return false
	}
	return true
}

// UpdateRANNode applies a staged handover target.
func (a *AMF) UpdateRANNode(ue *uectx.UEContext) {
	a.pendingMu.Lock()
	target := a.pendingRANNode[ue.SUPI]
	delete(a.pendingRANNode, ue.SUPI)
	a.pendingMu.Unlock()

	if target == "" {
		return
	}

	ue.Lock()
	ue.Access.RANNodeID = target
	ue.ConnectionState = "CONNECTED"
	ue.Unlock()

	a.counters.handovers.Add(1)
	a.logger.Info("handover applied",
		zap.String("supi", ue.SUPI),
		zap.String("ran_node_id", target),
	)
}

// ReleaseUE tears a UE down to Deregistered: sessions, connection, N2
// context.
func (a *AMF) ReleaseUE(ue *uectx.UEContext, ev fsm.Event) {
	ue.ReleaseAllSessions()

	ue.Lock()
	ue.ConnectionState = "IDLE"
	ue.Security.Authenticated = false
	supi := ue.SUPI
	ranNode := ue.Access.RANNodeID
	ue.Unlock()

	a.counters.deregistrations.Add(1)
	a.metrics.UEDeregistrations.Inc()

	a.sendN2(&message.N2Message{
		Type:      message.N2UEContextReleaseCommand,
		RANNodeID: ranNode,
		IEs:       map[string]string{"supi": supi, "cause": ev.String()},
	})

	a.logger.Info("UE released",
		zap.String("supi", supi),
		zap.String("event", ev.String()),
	)
}

// UpdateLocation handles tracking-area updates and paging while idle.
func (a *AMF) UpdateLocation(ue *uectx.UEContext, ev fsm.Event) {
	if ev == fsm.EventPagingRequest {
		ue.RLock()
		ranNode := ue.Access.RANNodeID
		supi := ue.SUPI
		ue.RUnlock()

		a.counters.pagingRequests.Add(1)
		a.sendN2(&message.N2Message{
			Type:      message.N2Paging,
			RANNodeID: ranNode,
			IEs:       map[string]string{"supi": supi},
		})
		return
	}

	ue.Lock()
	ue.Location.LastUpdate = time.Now()
	ue.Unlock()
}

// ReleaseConnection moves a connected UE to idle.
func (a *AMF) ReleaseConnection(ue *uectx.UEContext, ev fsm.Event) {
	ue.Lock()
	ue.ConnectionState = "IDLE"
	ue.Unlock()
}

// UpdateSecurity refreshes the security sub-context on NAS security
// procedures.
func (a *AMF) UpdateSecurity(ue *uectx.UEContext, ev fsm.Event) {
	ue.Lock()
	defer ue.Unlock()

	switch ev {
	case fsm.EventAuthResponse, fsm.EventSecModeComplete:
		ue.Security.Authenticated = true
		ue.Security.LastAuthAt = time.Now()
	case fsm.EventAuthRequest, fsm.EventSecModeCommand:
		ue.Security.LastAuthAt = time.Now()
	}
}

// createSession installs a PDU session on a UE and counts it.
func (a *AMF) createSession(ue *uectx.UEContext, p *pendingSession) {
	session := &uectx.PDUSessionInfo{
		SessionID:     p.sessionID,
		DNN:           p.dnn,
		SNSSAI:        p.snssai,
		SMFInstanceID: p.smfID,
		UPFInstanceID: p.upfID,
		SessionType:   "IPV4",
		State:         uectx.PDUSessionStateActive,
		CreatedAt:     time.Now(),
	}
	if err := ue.AddSession(session); err != nil {
		a.logger.Error("failed to add PDU session",
			zap.String("supi", ue.SUPI),
			zap.Uint8("session_id", p.sessionID),
			zap.Error(err),
		)
		return
	}

	a.counters.pduSessions.Add(1)
	a.metrics.PDUSessionsTotal.Inc()

	a.logger.Info("PDU session established",
		zap.String("supi", ue.SUPI),
		zap.Uint8("session_id", p.sessionID),
		zap.String("dnn", p.dnn),
		zap.String("smf_instance_id", p.smfID),
	)
}
