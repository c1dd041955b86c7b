package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/analytics"
)

const (
	statsInterval = 30 * time.Second
	sweepInterval = 10 * time.Second
)

// Stats is a consistent snapshot of the AMF counters. Each counter is
// updated atomically, so the snapshot is eventually consistent but never
// torn.
type Stats struct {
	Timestamp            time.Time `json:"timestamp"`
	UEContexts           int       `json:"ueContexts"`
	ConnectedUEs         int       `json:"connectedUes"`
	ActiveSessions       int       `json:"activeSessions"`
	RegisteredNFs        int       `json:"registeredNfs"`
	HealthyNFs           int       `json:"healthyNfs"`
	SystemLoad           int       `json:"systemLoad"` // percent
	TotalRegistrations   uint64    `json:"totalUeRegistrations"`
	TotalDeregistrations uint64    `json:"totalUeDeregistrations"`
	RegistrationFailures uint64    `json:"registrationFailures"`
	TotalPDUSessions     uint64    `json:"totalPduSessions"`
	PagingRequests       uint64    `json:"pagingRequests"`
	Handovers            uint64    `json:"handovers"`
	N1Sent               uint64    `json:"n1Sent"`
	N1Received           uint64    `json:"n1Received"`
	N2Sent               uint64    `json:"n2Sent"`
	N2Received           uint64    `json:"n2Received"`
}

// GetStats builds a statistics snapshot without taking any lock beyond the
// store and registry read locks.
func (a *AMF) GetStats() Stats {
	connected := a.store.ConnectedCount()
	load := 0
	if a.cfg.MaxUEConnections > 0 {
		load = connected * 100 / a.cfg.MaxUEConnections
	}

	return Stats{
		Timestamp:            time.Now(),
		UEContexts:           a.store.Count(),
		ConnectedUEs:         connected,
		ActiveSessions:       a.store.ActiveSessionCount(),
		RegisteredNFs:        a.registry.Count(),
		HealthyNFs:           a.registry.HealthyCount(),
		SystemLoad:           load,
		TotalRegistrations:   a.counters.registrations.Load(),
		TotalDeregistrations: a.counters.deregistrations.Load(),
		RegistrationFailures: a.counters.registrationFailures.Load(),
		TotalPDUSessions:     a.counters.pduSessions.Load(),
		PagingRequests:       a.counters.pagingRequests.Load(),
		Handovers:            a.counters.handovers.Load(),
		N1Sent:               a.n1.Sent(),
		N1Received:           a.n1.Received(),
		N2Sent:               a.n2.Sent(),
		N2Received:           a.n2.Received(),
	}
}

// monitorLoop is the long-lived monitoring worker. It sleeps in one second
// steps so shutdown is observed promptly, runs the NF sweeps every 10
// seconds and the statistics refresh every 30 seconds.
func (a *AMF) monitorLoop() {
	defer a.monitorWG.Done()

	lastStats := time.Now()
	lastSweep := time.Now()
	lastHeartbeat := time.Now()
	heartbeatInterval := time.Duration(a.cfg.NFHeartbeatInterval) * time.Second

	for !a.shutdown.Load() {
		time.Sleep(1 * time.Second)
		now := time.Now()

		if now.Sub(lastSweep) >= sweepInterval {
			lastSweep = now
			suspended := a.registry.HealthSweep()
			expired := a.registry.ExpireSweep()
			swept := a.store.SweepInactive(ueIdleExpiry)
			if suspended+expired+swept > 0 {
				a.logger.Info("sweep completed",
					zap.Int("nf_suspended", suspended),
					zap.Int("nf_expired", expired),
					zap.Int("ue_swept", swept),
				)
			}
		}

		if heartbeatInterval > 0 && now.Sub(lastHeartbeat) >= heartbeatInterval {
			lastHeartbeat = now
			if err := a.registry.Heartbeat(a.selfNFID); err != nil {
				a.logger.Warn("self heartbeat failed", zap.Error(err))
			}
		}

		if now.Sub(lastStats) >= statsInterval {
			lastStats = now
			a.refreshStats()
		}
	}
}

// refreshStats recomputes the statistics, publishes them to the gauges, the
// self NF profile, the websocket hub and the analytics sink.
func (a *AMF) refreshStats() {
	stats := a.GetStats()

	a.metrics.UEContexts.Set(float64(stats.UEContexts))
	a.metrics.ConnectedUEs.Set(float64(stats.ConnectedUEs))
	a.metrics.ActiveSessions.Set(float64(stats.ActiveSessions))
	a.metrics.RegisteredNFs.Set(float64(stats.RegisteredNFs))
	a.metrics.HealthyNFs.Set(float64(stats.HealthyNFs))
	a.metrics.SystemLoad.Set(float64(stats.SystemLoad))

	if err := a.registry.UpdateLoad(a.selfNFID, stats.SystemLoad); err != nil {
		a.logger.Warn("failed to report self load", zap.Error(err))
	}

	a.hub.Broadcast(stats)

	if a.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.sink.Write(ctx, analytics.Snapshot{
			Timestamp:      stats.Timestamp,
			InstanceID:     a.cfg.AMFInstanceID,
			UEContexts:     uint64(stats.UEContexts),
			ConnectedUEs:   uint64(stats.ConnectedUEs),
			ActiveSessions: uint64(stats.ActiveSessions),
			RegisteredNFs:  uint64(stats.RegisteredNFs),
			HealthyNFs:     uint64(stats.HealthyNFs),
			SystemLoad:     uint8(stats.SystemLoad),
			Registrations:  stats.TotalRegistrations,
			PDUSessions:    stats.TotalPDUSessions,
		})
		cancel()
	}

	a.logger.Debug("statistics refreshed",
		zap.Int("ue_contexts", stats.UEContexts),
		zap.Int("active_sessions", stats.ActiveSessions),
		zap.Int("system_load", stats.SystemLoad),
	)
}
