// Package analytics writes periodic AMF statistics snapshots to ClickHouse.
// The sink is optional; an empty DSN disables it.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const statsTableDDL = `
CREATE TABLE IF NOT EXISTS amf_stats (
    ts                DateTime,
    amf_instance_id   String,
    ue_contexts       UInt64,
    connected_ues     UInt64,
    active_sessions   UInt64,
    registered_nfs    UInt64,
    healthy_nfs       UInt64,
    system_load       UInt8,
    registrations     UInt64,
    pdu_sessions      UInt64
) ENGINE = MergeTree() ORDER BY ts`

// Snapshot is one statistics row.
type Snapshot struct {
	Timestamp      time.Time
	InstanceID     string
	UEContexts     uint64
	ConnectedUEs   uint64
	ActiveSessions uint64
	RegisteredNFs  uint64
	HealthyNFs     uint64
	SystemLoad     uint8
	Registrations  uint64
	PDUSessions    uint64
}

// Sink writes snapshots to ClickHouse.
type Sink struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewSink opens the ClickHouse connection and ensures the stats table
// exists.
func NewSink(ctx context.Context, dsn string, logger *zap.Logger) (*Sink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse DSN: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, statsTableDDL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stats table: %w", err)
	}

	logger.Info("analytics sink connected")
	return &Sink{conn: conn, logger: logger}, nil
}

// Write inserts one snapshot. Failures are logged, never fatal; the monitor
// keeps running without analytics.
func (s *Sink) Write(ctx context.Context, snap Snapshot) {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO amf_stats")
	if err != nil {
		s.logger.Warn("failed to prepare stats batch", zap.Error(err))
		return
	}

	if err := batch.Append(
		snap.Timestamp,
		snap.InstanceID,
		snap.UEContexts,
		snap.ConnectedUEs,
		snap.ActiveSessions,
		snap.RegisteredNFs,
		snap.HealthyNFs,
		snap.SystemLoad,
		snap.Registrations,
		snap.PDUSessions,
	); err != nil {
		s.logger.Warn("failed to append stats row", zap.Error(err))
		return
	}
	if err := batch.Send(); err != nil {
		s.logger.Warn("failed to send stats batch", zap.Error(err))
	}
}

// Close releases the connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}
