// Package context holds the UPF session table consulted by the fast path.
package context

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/your-org/5gc-core/nf/upf/internal/config"
)

// TrafficCounters accumulates per-session, per-direction traffic. A session
// is owned by exactly one worker, so the fields are plain integers with no
// synchronization.
type TrafficCounters struct {
	Packets uint64
	Bytes   uint64
	Dropped uint64
}

// Session is one installed PDU session. All fields are written once at
// install time; only the counters and sequence numbers mutate afterwards,
// and only on the owning worker.
type Session struct {
	UEIP         uint32 // IPv4, host-independent big-endian value
	DownlinkTEID uint32 // TEID the gNB expects on N3 downlink
	UplinkTEID   uint32 // TEID the UPF allocated for N3 uplink
	GNBIP        uint32
	GNBPort      uint16
	DNIP         uint32
	DSCP         uint8
	QoSPriority  uint8

	DLSequence uint32
	ULSequence uint32
	Downlink   TrafficCounters
	Uplink     TrafficCounters
}

// Table indexes sessions two ways: by UE IP for downlink classification and
// by uplink TEID for decapsulation. The table is populated before the
// workers start and is read-only afterwards, so lookups take no lock.
type Table struct {
	byUEIP map[uint32]*Session
	byTEID map[uint32]*Session
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{
		byUEIP: make(map[uint32]*Session),
		byTEID: make(map[uint32]*Session),
	}
}

// IPv4ToUint32 converts a dotted-quad string to its numeric form.
func IPv4ToUint32(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("invalid IPv4 address: %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return binary.BigEndian.Uint32(v4), nil
}

// Uint32ToIPv4 renders a numeric address in dotted-quad form.
func Uint32ToIPv4(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return net.IP(b[:]).String()
}

// Install adds a session to both indexes. Both keys must be unused.
func (t *Table) Install(s *Session) error {
	if _, ok := t.byUEIP[s.UEIP]; ok {
		return fmt.Errorf("session for UE IP %s already installed", Uint32ToIPv4(s.UEIP))
	}
	if _, ok := t.byTEID[s.UplinkTEID]; ok {
		return fmt.Errorf("uplink TEID 0x%08x already in use", s.UplinkTEID)
	}
	t.byUEIP[s.UEIP] = s
	t.byTEID[s.UplinkTEID] = s
	return nil
}

// InstallFromConfig builds and installs the static session list.
func (t *Table) InstallFromConfig(sessions []config.SessionConfig) error {
	for i, sc := range sessions {
		ueIP, err := IPv4ToUint32(sc.UEIP)
		if err != nil {
			return fmt.Errorf("session %d: %w", i, err)
		}
		gnbIP, err := IPv4ToUint32(sc.GNBIP)
		if err != nil {
			return fmt.Errorf("session %d: %w", i, err)
		}
		var dnIP uint32
		if sc.DNIP != "" {
			dnIP, err = IPv4ToUint32(sc.DNIP)
			if err != nil {
				return fmt.Errorf("session %d: %w", i, err)
			}
		}
		gnbPort := sc.GNBPort
		if gnbPort == 0 {
			gnbPort = 2152
		}
		s := &Session{
			UEIP:         ueIP,
			DownlinkTEID: sc.DownlinkTEID,
			UplinkTEID:   sc.UplinkTEID,
			GNBIP:        gnbIP,
			GNBPort:      gnbPort,
			DNIP:         dnIP,
			DSCP:         sc.DSCP,
			QoSPriority:  sc.QoSPriority,
		}
		if err := t.Install(s); err != nil {
			return fmt.Errorf("session %d: %w", i, err)
		}
	}
	return nil
}

// LookupByUEIP resolves the session for a downlink destination address.
func (t *Table) LookupByUEIP(ueIP uint32) *Session {
	return t.byUEIP[ueIP]
}

// LookupByTEID resolves the session for an uplink tunnel endpoint.
func (t *Table) LookupByTEID(teid uint32) *Session {
	return t.byTEID[teid]
}

// Count returns the number of installed sessions.
func (t *Table) Count() int {
	return len(t.byUEIP)
}

// All returns every installed session.
func (t *Table) All() []*Session {
	out := make([]*Session, 0, len(t.byUEIP))
	for _, s := range t.byUEIP {
		out = append(out, s)
	}
	return out
}
