package dataplane

import (
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"go.uber.org/zap"

	upfctx "github.com/your-org/5gc-core/nf/upf/internal/context"
)

// BPF object names the loader expects in the compiled XDP program.
const (
	xdpProgN3     = "upf_n3_xdp"
	xdpProgN6     = "upf_n6_xdp"
	xdpMapDL      = "dl_sessions"
	xdpMapUL      = "ul_sessions"
	xdpMapLocalIP = "local_config"
)

// bpfSessionValue mirrors the session entry layout of the XDP maps. Field
// order and sizes must match the C struct in the BPF object.
type bpfSessionValue struct {
	TEID     uint32
	PeerIP   uint32
	PeerPort uint16
	DSCP     uint8
	_        uint8
}

// Offload loads the XDP fast path, populates its session maps from the
// session table and attaches the programs to the N3 and N6 interfaces.
type Offload struct {
	coll   *ebpf.Collection
	links  []link.Link
	logger *zap.Logger
}

// LoadOffload installs the XDP data plane. The software engine stays as the
// slow path for packets the XDP program passes up.
func LoadOffload(objPath, n3Iface, n6Iface string, localIP uint32, table *upfctx.Table, logger *zap.Logger) (*Offload, error) {
	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load XDP object %s: %w", objPath, err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create BPF collection: %w", err)
	}

	o := &Offload{coll: coll, logger: logger}

	if err := o.populate(localIP, table); err != nil {
		o.Close()
		return nil, err
	}

	for _, att := range []struct {
		prog  string
		iface string
	}{
		{xdpProgN3, n3Iface},
		{xdpProgN6, n6Iface},
	} {
		prog := coll.Programs[att.prog]
		if prog == nil {
			o.Close()
			return nil, fmt.Errorf("XDP object missing program %q", att.prog)
		}
		ifi, err := net.InterfaceByName(att.iface)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("interface %s: %w", att.iface, err)
		}
		l, err := link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: ifi.Index,
		})
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("failed to attach %s to %s: %w", att.prog, att.iface, err)
		}
		o.links = append(o.links, l)
		logger.Info("XDP program attached",
			zap.String("program", att.prog),
			zap.String("interface", att.iface),
		)
	}

	return o, nil
}

// populate writes every installed session into the downlink and uplink maps.
func (o *Offload) populate(localIP uint32, table *upfctx.Table) error {
	dl := o.coll.Maps[xdpMapDL]
	ul := o.coll.Maps[xdpMapUL]
	cfgMap := o.coll.Maps[xdpMapLocalIP]
	if dl == nil || ul == nil || cfgMap == nil {
		return fmt.Errorf("XDP object missing session maps")
	}

	if err := cfgMap.Put(uint32(0), localIP); err != nil {
		return fmt.Errorf("failed to write local address: %w", err)
	}

	for _, s := range table.All() {
		dlVal := bpfSessionValue{
			TEID:     s.DownlinkTEID,
			PeerIP:   s.GNBIP,
			PeerPort: s.GNBPort,
			DSCP:     s.DSCP,
		}
		if err := dl.Put(s.UEIP, dlVal); err != nil {
			return fmt.Errorf("failed to install downlink entry for %s: %w",
				upfctx.Uint32ToIPv4(s.UEIP), err)
		}
		ulVal := bpfSessionValue{
			TEID:   s.UplinkTEID,
			PeerIP: s.UEIP,
		}
		if err := ul.Put(s.UplinkTEID, ulVal); err != nil {
			return fmt.Errorf("failed to install uplink entry for TEID 0x%08x: %w",
				s.UplinkTEID, err)
		}
	}
	return nil
}

// Close detaches the programs and releases the BPF objects.
func (o *Offload) Close() {
	for _, l := range o.links {
		l.Close()
	}
	o.links = nil
	if o.coll != nil {
		o.coll.Close()
		o.coll = nil
	}
}
