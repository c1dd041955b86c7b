package dataplane

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/upf/internal/config"
	upfctx "github.com/your-org/5gc-core/nf/upf/internal/context"
)

// Engine runs the software data plane: one worker per RX queue, each owning
// its queue pair and its TX queues. Packets for a given session always land
// on the same queue, so session state needs no locking.
type Engine struct {
	cfg     *config.Config
	table   *upfctx.Table
	logger  *zap.Logger
	localIP uint32

	dlRx  []chan []byte // from the data network, per queue
	ulRx  []chan []byte // from the gNB, per queue
	gnbTx []chan []byte // toward the gNB, per worker
	dnTx  []chan []byte // toward the data network, per worker

	dlForwarded atomic.Uint64
	ulForwarded atomic.Uint64
	dlDropped   atomic.Uint64
	ulDropped   atomic.Uint64

	stop    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

// NewEngine builds the queue layout. The configuration must already be
// validated; an uncovered RX queue is refused here again as a last line of
// defense because it silently blackholes traffic.
func NewEngine(cfg *config.Config, table *upfctx.Table, logger *zap.Logger) (*Engine, error) {
	if cfg.Workers < cfg.RXQueues {
		return nil, fmt.Errorf("workers (%d) < rxQueues (%d): refusing to start with unserved queues",
			cfg.Workers, cfg.RXQueues)
	}
	localIP, err := upfctx.IPv4ToUint32(cfg.N3Address)
	if err != nil {
		return nil, fmt.Errorf("invalid N3 address: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		table:   table,
		logger:  logger,
		localIP: localIP,
		dlRx:    make([]chan []byte, cfg.RXQueues),
		ulRx:    make([]chan []byte, cfg.RXQueues),
		gnbTx:   make([]chan []byte, cfg.RXQueues),
		dnTx:    make([]chan []byte, cfg.RXQueues),
		stop:    make(chan struct{}),
	}
	for i := 0; i < cfg.RXQueues; i++ {
		e.dlRx[i] = make(chan []byte, cfg.QueueDepth)
		e.ulRx[i] = make(chan []byte, cfg.QueueDepth)
		e.gnbTx[i] = make(chan []byte, cfg.QueueDepth)
		e.dnTx[i] = make(chan []byte, cfg.QueueDepth)
	}
	return e, nil
}

// Start launches one worker per RX queue.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < e.cfg.RXQueues; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	if e.cfg.Workers > e.cfg.RXQueues {
		e.logger.Info("extra workers beyond queue count remain idle",
			zap.Int("workers", e.cfg.Workers),
			zap.Int("rx_queues", e.cfg.RXQueues),
		)
	}
	e.logger.Info("data plane started",
		zap.Int("rx_queues", e.cfg.RXQueues),
		zap.Int("sessions", e.table.Count()),
		zap.String("n3_address", e.cfg.N3Address),
	)
}

// Shutdown stops the workers and waits for them to drain. It is safe to
// call more than once.
func (e *Engine) Shutdown() {
	if !e.started.CompareAndSwap(true, false) {
		return
	}
	close(e.stop)
	e.wg.Wait()
	e.logger.Info("data plane stopped",
		zap.Uint64("dl_forwarded", e.dlForwarded.Load()),
		zap.Uint64("ul_forwarded", e.ulForwarded.Load()),
		zap.Uint64("dl_dropped", e.dlDropped.Load()),
		zap.Uint64("ul_dropped", e.ulDropped.Load()),
	)
}

// queueFor pins a session to a queue by hashing its UE address, so both
// directions of a session are served by the same worker.
func (e *Engine) queueFor(sess *upfctx.Session) int {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], sess.UEIP)
	h := fnv.New32a()
	h.Write(key[:])
	return int(h.Sum32() % uint32(e.cfg.RXQueues))
}

// peekUplinkTEID extracts the tunnel id with the minimal parse needed for
// queue steering; full validation happens on the worker.
func peekUplinkTEID(pkt []byte) (uint32, bool) {
	if len(pkt) < OuterOverhead || pkt[0]>>4 != 4 {
		return 0, false
	}
	ihl := int(pkt[0]&0x0f) * 4
	if len(pkt) < ihl+UDPHeaderLen+GTPUHeaderLen {
		return 0, false
	}
	gtp := pkt[ihl+UDPHeaderLen:]
	return binary.BigEndian.Uint32(gtp[4:8]), true
}

// InjectDownlink steers a data-network packet to its session's queue.
// Returns false when the packet is dropped at classification.
func (e *Engine) InjectDownlink(pkt []byte) bool {
	dst, err := DownlinkDst(pkt)
	if err != nil {
		e.dlDropped.Add(1)
		return false
	}
	sess := e.table.LookupByUEIP(dst)
	if sess == nil {
		e.dlDropped.Add(1)
		return false
	}
	select {
	case e.dlRx[e.queueFor(sess)] <- pkt:
		return true
	default:
		e.dlDropped.Add(1)
		return false
	}
}

// InjectUplink steers a gNB packet to its session's queue.
func (e *Engine) InjectUplink(pkt []byte) bool {
	teid, ok := peekUplinkTEID(pkt)
	if !ok {
		e.ulDropped.Add(1)
		return false
	}
	sess := e.table.LookupByTEID(teid)
	if sess == nil {
		e.ulDropped.Add(1)
		return false
	}
	select {
	case e.ulRx[e.queueFor(sess)] <- pkt:
		return true
	default:
		e.ulDropped.Add(1)
		return false
	}
}

// GNBTx exposes a worker's gNB-facing transmit queue.
func (e *Engine) GNBTx(queue int) <-chan []byte { return e.gnbTx[queue] }

// DNTx exposes a worker's data-network-facing transmit queue.
func (e *Engine) DNTx(queue int) <-chan []byte { return e.dnTx[queue] }

// Queues returns the configured RX queue count.
func (e *Engine) Queues() int { return e.cfg.RXQueues }

// EngineStats is a snapshot of the global forwarding counters.
type EngineStats struct {
	DownlinkForwarded uint64 `json:"dlForwarded"`
	UplinkForwarded   uint64 `json:"ulForwarded"`
	DownlinkDropped   uint64 `json:"dlDropped"`
	UplinkDropped     uint64 `json:"ulDropped"`
}

// Stats snapshots the forwarding counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		DownlinkForwarded: e.dlForwarded.Load(),
		UplinkForwarded:   e.ulForwarded.Load(),
		DownlinkDropped:   e.dlDropped.Load(),
		UplinkDropped:     e.ulDropped.Load(),
	}
}

func (e *Engine) worker(queue int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case pkt := <-e.dlRx[queue]:
			e.handleDownlink(queue, pkt)
		case pkt := <-e.ulRx[queue]:
			e.handleUplink(queue, pkt)
		}
	}
}

func (e *Engine) handleDownlink(queue int, pkt []byte) {
	dst, err := DownlinkDst(pkt)
	if err != nil {
		e.dlDropped.Add(1)
		return
	}
	sess := e.table.LookupByUEIP(dst)
	if sess == nil {
		e.dlDropped.Add(1)
		return
	}

	out, err := Encapsulate(pkt, sess, e.localIP)
	if err != nil {
		sess.Downlink.Dropped++
		e.dlDropped.Add(1)
		e.logger.Debug("downlink encapsulation failed",
			zap.String("ue_ip", upfctx.Uint32ToIPv4(dst)),
			zap.Error(err),
		)
		return
	}

	// Counters are charged before the enqueue so a receiver on the TX queue
	// observes them; a full queue rolls the charge back.
	sess.DLSequence++
	sess.Downlink.Packets++
	sess.Downlink.Bytes += uint64(len(out))
	e.dlForwarded.Add(1)

	select {
	case e.gnbTx[queue] <- out:
	default:
		sess.DLSequence--
		sess.Downlink.Packets--
		sess.Downlink.Bytes -= uint64(len(out))
		e.dlForwarded.Add(^uint64(0))
		sess.Downlink.Dropped++
		e.dlDropped.Add(1)
	}
}

func (e *Engine) handleUplink(queue int, pkt []byte) {
	dec, err := Decapsulate(pkt)
	if err != nil {
		e.ulDropped.Add(1)
		e.logger.Debug("uplink decapsulation failed", zap.Error(err))
		return
	}
	sess := e.table.LookupByTEID(dec.TEID)
	if sess == nil {
		e.ulDropped.Add(1)
		return
	}

	sess.ULSequence++
	sess.Uplink.Packets++
	sess.Uplink.Bytes += uint64(len(dec.Inner))
	e.ulForwarded.Add(1)

	select {
	case e.dnTx[queue] <- dec.Inner:
	default:
		sess.ULSequence--
		sess.Uplink.Packets--
		sess.Uplink.Bytes -= uint64(len(dec.Inner))
		e.ulForwarded.Add(^uint64(0))
		sess.Uplink.Dropped++
		e.ulDropped.Add(1)
	}
}
