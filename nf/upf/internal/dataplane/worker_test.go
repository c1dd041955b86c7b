package dataplane

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/upf/internal/config"
	upfctx "github.com/your-org/5gc-core/nf/upf/internal/context"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.QueueDepth = 16
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *upfctx.Session) {
	t.Helper()

	tbl := upfctx.NewTable()
	sess := testSession(t)
	require.NoError(t, tbl.Install(sess))

	e, err := NewEngine(testConfig(), tbl, zap.NewNop())
	require.NoError(t, err)
	e.Start()
	t.Cleanup(e.Shutdown)
	return e, sess
}

// receive reads the session's TX queue with a timeout.
func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case pkt := <-ch:
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("no packet emitted")
		return nil
	}
}

func TestEngineRefusesUnservedQueues(t *testing.T) {
	cfg := testConfig()
	cfg.RXQueues = 4
	cfg.Workers = 2

	_, err := NewEngine(cfg, upfctx.NewTable(), zap.NewNop())
	assert.Error(t, err)
}

func TestDownlinkForwarding(t *testing.T) {
	e, sess := newTestEngine(t)
	queue := e.queueFor(sess)

	payload := []byte("downlink-data")
	inner := buildIPv4(mustIP(t, "8.8.8.8"), sess.UEIP, 0, payload)
	require.True(t, e.InjectDownlink(inner))

	out := receive(t, e.GNBTx(queue))

	assert.Equal(t, sess.GNBIP, binary.BigEndian.Uint32(out[16:20]))
	assert.Equal(t, uint16(GTPUPort), binary.BigEndian.Uint16(out[IPv4HeaderLen+2:IPv4HeaderLen+4]))

	gtp := out[IPv4HeaderLen+UDPHeaderLen:]
	assert.Equal(t, sess.DownlinkTEID, binary.BigEndian.Uint32(gtp[4:8]))
	assert.Equal(t, uint16(len(inner)), binary.BigEndian.Uint16(gtp[2:4]))
	assert.Len(t, out, IPv4HeaderLen+UDPHeaderLen+GTPUHeaderLen+len(inner))

	// Counters are charged before the packet is enqueued, so receiving it
	// makes them visible here.
	assert.Equal(t, uint64(1), sess.Downlink.Packets)
	assert.Equal(t, uint64(len(out)), sess.Downlink.Bytes)
	assert.Equal(t, uint32(1), sess.DLSequence)
	assert.Equal(t, uint64(1), e.Stats().DownlinkForwarded)
}

func TestUplinkForwarding(t *testing.T) {
	e, sess := newTestEngine(t)
	queue := e.queueFor(sess)

	inner := buildIPv4(sess.UEIP, mustIP(t, "8.8.8.8"), 0, []byte("uplink-data"))
	pkt := buildGTPU(t, sess.UplinkTEID, len(inner), inner)
	require.True(t, e.InjectUplink(pkt))

	out := receive(t, e.DNTx(queue))

	// The inner packet comes out verbatim.
	assert.Equal(t, inner, out)
	assert.Equal(t, uint64(1), sess.Uplink.Packets)
	assert.Equal(t, uint64(len(inner)), sess.Uplink.Bytes)
	assert.Equal(t, uint64(1), e.Stats().UplinkForwarded)
}

func TestDownlinkSessionMissDropped(t *testing.T) {
	e, _ := newTestEngine(t)

	stranger := buildIPv4(mustIP(t, "8.8.8.8"), mustIP(t, "10.9.9.9"), 0, []byte("x"))
	assert.False(t, e.InjectDownlink(stranger))
	assert.Equal(t, uint64(1), e.Stats().DownlinkDropped)
}

func TestUplinkUnknownTEIDDropped(t *testing.T) {
	e, _ := newTestEngine(t)

	inner := buildIPv4(mustIP(t, "10.0.0.2"), mustIP(t, "8.8.8.8"), 0, []byte("x"))
	pkt := buildGTPU(t, 0xdeadbeef, len(inner), inner)
	assert.False(t, e.InjectUplink(pkt))
	assert.Equal(t, uint64(1), e.Stats().UplinkDropped)
}

func TestNonIPv4Dropped(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.False(t, e.InjectDownlink([]byte{0x60, 0, 0, 0}))
	assert.False(t, e.InjectUplink([]byte{0x60, 0, 0, 0}))
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.DownlinkDropped)
	assert.Equal(t, uint64(1), stats.UplinkDropped)
}

func TestBothDirectionsShareOneWorker(t *testing.T) {
	e, sess := newTestEngine(t)
	queue := e.queueFor(sess)

	inner := buildIPv4(mustIP(t, "8.8.8.8"), sess.UEIP, 0, []byte("dl"))
	ulInner := buildIPv4(sess.UEIP, mustIP(t, "8.8.8.8"), 0, []byte("ul"))

	const rounds = 50
	for i := 0; i < rounds; i++ {
		require.True(t, e.InjectDownlink(inner))
		require.True(t, e.InjectUplink(buildGTPU(t, sess.UplinkTEID, len(ulInner), ulInner)))
		receive(t, e.GNBTx(queue))
		receive(t, e.DNTx(queue))
	}

	// Per-session counters are unsynchronized; they only stay exact because
	// a single worker owns the session in both directions.
	assert.Equal(t, uint64(rounds), sess.Downlink.Packets)
	assert.Equal(t, uint64(rounds), sess.Uplink.Packets)
	assert.Equal(t, uint32(rounds), sess.DLSequence)
	assert.Equal(t, uint32(rounds), sess.ULSequence)
}

// newTinyQueueEngine builds an engine whose TX queues hold a single packet.
func newTinyQueueEngine(t *testing.T) (*Engine, *upfctx.Session) {
	t.Helper()

	tbl := upfctx.NewTable()
	sess := testSession(t)
	require.NoError(t, tbl.Install(sess))

	cfg := testConfig()
	cfg.QueueDepth = 1
	e, err := NewEngine(cfg, tbl, zap.NewNop())
	require.NoError(t, err)
	e.Start()
	t.Cleanup(e.Shutdown)
	return e, sess
}

func TestDownlinkFullTransmitQueueNotCountedForwarded(t *testing.T) {
	e, sess := newTinyQueueEngine(t)

	inner := buildIPv4(mustIP(t, "8.8.8.8"), sess.UEIP, 0, make([]byte, 32))
	require.True(t, e.InjectDownlink(inner))
	require.Eventually(t, func() bool {
		return e.Stats().DownlinkForwarded == 1
	}, 2*time.Second, time.Millisecond)

	// The TX queue still holds the first packet, so the second has nowhere
	// to go.
	require.True(t, e.InjectDownlink(inner))
	require.Eventually(t, func() bool {
		return e.Stats().DownlinkDropped == 1
	}, 2*time.Second, time.Millisecond)

	// Shutdown joins the worker so the unsynchronized session counters can
	// be read directly.
	e.Shutdown()

	wire := uint64(len(inner) + OuterOverhead)
	assert.Equal(t, uint64(1), sess.Downlink.Packets)
	assert.Equal(t, wire, sess.Downlink.Bytes)
	assert.Equal(t, uint32(1), sess.DLSequence)
	assert.Equal(t, uint64(1), sess.Downlink.Dropped)
	assert.Equal(t, uint64(1), e.Stats().DownlinkForwarded)

	out := receive(t, e.GNBTx(e.queueFor(sess)))
	assert.Equal(t, wire, uint64(len(out)))
}

func TestUplinkFullTransmitQueueNotCountedForwarded(t *testing.T) {
	e, sess := newTinyQueueEngine(t)

	inner := buildIPv4(sess.UEIP, mustIP(t, "8.8.8.8"), 0, make([]byte, 32))
	pkt := buildGTPU(t, sess.UplinkTEID, len(inner), inner)

	require.True(t, e.InjectUplink(pkt))
	require.Eventually(t, func() bool {
		return e.Stats().UplinkForwarded == 1
	}, 2*time.Second, time.Millisecond)

	require.True(t, e.InjectUplink(pkt))
	require.Eventually(t, func() bool {
		return e.Stats().UplinkDropped == 1
	}, 2*time.Second, time.Millisecond)

	e.Shutdown()

	assert.Equal(t, uint64(1), sess.Uplink.Packets)
	assert.Equal(t, uint64(len(inner)), sess.Uplink.Bytes)
	assert.Equal(t, uint32(1), sess.ULSequence)
	assert.Equal(t, uint64(1), sess.Uplink.Dropped)
	assert.Equal(t, uint64(1), e.Stats().UplinkForwarded)
}

func TestQueueSteeringStaysInRange(t *testing.T) {
	e, _ := newTestEngine(t)

	for i := 0; i < 256; i++ {
		sess := &upfctx.Session{UEIP: 0xfff00000 + uint32(i)}
		q := e.queueFor(sess)
		require.GreaterOrEqual(t, q, 0)
		require.Less(t, q, e.Queues())
	}
}

func TestByteCountersMatchEmittedLengths(t *testing.T) {
	e, sess := newTestEngine(t)
	queue := e.queueFor(sess)

	var emitted uint64
	for _, size := range []int{0, 64, 512, 1400} {
		inner := buildIPv4(mustIP(t, "8.8.8.8"), sess.UEIP, 0, make([]byte, size))
		require.True(t, e.InjectDownlink(inner))
		out := receive(t, e.GNBTx(queue))
		emitted += uint64(len(out))
	}

	assert.Equal(t, emitted, sess.Downlink.Bytes)
}
