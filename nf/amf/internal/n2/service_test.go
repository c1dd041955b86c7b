package n2

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

func TestServiceDispatchesWireMessages(t *testing.T) {
	svc := NewService(zap.NewNop())

	received := make(chan *message.N2Message, 1)
	svc.RegisterHandler(message.N2NGSetupRequest, func(msg *message.N2Message) {
		received <- msg
		// Answer on the same connection.
		svc.Send(&message.N2Message{
			Type:      message.N2NGSetupResponse,
			RANNodeID: msg.RANNodeID,
		})
	})

	require.NoError(t, svc.Start("127.0.0.1", 0))
	defer svc.Shutdown()

	conn, err := net.Dial("tcp", svc.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(Encode(&message.N2Message{
		Type:      message.N2NGSetupRequest,
		RANNodeID: "gnb-001",
		IEs:       map[string]string{"tac": "0001"},
	}) + "\n"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "gnb-001", msg.RANNodeID)
		assert.Equal(t, "0001", msg.IEs["tac"])
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	// The response comes back over the bound connection.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	reply, err := Decode(scanner.Text())
	require.NoError(t, err)
	assert.Equal(t, message.N2NGSetupResponse, reply.Type)

	assert.Equal(t, uint64(1), svc.Received())
	assert.Equal(t, uint64(1), svc.Sent())
}

func TestServiceDropsMalformedLines(t *testing.T) {
	svc := NewService(zap.NewNop())

	received := make(chan *message.N2Message, 1)
	svc.RegisterHandler(message.N2NGSetupRequest, func(msg *message.N2Message) {
		received <- msg
	})

	require.NoError(t, svc.Start("127.0.0.1", 0))
	defer svc.Shutdown()

	conn, err := net.Dial("tcp", svc.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Malformed line first, valid line after: only the valid one dispatches.
	_, err = conn.Write([]byte("garbage\n" + Encode(&message.N2Message{
		Type:      message.N2NGSetupRequest,
		RANNodeID: "gnb-001",
	}) + "\n"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "gnb-001", msg.RANNodeID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid message not dispatched")
	}
	assert.Equal(t, uint64(1), svc.Received())
}

func TestSendFallsBackToOutboundSink(t *testing.T) {
	svc := NewService(zap.NewNop())

	sunk := make(chan *message.N2Message, 1)
	svc.SetOutbound(func(msg *message.N2Message) { sunk <- msg })

	ok := svc.Send(&message.N2Message{
		Type:      message.N2Paging,
		RANNodeID: "gnb-unconnected",
	})
	require.True(t, ok)

	select {
	case msg := <-sunk:
		assert.Equal(t, message.N2Paging, msg.Type)
	default:
		t.Fatal("outbound sink not invoked")
	}
	assert.Equal(t, uint64(1), svc.Sent())
}

func TestSendWithoutPeerOrSinkFails(t *testing.T) {
	svc := NewService(zap.NewNop())

	ok := svc.Send(&message.N2Message{Type: message.N2Paging, RANNodeID: "gnb-x"})
	assert.False(t, ok)
	assert.Zero(t, svc.Sent())
}
