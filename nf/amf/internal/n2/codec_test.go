package n2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

func TestEncodeSortsIEs(t *testing.T) {
	msg := &message.N2Message{
		Type:        message.N2InitialUEMessage,
		RANNodeID:   "gnb-001",
		AMFUENGAPID: 7,
		RANUENGAPID: 9,
		IEs:         map[string]string{"supi": "imsi-1", "cause": "test"},
	}

	line := Encode(msg)
	assert.Contains(t, line, "|gnb-001|7|9|")
	assert.Contains(t, line, "cause=test;supi=imsi-1")

	// Deterministic regardless of map iteration order.
	assert.Equal(t, line, Encode(msg))
}

func TestDecodeRoundTrip(t *testing.T) {
	original := &message.N2Message{
		Type:        message.N2NGSetupRequest,
		RANNodeID:   "gnb-001",
		AMFUENGAPID: 1,
		RANUENGAPID: 2,
		IEs:         map[string]string{"plmn": "46000", "tac": "0001"},
	}

	decoded, err := Decode(Encode(original))
	require.NoError(t, err)

	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.RANNodeID, decoded.RANNodeID)
	assert.Equal(t, original.AMFUENGAPID, decoded.AMFUENGAPID)
	assert.Equal(t, original.RANUENGAPID, decoded.RANUENGAPID)
	assert.Equal(t, original.IEs, decoded.IEs)
}

func TestDecodeWithoutIEs(t *testing.T) {
	decoded, err := Decode("1|gnb-001|0|0|")
	require.NoError(t, err)
	assert.Empty(t, decoded.IEs)
}

func TestDecodeTrimsLineEnding(t *testing.T) {
	decoded, err := Decode("1|gnb-001|0|0|k=v\r\n")
	require.NoError(t, err)
	assert.Equal(t, "v", decoded.IEs["k"])
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "1|gnb-001"},
		{"bad type", "x|gnb-001|0|0|"},
		{"bad amf id", "1|gnb-001|x|0|"},
		{"bad ran id", "1|gnb-001|0|x|"},
		{"malformed ie", "1|gnb-001|0|0|novalue"},
		{"empty ie key", "1|gnb-001|0|0|=v"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.line)
			assert.Error(t, err)
		})
	}
}
