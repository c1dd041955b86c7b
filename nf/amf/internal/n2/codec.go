package n2

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

// The N2 stub speaks a line-oriented text format in place of NGAP/SCTP:
//
//	type|ranNodeId|amfUeNgapId|ranUeNgapId|k=v;k=v
//
// IEs are sorted by key on encode so the wire form is deterministic.

// Encode renders an N2 message as one wire line (without trailing newline).
func Encode(msg *message.N2Message) string {
	keys := make([]string, 0, len(msg.IEs))
	for k := range msg.IEs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+msg.IEs[k])
	}

	return fmt.Sprintf("%d|%s|%d|%d|%s",
		int(msg.Type), msg.RANNodeID, msg.AMFUENGAPID, msg.RANUENGAPID,
		strings.Join(pairs, ";"))
}

// Decode parses one wire line into an N2 message.
func Decode(line string) (*message.N2Message, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), "|", 5)
	if len(parts) < 4 {
		return nil, fmt.Errorf("malformed N2 line: %q", line)
	}

	msgType, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid N2 message type: %q", parts[0])
	}
	amfID, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AMF UE NGAP id: %q", parts[2])
	}
	ranID, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RAN UE NGAP id: %q", parts[3])
	}

	msg := &message.N2Message{
		Type:        message.N2MessageType(msgType),
		RANNodeID:   parts[1],
		AMFUENGAPID: amfID,
		RANUENGAPID: ranID,
		IEs:         make(map[string]string),
		Timestamp:   time.Now(),
	}

	if len(parts) == 5 && parts[4] != "" {
		for _, pair := range strings.Split(parts[4], ";") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 || kv[0] == "" {
				return nil, fmt.Errorf("malformed N2 IE: %q", pair)
			}
			msg.IEs[kv[0]] = kv[1]
		}
	}
	return msg, nil
}
