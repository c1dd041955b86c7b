package sbi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/your-org/5gc-core/nf/amf/internal/message"
)

// Outcome is the orchestrator's verdict on one SBI request. Status carries
// the HTTP code to return; Extra is merged into the response body.
type Outcome struct {
	Status   int
	AMFState string
	Reason   string
	Extra    map[string]any
}

// processedMessage echoes the classification of the request back to the
// caller with numeric codes.
type processedMessage struct {
	ServiceType int    `json:"serviceType"`
	MessageType int    `json:"messageType"`
	HTTPMethod  string `json:"httpMethod"`
	URI         string `json:"uri"`
}

// writeResponse shapes the fixed JSON response. Content-Length is counted in
// bytes by net/http from the marshaled buffer.
func writeResponse(w http.ResponseWriter, msg *message.SBIMessage, out Outcome) {
	status := "SUCCESS"
	if out.Status >= 400 {
		status = "FAILURE"
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"amfState":  out.AMFState,
		"processedMessage": processedMessage{
			ServiceType: int(msg.ServiceType),
			MessageType: int(msg.Operation),
			HTTPMethod:  msg.Method,
			URI:         msg.URI,
		},
	}
	if out.Reason != "" {
		body["reason"] = out.Reason
	}
	for k, v := range out.Extra {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, `{"status":"FAILURE"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(out.Status)
	w.Write(data)
}
