// Package print – control-channel wire protocol.
//
// All frames are JSON envelopes with a Type discriminator, matching the
// cloud print service. Request/response pairs:
//
//	HELLO{token?, agentId?}            → AUTH_OK{agentId, agentName, propertyId} | AUTH_FAIL{message}
//	JOB{jobId, printerIp?, printerId?, printerPort?, data}
//	                                   → ACK{jobId}, then DONE{jobId} | ERROR{jobId, error}
//	DRAWER_KICK{kickId, printerIp?, printerId?, pin, pulseDuration}
//	                                   → KICK_DONE{kickId} | KICK_ERROR{kickId, error}
//	HEARTBEAT{timestamp, printers[], pendingLocalJobs}
//	                                   → HEARTBEAT_ACK
//
// A malformed frame is a ProtocolError: logged and dropped, never a
// reason to tear down the connection.
package print

// Control-channel message types.
const (
	MsgHello        = "HELLO"
	MsgAuthOK       = "AUTH_OK"
	MsgAuthFail     = "AUTH_FAIL"
	MsgJob          = "JOB"
	MsgAck          = "ACK"
	MsgDone         = "DONE"
	MsgError        = "ERROR"
	MsgDrawerKick   = "DRAWER_KICK"
	MsgKickDone     = "KICK_DONE"
	MsgKickError    = "KICK_ERROR"
	MsgHeartbeat    = "HEARTBEAT"
	MsgHeartbeatAck = "HEARTBEAT_ACK"
)

// PrinterStatus is one entry of the heartbeat's printer inventory.
type PrinterStatus struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Message is the single envelope carrying every frame type; unused fields
// stay zero and are omitted on the wire.
type Message struct {
	Type string `json:"type"`

	// HELLO / AUTH_OK / AUTH_FAIL
	Token      string `json:"token,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	AgentName  string `json:"agentName,omitempty"`
	PropertyID string `json:"propertyId,omitempty"`
	Message    string `json:"message,omitempty"`

	// JOB / ACK / DONE / ERROR
	JobID       string `json:"jobId,omitempty"`
	PrinterIP   string `json:"printerIp,omitempty"`
	PrinterID   string `json:"printerId,omitempty"`
	PrinterPort int    `json:"printerPort,omitempty"`
	Data        string `json:"data,omitempty"` // base64 ESC/POS payload
	Error       string `json:"error,omitempty"`

	// DRAWER_KICK / KICK_DONE / KICK_ERROR
	KickID        string `json:"kickId,omitempty"`
	Pin           string `json:"pin,omitempty"` // pin2 | pin5
	PulseDuration int    `json:"pulseDuration,omitempty"`

	// HEARTBEAT
	Timestamp        int64           `json:"timestamp,omitempty"`
	Printers         []PrinterStatus `json:"printers,omitempty"`
	PendingLocalJobs int             `json:"pendingLocalJobs,omitempty"`
}
