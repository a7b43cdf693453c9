package gateway

import (
	"encoding/json"

	"github.com/solaris-dev/pylon/internal/presence"
)

// Upstream wire opcodes. The client only speaks the subset needed to keep
// the session alive and receive presence dispatches.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opRateLimit      = 4
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Dispatch event names of interest.
const (
	eventReady          = "READY"
	eventResumed        = "RESUMED"
	eventPresenceUpdate = "PRESENCE_UPDATE"
)

// intentPresences is the capability flag requesting presence dispatches.
const intentPresences = 1 << 8

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type rateLimitData struct {
	RetryAfter int64 `json:"retry_after"`
}

type readyData struct {
	SessionID        string           `json:"session_id"`
	ResumeGatewayURL string           `json:"resume_gateway_url"`
	User             presence.Profile `json:"user"`
}

// ReadyEvent is emitted once per established logical session.
type ReadyEvent struct {
	SessionID string
	User      presence.Profile
	Resumed   bool
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}
