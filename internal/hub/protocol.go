package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/solaris-dev/pylon/internal/presence"
)

// Opcode identifies downstream websocket payload variants.
type Opcode int

const (
	// OpEvent carries server-pushed data: presence snapshots and updates.
	OpEvent Opcode = 0
	// OpTrack registers additional user ids without pushing state.
	OpTrack Opcode = 1
	// OpHydrate registers ids and pushes a snapshot for each cached record.
	OpHydrate Opcode = 2
	// OpHeartbeat is a client liveness probe, acked with the same opcode.
	OpHeartbeat Opcode = 3
	// OpError reports a rejected client payload.
	OpError Opcode = -1
)

var ErrUnsupportedOp = errors.New("unsupported opcode")

type clientEnvelope struct {
	Op *Opcode         `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// TrackRequest covers both track and hydrate: the only difference is whether
// cached records are pushed for the listed ids.
type TrackRequest struct {
	Op      Opcode
	UserIDs []string
}

type HeartbeatRequest struct{}

type serverEnvelope struct {
	Op Opcode `json:"op"`
	D  any    `json:"d,omitempty"`
}

// EventPayload flattens a presence record with the id it belongs to.
type EventPayload struct {
	UserID string `json:"userId"`
	presence.Record
}

type helloPayload struct {
	Message      string `json:"message"`
	ConnectionID string `json:"connectionId"`
}

type heartbeatAck struct {
	Status string `json:"status"`
	TS     int64  `json:"ts"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// ParseClientMessage validates a raw downstream frame. A failure here is a
// protocol error to report on the socket, never a reason to close it.
func ParseClientMessage(raw []byte) (any, error) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Op == nil {
		return nil, errors.New("missing op")
	}

	switch *env.Op {
	case OpTrack, OpHydrate:
		var ids []string
		if len(env.D) == 0 {
			return nil, errors.New("d must be an array of user ids")
		}
		if err := json.Unmarshal(env.D, &ids); err != nil {
			return nil, errors.New("d must be an array of user ids")
		}
		return TrackRequest{Op: *env.Op, UserIDs: ids}, nil
	case OpHeartbeat:
		return HeartbeatRequest{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedOp, *env.Op)
	}
}

func eventMessage(userID string, rec presence.Record) serverEnvelope {
	return serverEnvelope{Op: OpEvent, D: EventPayload{UserID: userID, Record: rec}}
}

func errorMessage(err error) serverEnvelope {
	return serverEnvelope{Op: OpError, D: errorPayload{Error: err.Error()}}
}
