package fanout

import (
	"encoding/json"
	"time"
)

// ClientMessage is a client→server control message: subscribe/unsubscribe
// to a room, or a heartbeat ping.
type ClientMessage struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// ServerMessage is the envelope every server→client frame takes. Data
// carries the already-marshalled engine payload (reservation_created,
// new_bid, trending snapshot, …) verbatim — this package never interprets
// it, only routes it to the rooms subscribed to Room.
type ServerMessage struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func marshalServerMessage(msgType, room string, data json.RawMessage) []byte {
	out, err := json.Marshal(ServerMessage{Type: msgType, Room: room, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return nil
	}
	return out
}

// roomKind reports which of the three room families (resource, auction,
// trending) a room name belongs to, by its prefix.
func roomKind(room string) string {
	for _, kind := range []string{"resource:", "auction:", "trending:"} {
		if len(room) >= len(kind) && room[:len(kind)] == kind {
			return kind[:len(kind)-1]
		}
	}
	return ""
}
