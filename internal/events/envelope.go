// Package events defines the wire envelope published by every engine and
// consumed by the Fan-out Gateway (spec.md §6 "Wire messages").
package events

import "encoding/json"

// Envelope is the {type, ...} shape every server→client message takes.
// Payload is flattened into the envelope's own JSON object at marshal time
// so clients see e.g. {"type":"new_bid","auctionId":"...","amount":500}
// rather than a nested "payload" field.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"-"`
}

// Marshal flattens typ and payload into one JSON object.
func Marshal(typ string, payload interface{}) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadJSON, &fields); err != nil {
		// payload wasn't a JSON object (e.g. a slice) — nest it under "data".
		fields = map[string]json.RawMessage{"data": payloadJSON}
	}
	typeJSON, _ := json.Marshal(typ)
	fields["type"] = typeJSON

	return json.Marshal(fields)
}
