package push

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/seedling-social/likewire/pkg/gateway"
)

// eventSchema is the wire contract for change events. Payloads are
// validated against it before decoding so malformed frames from the
// transport never reach the engine.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["op", "subject_id", "entry"],
  "properties": {
    "op": {"enum": ["insert", "update", "delete"]},
    "subject_id": {"type": "string", "minLength": 36, "maxLength": 36},
    "entry": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "subject_id": {"type": "string"},
        "actor_id": {"type": "string"},
        "created_at": {"type": "string"},
        "actor_display_name": {"type": "string"}
      }
    }
  }
}`

var compiledEventSchema = jsonschema.MustCompileString("likewire://push/event.schema.json", eventSchema)

// MalformedEventError describes a frame that failed schema validation or
// decoding. Logged and dropped by the bridge, never surfaced to UI code.
type MalformedEventError struct {
	Reason string
	Raw    []byte
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed push event: %s", e.Reason)
}

// DecodeEvent validates a raw frame against the event schema and decodes it
// into a gateway.ChangeEvent with boundary defaults applied.
func DecodeEvent(raw []byte) (gateway.ChangeEvent, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return gateway.ChangeEvent{}, &MalformedEventError{Reason: err.Error(), Raw: raw}
	}
	if err := compiledEventSchema.Validate(generic); err != nil {
		return gateway.ChangeEvent{}, &MalformedEventError{Reason: err.Error(), Raw: raw}
	}

	var ev gateway.ChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return gateway.ChangeEvent{}, &MalformedEventError{Reason: err.Error(), Raw: raw}
	}
	ev.Entry = gateway.NormalizeEntry(ev.Entry, ev.SubjectID)
	return ev, nil
}
