package outbox

// workSessionChangedSchema is the JSON schema registered for every lifecycle event.
const workSessionChangedSchema = `{
  "type": "object",
  "title": "WorkSessionChanged",
  "properties": {
    "session_id": {"type": "string"},
    "user_id": {"type": "string"},
    "event_type": {"type": "string", "enum": ["work_session.started", "work_session.paused", "work_session.resumed", "work_session.ended"]},
    "status": {"type": "string", "enum": ["working", "paused", "finished"]},
    "start_time": {"type": "string", "format": "date-time"},
    "pause_time": {"type": "string", "format": "date-time"},
    "end_time": {"type": "string", "format": "date-time"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["session_id", "user_id", "event_type", "status", "start_time", "occurred_at", "version"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"work_session.started": {Schema: workSessionChangedSchema},
	"work_session.paused":  {Schema: workSessionChangedSchema},
	"work_session.resumed": {Schema: workSessionChangedSchema},
	"work_session.ended":   {Schema: workSessionChangedSchema},
}
