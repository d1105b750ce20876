package types

// RawEntry is a source row before normalization. Legacy producers were
// inconsistent about JSON-bearing columns: context, tags, and metadata may
// arrive either as serialized JSON text or as already-structured values,
// and timestamp may be a time value, RFC 3339 text, a SQLite datetime
// string, or epoch milliseconds. The codec resolves each shape explicitly.
type RawEntry struct {
	ID        string  `json:"id"`
	AgentID   string  `json:"agentId"`
	SessionID string  `json:"sessionId"`
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Context   any     `json:"context"`   // JSON text or map[string]any
	Timestamp any     `json:"timestamp"` // time.Time, string, or number
	Tags      any     `json:"tags"`      // JSON text or []any / []string
	Version   any     `json:"version"`   // number or absent
	ParentID  *string `json:"parentId"`
	Metadata  any     `json:"metadata"` // JSON text or map[string]any
}
