// Package codec converts raw source rows into canonical memory entries.
//
// Legacy row stores serialized the JSON-bearing columns inconsistently, so
// every conversion goes through an explicit "already structured or still
// serialized text" check per field rather than relying on driver behavior.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hivemem/membridge/internal/storage"
	"github.com/hivemem/membridge/pkg/types"
)

// timestampLayouts are the accepted textual timestamp formats, tried in
// order. The SQLite datetime layout covers rows written by the legacy
// store's CURRENT_TIMESTAMP default.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Validate checks that every required field of a raw row is present and
// non-empty. It returns an error wrapping storage.ErrValidation naming the
// first missing field.
func Validate(raw types.RawEntry) error {
	switch {
	case strings.TrimSpace(raw.ID) == "":
		return fmt.Errorf("%w: missing id", storage.ErrValidation)
	case strings.TrimSpace(raw.AgentID) == "":
		return fmt.Errorf("%w: missing agentId (entry %s)", storage.ErrValidation, raw.ID)
	case strings.TrimSpace(raw.SessionID) == "":
		return fmt.Errorf("%w: missing sessionId (entry %s)", storage.ErrValidation, raw.ID)
	case strings.TrimSpace(raw.Type) == "":
		return fmt.Errorf("%w: missing type (entry %s)", storage.ErrValidation, raw.ID)
	case raw.Content == "":
		return fmt.Errorf("%w: missing content (entry %s)", storage.ErrValidation, raw.ID)
	}

	if raw.Timestamp == nil {
		return fmt.Errorf("%w: missing timestamp (entry %s)", storage.ErrValidation, raw.ID)
	}
	if s, ok := raw.Timestamp.(string); ok && strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: missing timestamp (entry %s)", storage.ErrValidation, raw.ID)
	}

	return nil
}

// Convert validates a raw row and normalizes it into a MemoryEntry.
// Absent optional fields stay absent (nil), they are not stored as null
// placeholders.
func Convert(raw types.RawEntry) (*types.MemoryEntry, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", storage.ErrValidation, raw.ID, err)
	}

	ctx, err := normalizeObject(raw.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: context: %v", storage.ErrValidation, raw.ID, err)
	}
	if ctx == nil {
		ctx = map[string]any{}
	}

	tags, err := normalizeTags(raw.Tags)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: tags: %v", storage.ErrValidation, raw.ID, err)
	}

	version, err := parseVersion(raw.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", storage.ErrValidation, raw.ID, err)
	}

	entry := &types.MemoryEntry{
		ID:        raw.ID,
		AgentID:   raw.AgentID,
		SessionID: raw.SessionID,
		Type:      raw.Type,
		Content:   raw.Content,
		Context:   ctx,
		Timestamp: ts,
		Tags:      tags,
		Version:   version,
	}

	if raw.ParentID != nil && *raw.ParentID != "" {
		pid := *raw.ParentID
		entry.ParentID = &pid
	}

	if raw.Metadata != nil {
		meta, err := normalizeObject(raw.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s: metadata: %v", storage.ErrValidation, raw.ID, err)
		}
		entry.Metadata = meta
	}

	return entry, nil
}

// normalizeObject resolves a JSON-object field that may be serialized text
// or an already-structured map. nil and empty text both mean absent.
func normalizeObject(v any) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return val, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			return nil, fmt.Errorf("not a JSON object: %v", err)
		}
		return m, nil
	case []byte:
		return normalizeObject(string(val))
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// normalizeTags resolves a tag list that may be serialized text or an
// already-structured slice. Absent means an empty (non-nil) slice.
func normalizeTags(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return val, nil
	case []any:
		tags := make([]string, 0, len(val))
		for _, t := range val {
			s, ok := t.(string)
			if !ok {
				return nil, fmt.Errorf("non-string tag %v", t)
			}
			tags = append(tags, s)
		}
		return tags, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return []string{}, nil
		}
		var tags []string
		if err := json.Unmarshal([]byte(val), &tags); err != nil {
			return nil, fmt.Errorf("not a JSON string array: %v", err)
		}
		return tags, nil
	case []byte:
		return normalizeTags(string(val))
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// parseTimestamp accepts time values, textual layouts, and numeric epochs.
// Numeric values are epoch milliseconds when large enough to be implausible
// as seconds (JS-era producers wrote milliseconds).
func parseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", val)
	case int64:
		return fromEpoch(val), nil
	case int:
		return fromEpoch(int64(val)), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return time.Time{}, fmt.Errorf("unparseable timestamp %v", val)
		}
		return fromEpoch(int64(val)), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// fromEpoch treats values >= 1e12 as milliseconds and smaller values as
// seconds. The cutover (Sun Sep 09 2001 in ms) is far below any timestamp
// a memory store produces.
func fromEpoch(n int64) time.Time {
	if n >= 1_000_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// parseVersion defaults an absent version to 1 and rejects non-positive
// values.
func parseVersion(v any) (int, error) {
	var n int
	switch val := v.(type) {
	case nil:
		return 1, nil
	case int:
		n = val
	case int64:
		n = int(val)
	case float64:
		n = int(val)
	case string:
		if strings.TrimSpace(val) == "" {
			return 1, nil
		}
		if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
			return 0, fmt.Errorf("unparseable version %q", val)
		}
	default:
		return 0, fmt.Errorf("unsupported version type %T", v)
	}
	if n < 1 {
		return 0, fmt.Errorf("version must be positive, got %d", n)
	}
	return n, nil
}
