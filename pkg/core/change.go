package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChangeType is the kind of mutation recorded in a ChangeRecord.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Default change objects.
const (
	ChangeObjectPassport   = "dpp:DigitalProductPassport"
	changeObjectCollection = "dpp:DataElementCollection#"
)

// DefaultActor is recorded when the context carries no actor.
const DefaultActor = "system"

// ChangeRecord is one entry of dpp:changeLog. Records are never edited or
// removed once appended.
type ChangeRecord struct {
	ChangeID          string     `json:"dpp:changeId"`
	Timestamp         time.Time  `json:"dpp:timestamp"`
	Actor             string     `json:"-"`
	ChangeObject      string     `json:"dpp:changeObject"`
	ChangeType        ChangeType `json:"dpp:changeType"`
	ChangedProperties []string   `json:"dpp:changedProperties"`
}

// CollectionChangeObject names a data element collection as a change object.
func CollectionChangeObject(collectionID string) string {
	return changeObjectCollection + collectionID
}

// NewChangeID returns a fresh urn:uuid identifier.
func NewChangeID() string {
	return "urn:uuid:" + uuid.NewString()
}

type contextKey string

// ActorKey is the context key for passing the actor recorded in change records.
const ActorKey contextKey = "actor"

// WithActor returns a context carrying the given actor name.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFrom returns the actor carried by ctx or DefaultActor.
func ActorFrom(ctx context.Context) string {
	if ctx != nil {
		if val, ok := ctx.Value(ActorKey).(string); ok && val != "" {
			return val
		}
	}
	return DefaultActor
}

// AppendChange creates a new ChangeRecord with a fresh id and appends it to
// the document's dpp:changeLog. The document is modified in place; callers
// pass a copy they own.
func AppendChange(doc Document, changeType ChangeType, changeObject string, changed []string, actor string, at time.Time) ChangeRecord {
	if changeObject == "" {
		changeObject = ChangeObjectPassport
	}
	if changed == nil {
		changed = []string{}
	}
	rec := ChangeRecord{
		ChangeID:          NewChangeID(),
		Timestamp:         at.UTC(),
		Actor:             actor,
		ChangeObject:      changeObject,
		ChangeType:        changeType,
		ChangedProperties: append([]string(nil), changed...),
	}
	log, _ := doc[KeyChangeLog].([]any)
	// Copy so that an earlier version sharing the backing array is untouched.
	next := make([]any, len(log), len(log)+1)
	copy(next, log)
	doc[KeyChangeLog] = append(next, rec.node())
	return rec
}

func (r ChangeRecord) node() map[string]any {
	props := make([]any, len(r.ChangedProperties))
	for i, p := range r.ChangedProperties {
		props[i] = p
	}
	return map[string]any{
		"type":             "dpp:ChangeEvent",
		"dpp:changeId":     r.ChangeID,
		"dpp:timestamp":    FormatTime(r.Timestamp),
		"dpp:changeType":   string(r.ChangeType),
		"dpp:changeObject": r.ChangeObject,
		"dpp:actor": map[string]any{
			"type":        "dpp:Agent",
			"schema:name": r.Actor,
		},
		"dpp:changedProperties": props,
	}
}

func changeRecordFromNode(obj map[string]any) ChangeRecord {
	rec := ChangeRecord{
		ChangeID:     firstString(obj, "dpp:changeId", "changeId"),
		ChangeObject: firstString(obj, "dpp:changeObject", "changeObject"),
		ChangeType:   ChangeType(firstString(obj, "dpp:changeType", "changeType")),
	}
	if ts := firstString(obj, "dpp:timestamp", "timestamp"); ts != "" {
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	}
	switch a := obj["dpp:actor"].(type) {
	case map[string]any:
		rec.Actor = firstString(a, "schema:name", "name")
	case string:
		rec.Actor = a
	}
	if props, ok := obj["dpp:changedProperties"].([]any); ok {
		for _, p := range props {
			if s, ok := p.(string); ok {
				rec.ChangedProperties = append(rec.ChangedProperties, s)
			}
		}
	}
	return rec
}

// FormatTime renders timestamps the way they are stored in documents.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
