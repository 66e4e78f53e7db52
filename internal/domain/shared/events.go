package shared

import "time"

// EventType names a domain event. The prefix is the producing area.
type EventType string

const (
	// Published by the CRUD layer after a write to an XP-contributing collection.
	EventRecordCreated  EventType = "content.record_created"
	EventRecordUpdated  EventType = "content.record_updated"
	EventRecordArchived EventType = "content.record_archived"
	EventRecordDeleted  EventType = "content.record_deleted"

	// Published by the profile sync.
	EventProfileSynced EventType = "progression.profile_synced"
	EventLevelChanged  EventType = "progression.level_changed"
	EventRankChanged   EventType = "progression.rank_changed"
)

var recordActions = map[string]EventType{
	"created": EventRecordCreated, "create": EventRecordCreated,
	"updated": EventRecordUpdated, "update": EventRecordUpdated,
	"archived": EventRecordArchived, "archive": EventRecordArchived,
	"deleted": EventRecordDeleted, "delete": EventRecordDeleted,
}

// RecordEventTypes lists every content event that triggers a profile sync.
func RecordEventTypes() []EventType {
	return []EventType{EventRecordCreated, EventRecordUpdated, EventRecordArchived, EventRecordDeleted}
}

// RecordActionEventType maps a CRUD action ("update", "deleted", ...) to its event.
func RecordActionEventType(action string) (EventType, bool) {
	t, ok := recordActions[action]
	return t, ok
}

// Event is a fact published on the bus. AggregateID is the profile the event
// concerns, "" for the singleton profile.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string

	// Payload is the serializable form carried over Redis.
	Payload() map[string]any
}

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	Type          EventType `json:"type"`
	At            time.Time `json:"occurred_at"`
	ProfileID     string    `json:"profile_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewBaseEvent(eventType EventType, profileID string) BaseEvent {
	return BaseEvent{Type: eventType, At: time.Now(), ProfileID: profileID, Version: 1}
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.At }
func (e BaseEvent) AggregateID() string   { return e.ProfileID }

// Correlation is the request or job that caused the event, if known.
func (e BaseEvent) Correlation() string { return e.CorrelationID }

// Correlate tags the event with the causing request or job.
func (e *BaseEvent) Correlate(id string) { e.CorrelationID = id }

// RecordChangedEvent follows a create, update, archive or delete of a record in
// an XP-contributing collection.
type RecordChangedEvent struct {
	BaseEvent
	Collection string `json:"collection"`
	RecordID   string `json:"record_id"`
}

func NewRecordChangedEvent(eventType EventType, profileID, collection, recordID string) RecordChangedEvent {
	return RecordChangedEvent{BaseEvent: NewBaseEvent(eventType, profileID), Collection: collection, RecordID: recordID}
}

func (e RecordChangedEvent) Payload() map[string]any {
	return map[string]any{"profile_id": e.ProfileID, "collection": e.Collection, "record_id": e.RecordID}
}

// ProfileSyncedEvent follows a successful write of the progression to the profile.
type ProfileSyncedEvent struct {
	BaseEvent
	Level   int    `json:"level"`
	XP      int    `json:"xp"`
	Rank    string `json:"rank"`
	TotalXP int    `json:"total_xp"`
}

func NewProfileSyncedEvent(profileID string, level, xp int, rank string, totalXP int) ProfileSyncedEvent {
	return ProfileSyncedEvent{
		BaseEvent: NewBaseEvent(EventProfileSynced, profileID),
		Level:     level,
		XP:        xp,
		Rank:      rank,
		TotalXP:   totalXP,
	}
}

func (e ProfileSyncedEvent) Payload() map[string]any {
	return map[string]any{"profile_id": e.ProfileID, "level": e.Level, "xp": e.XP, "rank": e.Rank, "total_xp": e.TotalXP}
}

// LevelChangedEvent is published when a sync moves the persisted level.
type LevelChangedEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
}

func NewLevelChangedEvent(profileID string, oldLevel, newLevel int) LevelChangedEvent {
	return LevelChangedEvent{BaseEvent: NewBaseEvent(EventLevelChanged, profileID), OldLevel: oldLevel, NewLevel: newLevel}
}

func (e LevelChangedEvent) Payload() map[string]any {
	return map[string]any{"profile_id": e.ProfileID, "old_level": e.OldLevel, "new_level": e.NewLevel}
}

// LeveledUp is false for a level lost to a deleted record.
func (e LevelChangedEvent) LeveledUp() bool { return e.NewLevel > e.OldLevel }

// RankChangedEvent is published when a sync moves the persisted rank letter.
type RankChangedEvent struct {
	BaseEvent
	OldRank string `json:"old_rank"`
	NewRank string `json:"new_rank"`
}

func NewRankChangedEvent(profileID, oldRank, newRank string) RankChangedEvent {
	return RankChangedEvent{BaseEvent: NewBaseEvent(EventRankChanged, profileID), OldRank: oldRank, NewRank: newRank}
}

func (e RankChangedEvent) Payload() map[string]any {
	return map[string]any{"profile_id": e.ProfileID, "old_rank": e.OldRank, "new_rank": e.NewRank}
}

// EventHandler processes one event. A returned error is logged by the bus.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus is what the binaries wire: the in-memory bus or the Redis fan-out.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher drops every event, for components running without a bus.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) error { return nil }
