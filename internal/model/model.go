package model

import "time"

// CalendarEvent is one normalized event derived from a single vdir item
// (.ics file). Recurrence rules are kept as an opaque string and never
// expanded here.
type CalendarEvent struct {
	UID         string     `json:"uid"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	AllDay      bool       `json:"allDay,omitempty"`
	Location    string     `json:"location,omitempty"`
	Organizer   string     `json:"organizer,omitempty"`
	Attendees   []string   `json:"attendees,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	Status      string     `json:"status,omitempty"`
	RRule       string     `json:"rrule,omitempty"`

	// Collection is the name of the owning vdir collection.
	Collection string `json:"collection"`
	// FilePath is the absolute path of the source .ics file.
	FilePath string `json:"filePath"`
	// ID is a stable key derived from collection and file name.
	ID string `json:"id,omitempty"`
}

// VdirMetadata holds the optional per-collection metadata files.
// Pointer fields are nil when the file is missing or its content was rejected.
type VdirMetadata struct {
	Color       *string `json:"color,omitempty" yaml:"color,omitempty"`
	DisplayName *string `json:"displayname,omitempty" yaml:"displayname,omitempty"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	Order       *int    `json:"order,omitempty" yaml:"order,omitempty"`
}

// VdirCollectionConfig names one collection directory handed to the sync engine.
type VdirCollectionConfig struct {
	Name        string  `json:"name" yaml:"name"`
	Path        string  `json:"path" yaml:"path"`
	Color       *string `json:"color,omitempty" yaml:"color,omitempty"`
	DisplayName *string `json:"displayname,omitempty" yaml:"displayname,omitempty"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	Order       *int    `json:"order,omitempty" yaml:"order,omitempty"`
	Enabled     bool    `json:"enabled" yaml:"enabled"`
}

// ChangeType is the kind of a filesystem change notification.
type ChangeType int

const (
	ChangeAdd ChangeType = iota + 1
	ChangeModify
	ChangeUnlink
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "change"
	case ChangeUnlink:
		return "unlink"
	default:
		return "unknown"
	}
}

// MarshalText encodes the change type with the add/change/unlink names.
func (c ChangeType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// FileWatcherEvent is emitted for every raw watch notification.
type FileWatcherEvent struct {
	Type       ChangeType `json:"type"`
	FilePath   string     `json:"filePath"`
	Collection string     `json:"collection"`
}
