package storage

import (
	"errors"
	"time"

	"slotwatch/internal/provider"
)

var ErrDisabled = errors.New("storage disabled")

// SchemaVersion is stamped into every persisted record so later format
// changes can migrate on read.
const SchemaVersion = 1

// Config configures subscriber persistence.
//
// Driver values:
//   - "file": single JSON document, atomically replaced on write
//   - "sqlite": SQLite database file
//   - "mongo": MongoDB collection
type Config struct {
	Driver      string
	Path        string
	URI         string
	Database    string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SubscriberRecord is the persisted state of one chat. Field names follow
// the on-disk JSON document format, which older deployments already carry.
type SubscriberRecord struct {
	Version int   `json:"version" bson:"version"`
	ChatID  int64 `json:"chat_id" bson:"_id"`

	// IDNo is the enlistment credential used for fetches.
	IDNo string `json:"id_no" bson:"id_no"`

	// Courses tracked whole (any section).
	Courses []string `json:"courses" bson:"courses"`

	// Sections maps a course code to the class numbers tracked within it.
	Sections map[string][]int `json:"sections" bson:"sections"`

	// PreviousData holds the last successful snapshot per tracking key.
	// Keys are "COURSE" for whole-course items and "COURSE:sections" for
	// section-level items.
	PreviousData map[string][]provider.Section `json:"previous_data" bson:"previous_data"`
}

// Clone returns a deep copy so callers can mutate without racing readers.
func (r SubscriberRecord) Clone() SubscriberRecord {
	out := r
	out.Courses = append([]string(nil), r.Courses...)
	if r.Sections != nil {
		out.Sections = make(map[string][]int, len(r.Sections))
		for k, v := range r.Sections {
			out.Sections[k] = append([]int(nil), v...)
		}
	}
	if r.PreviousData != nil {
		out.PreviousData = make(map[string][]provider.Section, len(r.PreviousData))
		for k, v := range r.PreviousData {
			out.PreviousData[k] = append([]provider.Section(nil), v...)
		}
	}
	return out
}
