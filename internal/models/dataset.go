package models

import "time"

// DefaultUpdateInterval disables periodic re-scans of a loaded dataset
const DefaultUpdateInterval = -1

// DatasetDefinition is the persisted description of a dataset
type DatasetDefinition struct {
	ID                 string `json:"id" toml:"id"`
	Title              string `json:"title,omitempty" toml:"title,omitempty"`
	Location           string `json:"location" toml:"location"`
	Scanner            string `json:"scanner,omitempty" toml:"scanner,omitempty"`
	Disabled           bool   `json:"disabled" toml:"disabled"`
	Queryable          bool   `json:"queryable" toml:"queryable"`
	UpdateInterval     int    `json:"update_interval" toml:"update_interval"` // minutes; < 0 never
	CopyrightStatement string `json:"copyright,omitempty" toml:"copyright,omitempty"`
	MoreInfo           string `json:"more_info,omitempty" toml:"more_info,omitempty"`
}

// NewDatasetDefinition returns a definition with the default flags set
func NewDatasetDefinition(id, location string) DatasetDefinition {
	return DatasetDefinition{
		ID:             id,
		Title:          id,
		Location:       location,
		Queryable:      true,
		UpdateInterval: DefaultUpdateInterval,
	}
}

// RefreshEvent is published after every attempted refresh
type RefreshEvent struct {
	EventID   string    `json:"event_id"`
	DatasetID string    `json:"dataset_id"`
	State     string    `json:"state"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Layers    int       `json:"layers"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// RefreshTrigger asks a node to force a refresh of a dataset
type RefreshTrigger struct {
	DatasetID string `json:"dataset_id"`
}
