package models

import "time"

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Datasets  int    `json:"datasets"`
	Ready     int    `json:"ready"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// DatasetResponse describes a dataset to read-only consumers
type DatasetResponse struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Ready     bool     `json:"ready"`
	Loading   bool     `json:"loading"`
	Queryable bool     `json:"queryable"`
	Copyright string   `json:"copyright,omitempty"`
	MoreInfo  string   `json:"more_info,omitempty"`
	Layers    []string `json:"layers"`
}

// DatasetStatusResponse describes a dataset to administrators
type DatasetStatusResponse struct {
	DatasetResponse
	Location          string     `json:"location"`
	Scanner           string     `json:"scanner,omitempty"`
	State             string     `json:"state"`
	Disabled          bool       `json:"disabled"`
	UpdateInterval    int        `json:"update_interval"`
	Error             string     `json:"error,omitempty"`
	ErrorKind         string     `json:"error_kind,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastSuccess       *time.Time `json:"last_success,omitempty"`
	LastFailure       *time.Time `json:"last_failure,omitempty"`
	NextAttempt       *time.Time `json:"next_attempt,omitempty"`
}

// DatasetStatusListResponse lists datasets for administrators
type DatasetStatusListResponse struct {
	Datasets   []DatasetStatusResponse `json:"datasets"`
	LastUpdate *time.Time              `json:"last_update,omitempty"`
}

// DatasetListResponse lists datasets
type DatasetListResponse struct {
	Datasets []DatasetResponse `json:"datasets"`
}

// LayerResponse describes one layer
type LayerResponse struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Units     string     `json:"units,omitempty"`
	Timesteps int        `json:"timesteps"`
	First     *time.Time `json:"first,omitempty"`
	Last      *time.Time `json:"last,omitempty"`
}

// LayerListResponse lists the layers of a dataset
type LayerListResponse struct {
	DatasetID string          `json:"dataset_id"`
	Layers    []LayerResponse `json:"layers"`
}

// TimesResponse lists the instants of a layer
type TimesResponse struct {
	DatasetID string      `json:"dataset_id"`
	LayerID   string      `json:"layer_id"`
	Times     []time.Time `json:"times"`
}

// LocateResponse resolves an instant to a file and index
type LocateResponse struct {
	DatasetID string `json:"dataset_id"`
	LayerID   string `json:"layer_id"`
	Time      string `json:"time,omitempty"`
	File      string `json:"file"`
	Index     int    `json:"index"`
}

// ProgressResponse is the loading progress trail of a dataset
type ProgressResponse struct {
	DatasetID string   `json:"dataset_id"`
	State     string   `json:"state"`
	Progress  []string `json:"progress"`
}
