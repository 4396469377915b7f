package models

// CreateDatasetRequest adds a dataset to the catalog
type CreateDatasetRequest struct {
	ID                 string `json:"id"`
	Title              string `json:"title,omitempty"`
	Location           string `json:"location"`
	Scanner            string `json:"scanner,omitempty"`
	Disabled           bool   `json:"disabled,omitempty"`
	Queryable          *bool  `json:"queryable,omitempty"`
	UpdateInterval     *int   `json:"update_interval,omitempty"`
	CopyrightStatement string `json:"copyright,omitempty"`
	MoreInfo           string `json:"more_info,omitempty"`
}

// Definition converts the request, applying defaults for omitted fields
func (r CreateDatasetRequest) Definition() DatasetDefinition {
	def := NewDatasetDefinition(r.ID, r.Location)
	if r.Title != "" {
		def.Title = r.Title
	}
	def.Scanner = r.Scanner
	def.Disabled = r.Disabled
	if r.Queryable != nil {
		def.Queryable = *r.Queryable
	}
	if r.UpdateInterval != nil {
		def.UpdateInterval = *r.UpdateInterval
	}
	def.CopyrightStatement = r.CopyrightStatement
	def.MoreInfo = r.MoreInfo
	return def
}

// RenameDatasetRequest changes a dataset id
type RenameDatasetRequest struct {
	ID string `json:"id"`
}

// SetDisabledRequest enables or disables a dataset
type SetDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// SetLocationRequest changes a dataset location
type SetLocationRequest struct {
	Location string `json:"location"`
}

// SetIntervalRequest changes a dataset update interval (minutes)
type SetIntervalRequest struct {
	UpdateInterval int `json:"update_interval"`
}

// SetTitleRequest changes a dataset title
type SetTitleRequest struct {
	Title string `json:"title"`
}
