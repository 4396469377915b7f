package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/soltixdb/gridcat/internal/models"
)

// EnsureDirectories ensures all required directories exist
func (c *Config) EnsureDirectories() error {
	return os.MkdirAll(c.Catalog.DataDir, 0755)
}

// GetDataPath resolves a state file path; relative names are placed under catalog.data_dir
func (c *Config) GetDataPath(filename string) string {
	if filename == "" || filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(c.Catalog.DataDir, filename)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Definitions converts the configured datasets to definitions, applying
// the default flags for omitted fields
func (c *Config) Definitions() []models.DatasetDefinition {
	defs := make([]models.DatasetDefinition, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		def := models.NewDatasetDefinition(d.ID, d.Location)
		if d.Title != "" {
			def.Title = d.Title
		}
		def.Scanner = d.Scanner
		def.Disabled = d.Disabled
		if d.Queryable != nil {
			def.Queryable = *d.Queryable
		}
		if d.UpdateInterval != nil {
			def.UpdateInterval = *d.UpdateInterval
		}
		def.CopyrightStatement = d.Copyright
		def.MoreInfo = d.MoreInfo
		defs = append(defs, def)
	}
	return defs
}
