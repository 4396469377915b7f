package scanner

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/soltixdb/gridcat/internal/logging"
)

// Scanner names registered by NewDefaultRegistry
const (
	Default   = "default"
	NetCDF    = "netcdf"
	NcML      = "ncml"
	SnowWater = "nsidc-swe"
)

// Registry maps scanner names to shared scanner instances.
// It is built once at startup and handed to whoever creates datasets.
type Registry struct {
	mu       sync.RWMutex
	scanners map[string]MetadataScanner
	cache    *Cache
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{scanners: make(map[string]MetadataScanner)}
}

// Register adds a scanner under name
func (r *Registry) Register(name string, s MetadataScanner) error {
	if name == "" || s == nil {
		return fmt.Errorf("scanner registration requires a name and an instance")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scanners[name]; exists {
		return fmt.Errorf("scanner %q already registered", name)
	}
	r.scanners[name] = s
	return nil
}

// Get returns the scanner registered under name; "" selects Default
func (r *Registry) Get(name string) (MetadataScanner, error) {
	if name == "" {
		name = Default
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scanners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScanner, name)
	}
	return s, nil
}

// Names returns the registered names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configure the default registry
type Options struct {
	HTTPClient *http.Client
	Retry      RetryPolicy
	UseCache   bool
	Logger     *logging.Logger
}

// NewDefaultRegistry registers the built-in scanners:
//
//	netcdf     netCDF classic files, local or over HTTP(S)/OPeNDAP
//	ncml       joinExisting NcML aggregations of netCDF members
//	nsidc-swe  NSIDC snow water equivalent grids
//	default    ncml for .ncml/.xml locations, netcdf otherwise
//
// With opts.UseCache the netcdf scanner is wrapped in a Cache, available
// through Cache().
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()

	var netcdf MetadataScanner = NewNetCDFScanner(opts.HTTPClient)
	if opts.UseCache {
		r.cache = NewCache(netcdf)
		netcdf = r.cache
	}
	netcdf = NewRetrying(netcdf, opts.Retry, opts.Logger)
	ncml := NewNcMLScanner(netcdf)

	_ = r.Register(NetCDF, netcdf)
	_ = r.Register(NcML, ncml)
	_ = r.Register(SnowWater, SnowWaterScanner{})
	_ = r.Register(Default, Func(func(ctx context.Context, location string) ([]VariableTimeInfo, error) {
		if IsAggregation(location) && !IsRemote(location) {
			return ncml.Scan(ctx, location)
		}
		return netcdf.Scan(ctx, location)
	}))
	return r
}

// Cache returns the scan cache of a default registry, or nil
func (r *Registry) Cache() *Cache {
	return r.cache
}
