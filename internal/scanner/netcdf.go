package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
)

// NetCDFScanner reads netCDF classic / 64-bit offset files, local or served
// over HTTP(S) with byte-range support, and OPeNDAP (DAP2) endpoints. Variables are reported in header
// order; a variable is time-varying when one of its dimensions is a CF time
// coordinate ("<unit> since <reference>").
type NetCDFScanner struct {
	client *http.Client
}

// NewNetCDFScanner creates a scanner. client is used for remote locations;
// nil means http.DefaultClient.
func NewNetCDFScanner(client *http.Client) *NetCDFScanner {
	if client == nil {
		client = http.DefaultClient
	}
	return &NetCDFScanner{client: client}
}

// Scan implements MetadataScanner
func (s *NetCDFScanner) Scan(ctx context.Context, location string) ([]VariableTimeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if IsRemote(location) {
		infos, err := s.scanRemote(ctx, location)
		if err != nil {
			return nil, scanErr(location, err)
		}
		return infos, nil
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, scanErr(location, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, scanErr(location, err)
	}

	infos, err := readNetCDF(ctx, f, info.Size())
	if err != nil {
		return nil, scanErr(location, err)
	}
	return infos, nil
}

// scanRemote reads an OPeNDAP endpoint, or a netCDF file served over plain
// HTTP when the server does not speak DAP. dods:// locations are always DAP.
func (s *NetCDFScanner) scanRemote(ctx context.Context, location string) ([]VariableTimeInfo, error) {
	u, userinfo, err := TransportURL(location)
	if err != nil {
		return nil, fmt.Errorf("invalid remote location: %w", err)
	}

	dap := newDAPClient(s.client, u, userinfo)
	infos, err := dap.scan(ctx)
	if err == nil || !errors.Is(err, errNotDAP) || strings.HasPrefix(strings.ToLower(location), "dods://") {
		return infos, err
	}

	f, err := openHTTPFile(ctx, s.client, location)
	if err != nil {
		return nil, err
	}
	return readNetCDF(ctx, f, f.size)
}

// variableDecl is the part of a variable's declaration the scanner needs,
// whichever format it came from
type variableDecl struct {
	name  string
	dims  []string
	attrs map[string]string
}

var declAttrs = []string{"units", "calendar", "long_name", "standard_name", "bounds", "climatology"}

func readNetCDF(ctx context.Context, rw cdf.ReaderWriterAt, size int64) ([]VariableTimeInfo, error) {
	nc, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	h := nc.Header

	isDim := make(map[string]bool)
	for _, d := range h.Dimensions("") {
		isDim[d] = true
	}

	var decls []variableDecl
	for _, v := range h.Variables() {
		decl := variableDecl{name: v, dims: h.Dimensions(v), attrs: make(map[string]string)}
		for _, a := range declAttrs {
			if val := attrString(h, v, a); val != "" {
				decl.attrs[a] = val
			}
		}
		decls = append(decls, decl)
	}

	return describe(ctx, decls, isDim, func(v string) ([]float64, error) {
		return readValues(nc, v, size)
	})
}

// describe turns variable declarations into scan results. values reads the
// raw coordinate values of a time axis.
func describe(ctx context.Context, decls []variableDecl, isDim map[string]bool, values func(string) ([]float64, error)) ([]VariableTimeInfo, error) {
	// bounds / climatology variables are auxiliary, not layers
	auxiliary := make(map[string]bool)
	for _, v := range decls {
		for _, a := range []string{"bounds", "climatology"} {
			if name := v.attrs[a]; name != "" {
				auxiliary[name] = true
			}
		}
	}

	axes := make(map[string][]time.Time)
	for _, v := range decls {
		if len(v.dims) != 1 || v.dims[0] != v.name || !strings.Contains(v.attrs["units"], " since ") {
			continue
		}
		axis, err := parseTimeUnits(v.attrs["units"], v.attrs["calendar"])
		if err != nil {
			return nil, fmt.Errorf("time axis %s: %w", v.name, err)
		}
		raw, err := values(v.name)
		if err != nil {
			return nil, fmt.Errorf("time axis %s: %w", v.name, err)
		}
		times := make([]time.Time, len(raw))
		for i, val := range raw {
			times[i] = axis.at(val)
		}
		axes[v.name] = times
	}

	var out []VariableTimeInfo
	for _, v := range decls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(v.dims) == 0 || isDim[v.name] || auxiliary[v.name] {
			continue
		}

		info := VariableTimeInfo{
			VariableID: v.name,
			Title:      v.title(),
			Units:      v.attrs["units"],
		}
		for _, d := range v.dims {
			times, ok := axes[d]
			if !ok {
				continue
			}
			info.Steps = make([]Timestep, len(times))
			for i, t := range times {
				info.Steps[i] = Timestep{Time: t, Index: i}
			}
			break
		}
		out = append(out, info)
	}
	return out, nil
}

func (v variableDecl) title() string {
	for _, a := range []string{"long_name", "standard_name"} {
		if s := v.attrs[a]; s != "" {
			return s
		}
	}
	return v.name
}

func readValues(nc *cdf.File, v string, size int64) ([]float64, error) {
	h := nc.Header
	n := h.Lengths(v)[0]
	if h.IsRecordVariable(v) {
		n = int(h.NumRecs(size))
	}
	if n <= 0 {
		return nil, nil
	}

	r := nc.Reader(v, []int{0}, []int{n - 1})
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading values: %w", err)
	}
	return toFloat64(buf)
}

func toFloat64(buf interface{}) ([]float64, error) {
	switch vals := buf.(type) {
	case []float64:
		return vals, nil
	case []float32:
		out := make([]float64, len(vals))
		for i, x := range vals {
			out[i] = float64(x)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(vals))
		for i, x := range vals {
			out[i] = float64(x)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(vals))
		for i, x := range vals {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("time values of type %T: %w", buf, ErrUnsupportedFormat)
	}
}

func attrString(h *cdf.Header, v, a string) string {
	switch val := h.GetAttribute(v, a).(type) {
	case string:
		return strings.TrimRight(val, "\x00")
	case []uint8:
		return strings.TrimRight(string(val), "\x00")
	default:
		return ""
	}
}
