package scanner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// errNotDAP means the server answered but is not an OPeNDAP server
var errNotDAP = errors.New("not an OPeNDAP endpoint")

const maxDAPResponse = 32 << 20

var (
	ddsDecl = regexp.MustCompile(`^\s*(?:Byte|Int8|UInt8|Int16|UInt16|Int32|UInt32|Int64|UInt64|Float32|Float64|String|Url)\s+([^\s\[;]+)\s*((?:\[[^\]]*\]\s*)*);`)
	ddsDim  = regexp.MustCompile(`\[\s*(?:([^\s=\]]+)\s*=\s*)?(\d+)\s*\]`)
	dasAttr = regexp.MustCompile(`^\s*\w+\s+([^\s]+)\s+(.*?);\s*$`)
	dasStr  = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// dapClient reads the structure, attributes and coordinate values of an
// OPeNDAP (DAP2) dataset through its .dds, .das and .ascii responses
type dapClient struct {
	client *http.Client
	base   string
	user   *url.Userinfo
}

func newDAPClient(client *http.Client, u *url.URL, user *url.Userinfo) *dapClient {
	base := *u
	base.RawQuery = ""
	base.Fragment = ""
	return &dapClient{client: client, base: base.String(), user: user}
}

func (d *dapClient) fetch(ctx context.Context, suffix, constraint string) ([]byte, error) {
	target := d.base + suffix
	if constraint != "" {
		target += "?" + url.QueryEscape(constraint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if d.user != nil {
		pass, _ := d.user.Password()
		req.SetBasicAuth(d.user.Username(), pass)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach OPeNDAP server: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusMethodNotAllowed, resp.StatusCode == http.StatusUnsupportedMediaType:
		return nil, fmt.Errorf("%s returned %s: %w", suffix, resp.Status, errNotDAP)
	default:
		return nil, fmt.Errorf("OPeNDAP %s request returned %s", suffix, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDAPResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read OPeNDAP %s response: %w", suffix, err)
	}
	return body, nil
}

// scan returns errNotDAP when the server does not answer .dds requests
func (d *dapClient) scan(ctx context.Context) ([]VariableTimeInfo, error) {
	dds, err := d.fetch(ctx, ".dds", "")
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(bytes.TrimSpace(dds), []byte("Dataset")) {
		return nil, fmt.Errorf("unexpected .dds response: %w", errNotDAP)
	}
	decls, sizes := parseDDS(dds)
	if len(decls) == 0 {
		return nil, fmt.Errorf("empty OPeNDAP dataset: %w", ErrUnsupportedFormat)
	}

	das, err := d.fetch(ctx, ".das", "")
	if err != nil {
		return nil, err
	}
	attrs := parseDAS(das)

	isDim := make(map[string]bool)
	for i := range decls {
		decls[i].attrs = attrs[decls[i].name]
		if decls[i].attrs == nil {
			decls[i].attrs = make(map[string]string)
		}
		for _, dim := range decls[i].dims {
			isDim[dim] = true
		}
	}

	return describe(ctx, decls, isDim, func(v string) ([]float64, error) {
		body, err := d.fetch(ctx, ".ascii", v)
		if err != nil {
			return nil, err
		}
		values, err := parseDAPASCII(body, v)
		if err != nil {
			return nil, err
		}
		if n, ok := sizes[v]; ok && n != len(values) {
			return nil, fmt.Errorf("expected %d values, got %d: %w", n, len(values), ErrUnsupportedFormat)
		}
		return values, nil
	})
}

// parseDDS returns the variables of a DDS in declaration order together with
// the length of every named dimension. Grid maps repeat coordinate variables
// and are only kept when they were not declared at the top level.
func parseDDS(dds []byte) ([]variableDecl, map[string]int) {
	var decls []variableDecl
	seen := make(map[string]bool)
	sizes := make(map[string]int)

	sc := bufio.NewScanner(bytes.NewReader(dds))
	for sc.Scan() {
		m := ddsDecl.FindStringSubmatch(sc.Text())
		if m == nil || len(m[2]) == 0 {
			continue
		}
		name := m[1]
		var dims []string
		for _, dm := range ddsDim.FindAllStringSubmatch(m[2], -1) {
			n, _ := strconv.Atoi(dm[2])
			if dm[1] != "" {
				sizes[dm[1]] = n
			}
			dims = append(dims, dm[1])
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		decls = append(decls, variableDecl{name: name, dims: dims})
	}
	return decls, sizes
}

// parseDAS returns the attributes of every container in a DAS. Only the
// first value of an attribute is kept.
func parseDAS(das []byte) map[string]map[string]string {
	out := make(map[string]map[string]string)
	var stack []string

	sc := bufio.NewScanner(bytes.NewReader(das))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasSuffix(line, "{"):
			stack = append(stack, strings.TrimSpace(strings.TrimSuffix(line, "{")))
		case line == "}":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case len(stack) > 0:
			m := dasAttr.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			value := m[2]
			if q := dasStr.FindString(value); q != "" {
				if s, err := strconv.Unquote(q); err == nil {
					value = s
				} else {
					value = strings.Trim(q, `"`)
				}
			} else if first, _, ok := strings.Cut(value, ","); ok {
				value = strings.TrimSpace(first)
			}
			container := stack[len(stack)-1]
			if out[container] == nil {
				out[container] = make(map[string]string)
			}
			out[container][m[1]] = value
		}
	}
	return out
}

// parseDAPASCII reads the values of a one-dimensional variable from an
// .ascii response. Both the "name[n]" header line style and the
// "name, v1, v2" single line style are accepted.
func parseDAPASCII(body []byte, name string) ([]float64, error) {
	data := body
	if i := bytes.Index(body, []byte("\n---")); i >= 0 {
		data = body[i+1:]
		if j := bytes.IndexByte(data, '\n'); j >= 0 {
			data = data[j+1:]
		} else {
			data = nil
		}
	}

	var values []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64<<10), maxDAPResponse)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "Dataset") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, name); ok {
			line = rest
			for strings.HasPrefix(line, "[") {
				end := strings.IndexByte(line, ']')
				if end < 0 {
					break
				}
				line = line[end+1:]
			}
		}
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("value %q of %s: %w", field, name, ErrUnsupportedFormat)
			}
			values = append(values, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s values: %w", name, err)
	}
	return values, nil
}
