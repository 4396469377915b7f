package scanner

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var remotePrefixes = []string{"http://", "https://", "dods://"}

// IsRemote reports whether location is an OPeNDAP / HTTP endpoint
func IsRemote(location string) bool {
	lower := strings.ToLower(location)
	for _, p := range remotePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// IsAggregation reports whether location is an NcML aggregation document
func IsAggregation(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasSuffix(lower, ".ncml") || strings.HasSuffix(lower, ".xml")
}

// Validate checks a dataset location without touching the filesystem
func Validate(location string) error {
	if strings.TrimSpace(location) == "" {
		return fmt.Errorf("empty location: %w", ErrNotAbsolute)
	}
	if IsRemote(location) {
		if _, err := url.Parse(location); err != nil {
			return fmt.Errorf("invalid remote location: %w", err)
		}
		return nil
	}
	if !filepath.IsAbs(location) {
		return fmt.Errorf("%s: %w", location, ErrNotAbsolute)
	}
	if _, err := filepath.Match(location, ""); err != nil {
		return fmt.Errorf("invalid glob %s: %w", location, err)
	}
	return nil
}

// Resolve turns a dataset location into the concrete locations to scan.
// Remote endpoints and aggregation documents are returned as-is; anything
// else is treated as a glob expression.
func Resolve(location string) ([]string, error) {
	if IsRemote(location) {
		return []string{location}, nil
	}
	if IsAggregation(location) {
		if !filepath.IsAbs(location) {
			return nil, fmt.Errorf("%s: %w", location, ErrNotAbsolute)
		}
		return []string{location}, nil
	}
	return ExpandGlob(location)
}

// ExpandGlob expands an absolute glob expression into the regular files it
// matches, sorted lexically so refresh results are reproducible.
func ExpandGlob(pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		return nil, fmt.Errorf("%s: %w", pattern, ErrNotAbsolute)
	}

	matches, err := filepath.Glob(filepath.Clean(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid glob %s: %w", pattern, err)
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, m)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", pattern, ErrNoMatchingFiles)
	}

	sort.Strings(files)
	return files, nil
}

// WatchDirs returns the directories that hold the files a local location can
// match. Remote locations have none.
func WatchDirs(location string) []string {
	if IsRemote(location) || !filepath.IsAbs(location) {
		return nil
	}
	dir := filepath.Dir(filepath.Clean(location))
	if !hasMeta(dir) {
		return []string{dir}
	}
	matches, err := filepath.Glob(dir)
	if err != nil {
		return nil
	}
	dirs := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	sort.Strings(dirs)
	return dirs
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, `*?[\`)
}

// TransportURL converts a remote location into an URL usable by net/http and
// extracts any embedded credentials.
func TransportURL(location string) (*url.URL, *url.Userinfo, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(u.Scheme, "dods") {
		u.Scheme = "http"
	}
	user := u.User
	u.User = nil
	return u, user, nil
}

// Redact strips credentials from a remote location for display
func Redact(location string) string {
	if !IsRemote(location) {
		return location
	}
	u, err := url.Parse(location)
	if err != nil || u.User == nil {
		return location
	}
	u.User = nil
	return u.String()
}

// FirstFile returns the location readers use when a layer has no time axis:
// the remote/aggregation location itself or the first match of a glob.
func FirstFile(location string) (string, error) {
	files, err := Resolve(location)
	if err != nil {
		return "", err
	}
	return files[0], nil
}
