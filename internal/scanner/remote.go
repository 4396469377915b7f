package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

const remoteBlockSize = 64 << 10

var errReadOnly = errors.New("remote file is read-only")

// httpFile is a read-only io.ReaderAt over an HTTP resource that supports
// byte-range requests. Blocks are fetched on demand and kept for the life of
// the scan.
type httpFile struct {
	ctx    context.Context
	client *http.Client
	url    string
	user   string
	pass   string
	size   int64

	mu     sync.Mutex
	blocks map[int64][]byte
}

func openHTTPFile(ctx context.Context, client *http.Client, location string) (*httpFile, error) {
	u, userinfo, err := TransportURL(location)
	if err != nil {
		return nil, fmt.Errorf("invalid remote location: %w", err)
	}

	f := &httpFile{
		ctx:    ctx,
		client: client,
		url:    u.String(),
		blocks: make(map[int64][]byte),
	}
	if userinfo != nil {
		f.user = userinfo.Username()
		f.pass, _ = userinfo.Password()
	}

	req, err := f.newRequest(http.MethodHead)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach remote file: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote file returned %s", resp.Status)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("remote file has unknown length: %w", ErrUnsupportedFormat)
	}
	f.size = resp.ContentLength
	return f, nil
}

func (f *httpFile) newRequest(method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(f.ctx, method, f.url, nil)
	if err != nil {
		return nil, err
	}
	if f.user != "" {
		req.SetBasicAuth(f.user, f.pass)
	}
	return req, nil
}

// ReadAt implements io.ReaderAt
func (f *httpFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && off+int64(n) < f.size {
		pos := off + int64(n)
		blk, err := f.block(pos / remoteBlockSize)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], blk[pos%remoteBlockSize:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt always fails
func (f *httpFile) WriteAt([]byte, int64) (int, error) {
	return 0, errReadOnly
}

func (f *httpFile) block(i int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if blk, ok := f.blocks[i]; ok {
		return blk, nil
	}

	start := i * remoteBlockSize
	end := min(start+remoteBlockSize, f.size) - 1

	req, err := f.newRequest(http.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote range: %w", err)
	}
	defer resp.Body.Close()

	var body io.Reader
	switch resp.StatusCode {
	case http.StatusPartialContent:
		body = resp.Body
	case http.StatusOK:
		// server ignored the range header
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return nil, fmt.Errorf("failed to read remote file: %w", err)
		}
		body = resp.Body
	default:
		return nil, fmt.Errorf("remote range request returned %s", resp.Status)
	}

	blk := make([]byte, end-start+1)
	if _, err := io.ReadFull(body, blk); err != nil {
		return nil, fmt.Errorf("failed to read remote range: %w", err)
	}
	f.blocks[i] = blk
	return blk, nil
}
