package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // ETag emulation only
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// mockPageSize keeps ListObjectsV2 pages small so callers exercise pagination.
const mockPageSize = 2

// NewMockForTests returns a *Store backed by an in-memory fake HTTP transport.
// Only the operations used by core.Store are implemented.
func NewMockForTests() *Store {
	s, err := newStore(context.Background(), Config{
		Region:          "us-east-1",
		Bucket:          "mock-bucket",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	}, &http.Client{Transport: newMockTransport()})
	if err != nil {
		panic(fmt.Sprintf("mock s3 store: %v", err))
	}
	return s
}

type mockObj struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

type mockTransport struct {
	mu    sync.Mutex
	state map[string]mockObj
}

func newMockTransport() *mockTransport { return &mockTransport{state: make(map[string]mockObj)} }

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req), nil
	}
	switch req.Method {
	case http.MethodHead:
		st, ok := m.state[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, objectHeaders(st), nil), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		md := map[string]string{}
		for h, v := range req.Header {
			lower := strings.ToLower(h)
			if strings.HasPrefix(lower, "x-amz-meta-") && len(v) > 0 {
				md[strings.TrimPrefix(lower, "x-amz-meta-")] = v[0]
			}
		}
		st := mockObj{body: body, contentType: req.Header.Get("Content-Type"), metadata: md, modified: time.Now().UTC()}
		m.state[key] = st
		return respond(http.StatusOK, http.Header{"Etag": {etag(body)}}, nil), nil
	case http.MethodGet:
		st, ok := m.state[key]
		if !ok {
			body := []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return respond(http.StatusNotFound, http.Header{"Content-Type": {"application/xml"}}, body), nil
		}
		return respond(http.StatusOK, objectHeaders(st), st.body), nil
	case http.MethodDelete:
		delete(m.state, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

// list pages by key order; the continuation token is the last key of the previous page.
func (m *mockTransport) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix := q.Get("prefix")
	after := q.Get("continuation-token")
	var keys []string
	for k := range m.state {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	truncated := len(keys) > mockPageSize
	if truncated {
		keys = keys[:mockPageSize]
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	b.WriteString("<IsTruncated>" + strconv.FormatBool(truncated) + "</IsTruncated>")
	if truncated {
		b.WriteString("<NextContinuationToken>")
		_ = xml.EscapeText(&b, []byte(keys[len(keys)-1]))
		b.WriteString("</NextContinuationToken>")
	}
	for _, k := range keys {
		st := m.state[k]
		b.WriteString("<Contents><Key>")
		_ = xml.EscapeText(&b, []byte(k))
		b.WriteString("</Key><Size>" + strconv.Itoa(len(st.body)) + "</Size>")
		b.WriteString("<ETag>" + etag(st.body) + "</ETag>")
		b.WriteString("<LastModified>" + st.modified.Format(time.RFC3339) + "</LastModified></Contents>")
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func objectHeaders(st mockObj) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(st.body))},
		"Etag":           {etag(st.body)},
		"Last-Modified":  {st.modified.Format(http.TimeFormat)},
	}
	if st.contentType != "" {
		h.Set("Content-Type", st.contentType)
	}
	for k, v := range st.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func respond(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

func etag(body []byte) string {
	sum := md5.Sum(body) //nolint:gosec
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// decodeChunked decodes a single-chunk aws-chunked payload: <hex>\r\n<body>\r\n0\r\n[trailers]
func decodeChunked(b []byte) ([]byte, bool) {
	head, rest, ok := bytes.Cut(b, []byte("\r\n"))
	if !ok {
		return nil, false
	}
	if i := bytes.IndexByte(head, ';'); i >= 0 {
		head = head[:i]
	}
	size, err := strconv.ParseInt(string(head), 16, 64)
	if err != nil || int64(len(rest)) < size+2 {
		return nil, false
	}
	if !bytes.HasPrefix(rest[size:], []byte("\r\n0")) {
		return nil, false
	}
	return rest[:size], true
}
