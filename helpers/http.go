package helpers

import (
	"bufio"
	"bytes"
	"net/http"
	"sync"
)

// MockHTTP is http.RoundTripper answering with canned response.
// Zero value replies 200 with empty body.
type MockHTTP struct {
	Fun    func(*http.Request) (*http.Response, error)
	Header []byte
	Body   []byte
	Err    error

	mu   sync.Mutex
	reqs []string
}

func (m *MockHTTP) Client() *http.Client { return &http.Client{Transport: m} }

// Requests returns "METHOD path" of every request seen.
func (m *MockHTTP) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reqs...)
}

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	WithLock(&m.mu, func() { m.reqs = append(m.reqs, req.Method+" "+req.URL.Path) })
	if m.Fun != nil {
		return m.Fun(req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	header := m.Header
	if header == nil {
		header = []byte("HTTP/1.0 200 OK\r\nContent-Type: application/json\r\n\r\n")
	}
	rb := make([]byte, 0, len(header)+len(m.Body))
	rb = append(rb, header...)
	rb = append(rb, m.Body...)
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(rb)), req)
}
