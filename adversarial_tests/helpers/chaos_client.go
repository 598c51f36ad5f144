package helpers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// ChaosMode defines the type of chaos to inject
type ChaosMode int

const (
	// ChaosNone forwards requests untouched
	ChaosNone ChaosMode = iota

	// ChaosConnectionReset fails the round trip before any response
	ChaosConnectionReset

	// ChaosDNSFailure fails the round trip with a lookup error
	ChaosDNSFailure

	// ChaosPartialRead forwards the request but cuts the body short
	ChaosPartialRead

	// ChaosEmptyBody answers 200 with no body at all
	ChaosEmptyBody

	// ChaosMalformedResponse answers 200 with bytes that are not JSON
	ChaosMalformedResponse

	// ChaosGatewayError answers 502 with an HTML page, as a proxy would
	ChaosGatewayError

	// ChaosUndecodableClientError answers 400 with a body that is not an error payload
	ChaosUndecodableClientError

	// ChaosIntermittent randomly applies one of the modes above
	ChaosIntermittent
)

var intermittentModes = []ChaosMode{
	ChaosConnectionReset,
	ChaosDNSFailure,
	ChaosPartialRead,
	ChaosEmptyBody,
	ChaosMalformedResponse,
	ChaosGatewayError,
	ChaosUndecodableClientError,
}

// ChaosConfig configures the chaos transport behavior
type ChaosConfig struct {
	// Mode determines which type of chaos to inject
	Mode ChaosMode

	// FailureRate determines probability of failure (0.0 to 1.0)
	// Only used for ChaosIntermittent mode
	FailureRate float64

	// PartialReadBytes specifies how many bytes to deliver before failing
	// Only used for ChaosPartialRead mode
	PartialReadBytes int

	// Seed makes intermittent failures reproducible
	Seed int64
}

// ChaosTransport wraps an http.RoundTripper and injects failure modes
type ChaosTransport struct {
	next http.RoundTripper

	mu     sync.Mutex
	config ChaosConfig
	rnd    *rand.Rand

	requests atomic.Uint64
	injected atomic.Uint64
}

// NewChaosTransport creates a new chaos transport around next. A nil next
// uses http.DefaultTransport.
func NewChaosTransport(next http.RoundTripper, config *ChaosConfig) *ChaosTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if config == nil {
		config = &ChaosConfig{Mode: ChaosNone}
	}
	return &ChaosTransport{
		next:   next,
		config: *config,
		rnd:    rand.New(rand.NewSource(config.Seed)),
	}
}

// SetMode switches the failure mode for subsequent requests
func (c *ChaosTransport) SetMode(mode ChaosMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Mode = mode
}

// Requests returns how many round trips were attempted
func (c *ChaosTransport) Requests() uint64 {
	return c.requests.Load()
}

// Injected returns how many round trips were sabotaged
func (c *ChaosTransport) Injected() uint64 {
	return c.injected.Load()
}

func (c *ChaosTransport) pickMode() ChaosMode {
	c.mu.Lock()
	defer c.mu.Unlock()

	mode := c.config.Mode
	if mode != ChaosIntermittent {
		return mode
	}
	if c.rnd.Float64() >= c.config.FailureRate {
		return ChaosNone
	}
	return intermittentModes[c.rnd.Intn(len(intermittentModes))]
}

// RoundTrip implements http.RoundTripper interface
func (c *ChaosTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.requests.Add(1)

	mode := c.pickMode()
	if mode == ChaosNone {
		return c.next.RoundTrip(req)
	}
	c.injected.Add(1)

	switch mode {
	case ChaosConnectionReset:
		closeBody(req)
		return nil, errors.New("connection reset by peer")

	case ChaosDNSFailure:
		closeBody(req)
		return nil, &DNSError{Err: "no such host", Host: req.URL.Hostname()}

	case ChaosPartialRead:
		resp, err := c.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		partialSize := c.config.PartialReadBytes
		if partialSize <= 0 || partialSize >= len(bodyBytes) {
			partialSize = len(bodyBytes) / 2
		}
		resp.Body = &partialReadCloser{
			reader:    bytes.NewReader(bodyBytes[:partialSize]),
			failAfter: partialSize,
		}
		resp.ContentLength = -1
		return resp, nil

	case ChaosEmptyBody:
		closeBody(req)
		return NewMockResponseBuilder().WithStatus(http.StatusOK).Build(req), nil

	case ChaosMalformedResponse:
		closeBody(req)
		return NewMockResponseBuilder().
			WithStatus(http.StatusOK).
			WithHeader("Content-Type", "application/json").
			WithBody("This is not valid JSON\x00\x01\x02").
			Build(req), nil

	case ChaosGatewayError:
		closeBody(req)
		return NewMockResponseBuilder().
			WithStatus(http.StatusBadGateway).
			WithHeader("Content-Type", "text/html").
			WithBody("<html><body><h1>502 Bad Gateway</h1></body></html>").
			Build(req), nil

	case ChaosUndecodableClientError:
		closeBody(req)
		return NewMockResponseBuilder().
			WithStatus(http.StatusBadRequest).
			WithHeader("Content-Type", "application/json").
			WithBody(`{"result":"error"}`).
			Build(req), nil

	default:
		return c.next.RoundTrip(req)
	}
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

// partialReadCloser is an io.ReadCloser that fails after reading a certain amount
type partialReadCloser struct {
	reader    io.Reader
	failAfter int
	totalRead int
}

func (p *partialReadCloser) Read(buf []byte) (int, error) {
	if p.totalRead >= p.failAfter {
		return 0, errors.New("connection reset during read")
	}

	n, err := p.reader.Read(buf)
	p.totalRead += n

	if p.totalRead >= p.failAfter {
		return n, errors.New("connection reset during read")
	}

	return n, err
}

func (p *partialReadCloser) Close() error {
	return nil
}

// DNSError simulates DNS lookup failures
type DNSError struct {
	Err  string
	Host string
}

func (e *DNSError) Error() string {
	return fmt.Sprintf("lookup %s: %s", e.Host, e.Err)
}

func (e *DNSError) Temporary() bool {
	return true
}

func (e *DNSError) Timeout() bool {
	return false
}

// MockResponseBuilder helps build custom mock responses
type MockResponseBuilder struct {
	status  int
	body    string
	headers map[string]string
}

// NewMockResponseBuilder creates a new mock response builder
func NewMockResponseBuilder() *MockResponseBuilder {
	return &MockResponseBuilder{
		status:  http.StatusOK,
		headers: make(map[string]string),
	}
}

// WithStatus sets the HTTP status code
func (b *MockResponseBuilder) WithStatus(code int) *MockResponseBuilder {
	b.status = code
	return b
}

// WithBody sets the response body
func (b *MockResponseBuilder) WithBody(body string) *MockResponseBuilder {
	b.body = body
	return b
}

// WithHeader adds a header to the response
func (b *MockResponseBuilder) WithHeader(key, value string) *MockResponseBuilder {
	b.headers[key] = value
	return b
}

// Build creates the HTTP response
func (b *MockResponseBuilder) Build(req *http.Request) *http.Response {
	header := make(http.Header)
	for k, v := range b.headers {
		header.Set(k, v)
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", b.status, http.StatusText(b.status)),
		StatusCode:    b.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(b.body)),
		ContentLength: int64(len(b.body)),
		Request:       req,
		Header:        header,
	}
}
