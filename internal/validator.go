package internal

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// User agent constraints
	maxUserAgentLength = 256

	// Endpoint constraints
	maxEndpointLength = 128
)

// Validator checks caller-supplied values before any request is built.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// NormalizeBaseURL validates a site address and returns the canonical API root.
// Any path, query, or fragment on the input is replaced; scheme, host, and port
// are preserved.
func (v *Validator) NormalizeBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("site address cannot be empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid site address %q: %w", raw, err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("site address %q is not absolute", raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("site address %q must use http or https", raw)
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return nil, fmt.Errorf("site address %q has no host", raw)
	}

	root := parsed.ResolveReference(&url.URL{Path: BaseAPIPath})
	root.RawQuery = ""
	root.Fragment = ""
	root.RawFragment = ""
	root.User = nil
	return root, nil
}

// ValidateEndpoint ensures an endpoint is a relative path that cannot escape the API root.
func (v *Validator) ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if len(endpoint) > maxEndpointLength {
		return fmt.Errorf("endpoint too long (max %d characters)", maxEndpointLength)
	}
	if strings.HasPrefix(endpoint, "/") || strings.Contains(endpoint, "://") {
		return fmt.Errorf("endpoint %q must be relative to the API root", endpoint)
	}
	for _, segment := range strings.Split(endpoint, "/") {
		if segment == ".." {
			return fmt.Errorf("endpoint %q must not traverse above the API root", endpoint)
		}
	}
	return nil
}

// ValidateUserAgent validates the User-Agent string to prevent header injection attacks.
func (v *Validator) ValidateUserAgent(ua string) error {
	// User-Agent cannot be empty (should have been set to default before this check)
	if len(ua) == 0 {
		return fmt.Errorf("user agent cannot be empty")
	}

	// Check for newline characters that could be used for header injection
	if strings.ContainsAny(ua, "\r\n") {
		return fmt.Errorf("user agent cannot contain newline characters")
	}

	if len(ua) > maxUserAgentLength {
		return fmt.Errorf("user agent too long (max %d characters)", maxUserAgentLength)
	}

	return nil
}
