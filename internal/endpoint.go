package internal

import "net/http"

// BaseAPIPath is the canonical API root every endpoint is resolved against.
const BaseAPIPath = "/api/v1/"

// Endpoints, relative to BaseAPIPath.
const (
	EndpointFetchAPIKey    = "fetch_api_key"
	EndpointFetchDevAPIKey = "dev_fetch_api_key"
	EndpointRegisterQueue  = "register"
	EndpointEvents         = "events"
)

// usesQueryString reports whether parameters for method travel in the URL.
// Every other verb sends them as a form-encoded body.
func usesQueryString(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
