// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

// requestTagsKey is the context key for request tags holder.
const requestTagsKey contextKey = "request_tags"

// ResponseType classifies what the update endpoints sent back.
type ResponseType string

const (
	ResponseManifest ResponseType = "manifest"
	ResponseRollBack ResponseType = "rollback"
	ResponseNoUpdate ResponseType = "no_update"
	ResponseAsset    ResponseType = "asset"
	ResponseError    ResponseType = "error"
	ResponseNA       ResponseType = "na"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Platform       string
	RuntimeVersion string
	Endpoint       string
	ResponseType   ResponseType
	// ErrorKind is the internal classification of a failed request, kept
	// separate from the status code the client sees.
	ErrorKind string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{ResponseType: ResponseNA}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	return TagsFromContext(r.Context())
}

// TagsFromContext retrieves the request tags from a context.
func TagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetEndpoint sets the endpoint type for logging.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetClient records the platform and runtime version a client asked for.
func SetClient(r *http.Request, platform, runtimeVersion string) {
	if tags := GetTags(r); tags != nil {
		tags.Platform = platform
		tags.RuntimeVersion = runtimeVersion
	}
}

// SetResponseType sets the response classification for logging and metrics.
func SetResponseType(r *http.Request, rt ResponseType) {
	if tags := GetTags(r); tags != nil {
		tags.ResponseType = rt
	}
}

// SetErrorKind records the internal error classification of a failed request.
func SetErrorKind(r *http.Request, kind string) {
	if tags := GetTags(r); tags != nil {
		tags.ResponseType = ResponseError
		tags.ErrorKind = kind
	}
}
