package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/manifest", nil)
	return InjectTags(r)
}

func TestInjectTags_DefaultsResponseTypeToNA(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)
	require.NotNil(t, tags)
	require.Equal(t, ResponseNA, tags.ResponseType)
	require.Empty(t, tags.Platform)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	require.Nil(t, GetTags(r))
	require.Nil(t, TagsFromContext(r.Context()))
}

func TestSetClient(t *testing.T) {
	r := newTaggedRequest()
	SetClient(r, "ios", "1.0.0")
	require.Equal(t, "ios", GetTags(r).Platform)
	require.Equal(t, "1.0.0", GetTags(r).RuntimeVersion)
}

func TestSetters_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	// none of these should panic
	SetClient(r, "ios", "1.0.0")
	SetEndpoint(r, "manifest")
	SetResponseType(r, ResponseManifest)
	SetErrorKind(r, "internal")
}

func TestSetResponseType(t *testing.T) {
	r := newTaggedRequest()
	SetResponseType(r, ResponseRollBack)
	require.Equal(t, ResponseRollBack, GetTags(r).ResponseType)
}

func TestSetErrorKind(t *testing.T) {
	r := newTaggedRequest()
	SetResponseType(r, ResponseManifest)
	SetErrorKind(r, "resolution")

	tags := GetTags(r)
	require.Equal(t, ResponseError, tags.ResponseType)
	require.Equal(t, "resolution", tags.ErrorKind)
}

func TestSetEndpoint(t *testing.T) {
	r := newTaggedRequest()
	SetEndpoint(r, "assets")
	require.Equal(t, "assets", GetTags(r).Endpoint)
}
