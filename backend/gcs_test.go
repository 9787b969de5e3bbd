package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGCSObjectName(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		want   string
	}{
		{"", "updates/1.0.0/1.zip", "updates/1.0.0/1.zip"},
		{"", "/updates/1.0.0/", "updates/1.0.0"},
		{"releases", "updates/1.0.0/1.zip", "releases/updates/1.0.0/1.zip"},
		{"releases", "", "releases"},
		{"releases", "/", "releases"},
	}
	for _, tt := range tests {
		g := &GCS{prefix: tt.prefix}
		require.Equal(t, tt.want, g.objectName(tt.key))
	}
}

func TestGCSDirPrefix(t *testing.T) {
	g := &GCS{}
	require.Equal(t, "updates/1.0.0/", g.dirPrefix("updates/1.0.0"))
	require.Equal(t, "", g.dirPrefix(""))

	g = &GCS{prefix: "releases"}
	require.Equal(t, "releases/updates/", g.dirPrefix("updates/"))
	require.Equal(t, "releases/", g.dirPrefix(""))
	require.Equal(t, "releases/", g.dirPrefix("/"))
}
