package update

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Platform is a client platform.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(s); p {
	case PlatformIOS, PlatformAndroid:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", s)
	}
}

// Metadata is the metadata.json document of a bundle.
type Metadata struct {
	Version      int                           `json:"version"`
	Bundler      string                        `json:"bundler"`
	FileMetadata map[Platform]PlatformMetadata `json:"fileMetadata"`
}

// PlatformMetadata lists the launch bundle and assets of one platform.
type PlatformMetadata struct {
	Bundle string          `json:"bundle"`
	Assets []AssetMetadata `json:"assets"`
}

// AssetMetadata references an asset file in the bundle.
type AssetMetadata struct {
	Path string `json:"path"`
	Ext  string `json:"ext"`
}

// Asset is a resolved asset descriptor as sent to clients.
type Asset struct {
	Hash          string `json:"hash"`
	Key           string `json:"key"`
	FileExtension string `json:"fileExtension"`
	ContentType   string `json:"contentType"`
	URL           string `json:"url"`
}

// Manifest describes one update for one platform.
type Manifest struct {
	ID             string            `json:"id"`
	CreatedAt      string            `json:"createdAt"`
	RuntimeVersion string            `json:"runtimeVersion"`
	Assets         []Asset           `json:"assets"`
	LaunchAsset    Asset             `json:"launchAsset"`
	Metadata       map[string]string `json:"metadata"`
	Extra          ManifestExtra     `json:"extra"`
}

// ManifestExtra carries the app config.
type ManifestExtra struct {
	ExpoClient json.RawMessage `json:"expoClient"`
}

// DirectiveType names a directive.
type DirectiveType string

const (
	DirectiveRollBackToEmbedded DirectiveType = "rollBackToEmbedded"
	DirectiveNoUpdateAvailable  DirectiveType = "noUpdateAvailable"
)

// Directive is a control message sent instead of a manifest.
type Directive struct {
	Type       DirectiveType        `json:"type"`
	Parameters *DirectiveParameters `json:"parameters,omitempty"`
}

// DirectiveParameters holds the parameters of a rollback directive.
type DirectiveParameters struct {
	CommitTime string `json:"commitTime"`
}

// timestampLayout is ISO 8601 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
