package update

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	updateserver "github.com/wolfeidau/update-server"
	"github.com/wolfeidau/update-server/archive"
)

// ReadMetadata loads and parses the metadata document of an archive.
// It returns the parsed document and its raw bytes.
func ReadMetadata(a *archive.Archive) (*Metadata, []byte, error) {
	const op = "read metadata"

	raw, err := a.Entry(archive.MetadataEntry)
	if err != nil {
		if errors.Is(err, archive.ErrEntryNotFound) {
			return nil, nil, NewError(KindResolution, op, err)
		}
		return nil, nil, NewError(KindInternal, op, err)
	}

	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, nil, NewError(KindInternal, op, err)
	}
	return &md, raw, nil
}

// Platform returns the file metadata for p.
func (m *Metadata) Platform(p Platform) (PlatformMetadata, error) {
	pm, ok := m.FileMetadata[p]
	if !ok {
		return PlatformMetadata{}, errorf(KindResolution, "read metadata", "no metadata for platform %s", p)
	}
	return pm, nil
}

// Assembler builds manifests from cached archives.
type Assembler struct {
	cache    *archive.Cache
	hostname string
	now      func() time.Time
}

// NewAssembler creates an assembler. hostname prefixes asset URLs.
func NewAssembler(cache *archive.Cache, hostname string, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{
		cache:    cache,
		hostname: strings.TrimSuffix(hostname, "/"),
		now:      now,
	}
}

// Manifest builds the manifest of the bundle at bundlePath for platform.
// Identical archive content yields an identical manifest apart from createdAt.
func (a *Assembler) Manifest(ctx context.Context, bundlePath, runtimeVersion string, platform Platform) (*Manifest, error) {
	const op = "assemble manifest"

	arc, err := a.cache.Get(ctx, bundlePath)
	if err != nil {
		return nil, NewError(KindInternal, op, err)
	}

	md, raw, err := ReadMetadata(arc)
	if err != nil {
		return nil, err
	}
	pm, err := md.Platform(platform)
	if err != nil {
		return nil, err
	}

	config, err := arc.Entry(archive.ConfigEntry)
	if err != nil {
		if errors.Is(err, archive.ErrEntryNotFound) {
			return nil, errorf(KindResolution, op, "no config found for runtime version %s", runtimeVersion)
		}
		return nil, NewError(KindInternal, op, err)
	}
	if !json.Valid(config) {
		return nil, errorf(KindInternal, op, "invalid %s", archive.ConfigEntry)
	}

	assets := make([]Asset, 0, len(pm.Assets))
	for _, am := range pm.Assets {
		asset, err := a.resolveAsset(arc, am, runtimeVersion, platform, false)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	launch, err := a.resolveAsset(arc, AssetMetadata{Path: pm.Bundle}, runtimeVersion, platform, true)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		ID:             updateserver.UpdateIDFor(raw),
		CreatedAt:      FormatTime(a.now()),
		RuntimeVersion: runtimeVersion,
		Assets:         assets,
		LaunchAsset:    launch,
		Metadata:       map[string]string{},
		Extra:          ManifestExtra{ExpoClient: json.RawMessage(config)},
	}, nil
}

func (a *Assembler) resolveAsset(arc *archive.Archive, am AssetMetadata, runtimeVersion string, platform Platform, isLaunchAsset bool) (Asset, error) {
	data, err := arc.Entry(am.Path)
	if err != nil {
		if errors.Is(err, archive.ErrEntryNotFound) {
			return Asset{}, errorf(KindResolution, "resolve asset", "asset %s not found in bundle", am.Path)
		}
		return Asset{}, NewError(KindInternal, "resolve asset", err)
	}

	ext, contentType := assetType(am.Ext, isLaunchAsset)

	return Asset{
		Hash:          updateserver.AssetHash(data),
		Key:           updateserver.AssetKey(data),
		FileExtension: ext,
		ContentType:   contentType,
		URL:           a.assetURL(am.Path, runtimeVersion, platform),
	}, nil
}

// assetURL builds the download URL served by the asset endpoint.
func (a *Assembler) assetURL(assetPath, runtimeVersion string, platform Platform) string {
	return a.hostname + "/api/assets?asset=" + url.QueryEscape(assetPath) +
		"&runtimeVersion=" + url.QueryEscape(runtimeVersion) +
		"&platform=" + url.QueryEscape(string(platform))
}

// assetType returns the file extension and content type of an asset.
// The launch asset is always a JavaScript bundle.
func assetType(ext string, isLaunchAsset bool) (string, string) {
	if isLaunchAsset {
		return launchAssetExtension, launchAssetContentType
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return "", defaultContentType
	}
	return "." + ext, ContentType(ext)
}
