package update

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	updateserver "github.com/wolfeidau/update-server"
	"github.com/wolfeidau/update-server/archive"
	"github.com/wolfeidau/update-server/backend"
)

// Request is a manifest request from an update client.
type Request struct {
	Platform         Platform
	RuntimeVersion   string
	ProtocolVersion  int
	CurrentUpdateID  string
	EmbeddedUpdateID string
}

// Validate checks the request parameters.
func (r Request) Validate() error {
	const op = "validate request"

	if _, err := ParsePlatform(string(r.Platform)); err != nil {
		return NewError(KindValidation, op, errors.New("unsupported platform, expected either ios or android"))
	}
	if err := ValidateRuntimeVersion(r.RuntimeVersion); err != nil {
		return NewError(KindValidation, op, err)
	}
	if r.ProtocolVersion != 0 && r.ProtocolVersion != 1 {
		return NewError(KindValidation, op, errors.New("unsupported protocol version, expected either 0 or 1"))
	}
	return nil
}

// ResultType is the kind of response the engine decided on.
type ResultType int

const (
	ResultManifest ResultType = iota
	ResultRollBack
	ResultNoUpdate
)

func (t ResultType) String() string {
	switch t {
	case ResultManifest:
		return "manifest"
	case ResultRollBack:
		return "rollback"
	case ResultNoUpdate:
		return "no_update"
	default:
		return "unknown"
	}
}

// Result is the outcome of resolving a manifest request.
// Exactly one of Manifest and Directive is set.
type Result struct {
	Type ResultType
	// ProtocolVersion is the protocol version to advertise in the response.
	ProtocolVersion int
	// BundlePath is the resolved bundle, empty when none was published.
	BundlePath string
	Manifest   *Manifest
	Directive  *Directive
}

// Engine resolves manifest and asset requests against published bundles.
type Engine struct {
	locator    *Locator
	cache      *archive.Cache
	assembler  *Assembler
	directives *Directives

	hostname string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHostname sets the public base URL used in asset URLs.
func WithHostname(hostname string) Option {
	return func(e *Engine) {
		e.hostname = hostname
	}
}

// WithNow sets the clock used for createdAt and commitTime.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine reading bundles from b through cache.
func NewEngine(b backend.Backend, cache *archive.Cache, opts ...Option) *Engine {
	e := &Engine{
		cache:  cache,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.locator = NewLocator(b, e.logger)
	e.assembler = NewAssembler(cache, e.hostname, e.now)
	e.directives = NewDirectives(cache, e.now)
	return e
}

// Locator returns the engine's bundle locator.
func (e *Engine) Locator() *Locator {
	return e.locator
}

// Resolve decides between a manifest, a rollback directive and a
// no-update directive for req.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	loc, err := e.locator.Latest(ctx, req.RuntimeVersion)
	if err != nil {
		return nil, err
	}
	if loc.Status == NoUpdate {
		return e.noUpdate(req, "")
	}

	arc, err := e.cache.Get(ctx, loc.BundlePath)
	if err != nil {
		return nil, NewError(KindInternal, "classify", err)
	}
	if arc.Has(archive.RollbackEntry) {
		return e.rollBack(ctx, req, loc.BundlePath)
	}
	return e.normalUpdate(ctx, req, loc.BundlePath, arc)
}

func (e *Engine) normalUpdate(ctx context.Context, req Request, bundlePath string, arc *archive.Archive) (*Result, error) {
	_, raw, err := ReadMetadata(arc)
	if err != nil {
		return nil, err
	}

	// Protocol version 0 clients have no no-update directive and always get the manifest.
	if req.ProtocolVersion == 1 && req.CurrentUpdateID == updateserver.UpdateIDFor(raw) {
		return e.noUpdate(req, bundlePath)
	}

	m, err := e.assembler.Manifest(ctx, bundlePath, req.RuntimeVersion, req.Platform)
	if err != nil {
		return nil, err
	}
	return &Result{
		Type:            ResultManifest,
		ProtocolVersion: req.ProtocolVersion,
		BundlePath:      bundlePath,
		Manifest:        m,
	}, nil
}

func (e *Engine) rollBack(ctx context.Context, req Request, bundlePath string) (*Result, error) {
	const op = "rollback"

	if req.ProtocolVersion == 0 {
		return nil, errorf(KindProtocol, op, "rollbacks not supported on protocol version 0")
	}
	if _, err := uuid.Parse(req.EmbeddedUpdateID); err != nil {
		return nil, errorf(KindProtocol, op, "invalid expo-embedded-update-id request header specified")
	}
	if req.CurrentUpdateID == req.EmbeddedUpdateID {
		return e.noUpdate(req, bundlePath)
	}

	d, err := e.directives.RollBack(ctx, bundlePath)
	if err != nil {
		return nil, err
	}
	return &Result{
		Type:            ResultRollBack,
		ProtocolVersion: 1,
		BundlePath:      bundlePath,
		Directive:       d,
	}, nil
}

func (e *Engine) noUpdate(req Request, bundlePath string) (*Result, error) {
	if req.ProtocolVersion == 0 {
		return nil, errorf(KindNoUpdate, "no update",
			"no update available for runtime version %s: noUpdateAvailable directive not available in protocol version 0",
			req.RuntimeVersion)
	}
	return &Result{
		Type:            ResultNoUpdate,
		ProtocolVersion: 1,
		BundlePath:      bundlePath,
		Directive:       NoUpdateAvailable(),
	}, nil
}

// AssetRequest asks for one file of the newest bundle.
type AssetRequest struct {
	// Path is the asset path as listed in the metadata document. A leading
	// bundle path is accepted and stripped.
	Path           string
	RuntimeVersion string
	Platform       Platform
}

// AssetContent is an asset ready to be served.
type AssetContent struct {
	Data        []byte
	ContentType string
	BundlePath  string
	// ETag is a strong validator derived from the asset content.
	ETag string
}

// Asset extracts a file listed in the metadata of the newest bundle.
func (e *Engine) Asset(ctx context.Context, req AssetRequest) (*AssetContent, error) {
	const op = "asset"

	if req.Path == "" {
		return nil, NewError(KindValidation, op, errors.New("no asset path provided"))
	}
	if _, err := ParsePlatform(string(req.Platform)); err != nil {
		return nil, NewError(KindValidation, op, errors.New(`no platform provided, expected "ios" or "android"`))
	}
	if err := ValidateRuntimeVersion(req.RuntimeVersion); err != nil {
		return nil, NewError(KindValidation, op, err)
	}

	loc, err := e.locator.Latest(ctx, req.RuntimeVersion)
	if err != nil {
		return nil, err
	}
	if loc.Status == NoUpdate {
		return nil, errorf(KindResolution, op, "no update available for runtime version %s", req.RuntimeVersion)
	}

	arc, err := e.cache.Get(ctx, loc.BundlePath)
	if err != nil {
		return nil, NewError(KindInternal, op, err)
	}
	md, _, err := ReadMetadata(arc)
	if err != nil {
		return nil, err
	}
	pm, err := md.Platform(req.Platform)
	if err != nil {
		return nil, err
	}

	name := strings.TrimPrefix(req.Path, loc.BundlePath+"/")

	var contentType string
	if name == pm.Bundle {
		_, contentType = assetType("", true)
	} else {
		idx := -1
		for i, am := range pm.Assets {
			if am.Path == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, errorf(KindResolution, op, "asset %s not listed in metadata", name)
		}
		contentType = ContentType(pm.Assets[idx].Ext)
	}

	data, err := arc.Entry(name)
	if err != nil {
		if errors.Is(err, archive.ErrEntryNotFound) {
			return nil, errorf(KindResolution, op, "asset %s not found in bundle", name)
		}
		return nil, NewError(KindInternal, op, err)
	}

	return &AssetContent{
		Data:        data,
		ContentType: contentType,
		BundlePath:  loc.BundlePath,
		ETag:        `"` + updateserver.HashBytes(data).String() + `"`,
	}, nil
}
