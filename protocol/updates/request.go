package updates

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/wolfeidau/update-server/update"
)

// Protocol headers.
const (
	headerPlatform         = "expo-platform"
	headerRuntimeVersion   = "expo-runtime-version"
	headerProtocolVersion  = "expo-protocol-version"
	headerCurrentUpdateID  = "expo-current-update-id"
	headerEmbeddedUpdateID = "expo-embedded-update-id"
	headerExpectSignature  = "expo-expect-signature"
	headerSignature        = "expo-signature"
	headerSFVVersion       = "expo-sfv-version"
)

// manifestRequest is a parsed manifest request.
type manifestRequest struct {
	update.Request
	ExpectSignature bool
}

// parseManifestRequest reads the protocol headers, falling back to query
// parameters for platform and runtime version.
func parseManifestRequest(r *http.Request) (manifestRequest, error) {
	const op = "parse request"

	protocolVersion := 0
	switch values := r.Header.Values(headerProtocolVersion); len(values) {
	case 0:
	case 1:
		v, err := strconv.Atoi(strings.TrimSpace(values[0]))
		if err != nil || (v != 0 && v != 1) {
			return manifestRequest{}, update.NewError(update.KindValidation, op,
				errors.New("unsupported protocol version, expected either 0 or 1"))
		}
		protocolVersion = v
	default:
		return manifestRequest{}, update.NewError(update.KindValidation, op,
			errors.New("unsupported protocol version, expected either 0 or 1"))
	}

	platform := headerOrQuery(r, headerPlatform, "platform")
	if _, err := update.ParsePlatform(platform); err != nil {
		return manifestRequest{}, update.NewError(update.KindValidation, op,
			errors.New("unsupported platform, expected either ios or android"))
	}

	runtimeVersion := headerOrQuery(r, headerRuntimeVersion, "runtime-version")
	if err := update.ValidateRuntimeVersion(runtimeVersion); err != nil {
		return manifestRequest{}, update.NewError(update.KindValidation, op, err)
	}

	return manifestRequest{
		Request: update.Request{
			Platform:         update.Platform(platform),
			RuntimeVersion:   runtimeVersion,
			ProtocolVersion:  protocolVersion,
			CurrentUpdateID:  r.Header.Get(headerCurrentUpdateID),
			EmbeddedUpdateID: r.Header.Get(headerEmbeddedUpdateID),
		},
		ExpectSignature: r.Header.Get(headerExpectSignature) != "",
	}, nil
}

func headerOrQuery(r *http.Request, header, param string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(param)
}

// parseAssetRequest reads the asset endpoint query parameters.
func parseAssetRequest(r *http.Request) update.AssetRequest {
	q := r.URL.Query()
	return update.AssetRequest{
		Path:           q.Get("asset"),
		RuntimeVersion: q.Get("runtimeVersion"),
		Platform:       update.Platform(q.Get("platform")),
	}
}
