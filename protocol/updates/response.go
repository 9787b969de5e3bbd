package updates

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/wolfeidau/update-server/signing"
	"github.com/wolfeidau/update-server/update"
)

// part is one body part of a multipart update response.
type part struct {
	name      string
	body      []byte
	signature string
}

// extensions is the body of the extensions part.
type extensions struct {
	AssetRequestHeaders map[string]map[string]string `json:"assetRequestHeaders"`
}

// manifestExtensions lists empty request headers for every asset of m, keyed by asset key.
func manifestExtensions(m *update.Manifest) extensions {
	headers := make(map[string]map[string]string, len(m.Assets)+1)
	for _, a := range m.Assets {
		headers[a.Key] = map[string]string{}
	}
	headers[m.LaunchAsset.Key] = map[string]string{}
	return extensions{AssetRequestHeaders: headers}
}

// encodePart serializes v as JSON and signs it when signer is non-nil.
func encodePart(name string, v any, signer *signing.Signer) (part, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return part{}, fmt.Errorf("encoding %s: %w", name, err)
	}

	p := part{name: name, body: body}
	if signer != nil {
		sig, err := signer.SignatureHeader(body)
		if err != nil {
			return part{}, err
		}
		p.signature = sig
	}
	return p, nil
}

// encodeMultipart renders parts as a multipart/mixed body and returns it
// with its boundary.
func encodeMultipart(parts ...part) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, p.name))
		h.Set("Content-Type", "application/json; charset=utf-8")
		if p.signature != "" {
			h.Set(headerSignature, p.signature)
		}

		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating %s part: %w", p.name, err)
		}
		if _, err := pw.Write(p.body); err != nil {
			return nil, "", fmt.Errorf("writing %s part: %w", p.name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), mw.Boundary(), nil
}

// writeMultipart writes a complete update response.
func writeMultipart(w http.ResponseWriter, protocolVersion int, parts ...part) error {
	body, boundary, err := encodeMultipart(parts...)
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set(headerProtocolVersion, strconv.Itoa(protocolVersion))
	h.Set(headerSFVVersion, "0")
	h.Set("Cache-Control", "private, max-age=0")
	h.Set("Content-Type", "multipart/mixed; boundary="+boundary)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	_, err = w.Write(body)
	return err
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}
