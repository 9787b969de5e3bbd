package updateserver

import (
	"fmt"
)

// updateIDHexLen is the number of hex characters of a digest used for an update ID.
const updateIDHexLen = 32

// UpdateID reformats the first 32 characters of a hex digest into the
// 8-4-4-4-12 grouping of a UUID. The characters and their order are unchanged.
func UpdateID(hexDigest string) (string, error) {
	if len(hexDigest) < updateIDHexLen {
		return "", fmt.Errorf("digest too short for update id: need %d hex chars, got %d", updateIDHexLen, len(hexDigest))
	}
	v := hexDigest[:updateIDHexLen]
	return v[0:8] + "-" + v[8:12] + "-" + v[12:16] + "-" + v[16:20] + "-" + v[20:32], nil
}

// UpdateIDFor returns the update ID of a metadata document: its SHA-256 hex
// digest in UUID form.
func UpdateIDFor(metadata []byte) string {
	digest, _ := Digest(metadata, AlgSHA256, EncodingHex)
	id, _ := UpdateID(digest) // 64 hex chars, never short
	return id
}
