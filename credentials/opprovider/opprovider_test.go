package opprovider

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/update-server/credentials"
)

// fakeOp writes a stand-in for the 1Password CLI that echoes the last
// argument, or fails for references containing "missing".
func fakeOp(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "op")
	script := `#!/bin/sh
for ref; do :; done
case "$ref" in
  *missing*) echo "item not found" >&2; exit 1 ;;
esac
printf 'secret-for-%s\n' "$ref"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestWithOnePassword(t *testing.T) {
	r := credentials.NewResolver(WithOnePassword(fakeOp(t)))

	input := `{"admin_token": {{ op "op://deploy/token" | json }}}`
	creds, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, "secret-for-op://deploy/token", creds.AdminToken)
}

func TestWithOnePassword_Failure(t *testing.T) {
	r := credentials.NewResolver(WithOnePassword(fakeOp(t)))

	input := `{"admin_token": {{ op "op://deploy/missing" | json }}}`
	_, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.Error(t, err)
	require.Contains(t, err.Error(), "item not found")
}

func TestWithOnePassword_DefaultBinary(t *testing.T) {
	t.Setenv("PATH", filepath.Dir(fakeOp(t)))
	r := credentials.NewResolver(WithOnePassword(""))

	input := `{"key_id": {{ op "op://deploy/key-id" | json }}}`
	creds, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, "secret-for-op://deploy/key-id", creds.KeyID)
}
