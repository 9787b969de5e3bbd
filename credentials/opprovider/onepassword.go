// Package opprovider resolves credential template references with the
// 1Password CLI.
package opprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wolfeidau/update-server/credentials"
)

// DefaultBinary is the 1Password CLI looked up on PATH.
const DefaultBinary = "op"

// WithOnePassword registers an "op" template function that resolves
// references such as "op://deploy/update-server/private-key" with
// `op read`. binary defaults to DefaultBinary when empty.
func WithOnePassword(binary string) credentials.ResolverOption {
	if binary == "" {
		binary = DefaultBinary
	}
	return credentials.WithProvider("op", func(ctx context.Context, ref string) (string, error) {
		cmd := exec.CommandContext(ctx, binary, "read", "--no-newline", ref)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("op read %q: %s: %w", ref, strings.TrimSpace(stderr.String()), err)
		}

		return strings.TrimSpace(stdout.String()), nil
	})
}
