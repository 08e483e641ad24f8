package schema

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Digest returns the content digest of the uncompressed Marshal encoding of n.
// Two schemas with the same digest decode bytes identically.
func Digest(n Node) (digest.Digest, error) {
	data, err := Marshal(n)
	if err != nil {
		return "", fmt.Errorf("digest schema: %w", err)
	}
	return digest.FromBytes(data), nil
}
