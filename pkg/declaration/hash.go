package declaration

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// computeRenderHash derives a stable content hash over the declaration
// source and its resolved parameters. Two runs against the same file
// and parameters always produce the same hash, so it doubles as a
// convergence marker in the apply report.
func computeRenderHash(src []byte, params Parameters) string {
	h := xxhash.New()
	_, _ = h.Write(src)

	// Parameters are a fixed-field struct, so JSON encoding is canonical.
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	_, _ = h.Write(data)

	return fmt.Sprintf("%x", h.Sum64())
}
