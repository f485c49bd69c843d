// Package mask redacts identifiers before they reach log output.
package mask

const filler = "****"

// ID keeps the first and last two characters of an identifier and replaces
// the rest with a fixed mask. Values too short to keep anything are fully
// masked.
func ID(s string) string {
	if len(s) <= 4 {
		return filler
	}
	return s[:2] + filler + s[len(s)-2:]
}
