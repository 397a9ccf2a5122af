package imagerate

import (
	"image"

	"github.com/corona10/goimagehash"
)

// SimilarThreshold is the maximum Hamming distance between two dHash values
// below which thumbnails are considered perceptually alike.
const SimilarThreshold = 10

// fingerprint returns the dHash of img in goimagehash string form ("d:...").
// Returns "" if hashing fails; fingerprints are informational only.
func fingerprint(img image.Image) string {
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return ""
	}
	return hash.ToString()
}

// FingerprintDistance returns the Hamming distance between two fingerprints,
// or ok=false when either is missing or malformed.
func FingerprintDistance(a, b string) (dist int, ok bool) {
	if a == "" || b == "" {
		return 0, false
	}
	ha, err := goimagehash.ImageHashFromString(a)
	if err != nil {
		return 0, false
	}
	hb, err := goimagehash.ImageHashFromString(b)
	if err != nil {
		return 0, false
	}
	dist, err = ha.Distance(hb)
	if err != nil {
		return 0, false
	}
	return dist, true
}
