package gazodb

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"github.com/corona10/goimagehash"
)

// PerceptualHash computes the DCT-based perceptual hash of an encoded image.
func PerceptualHash(data []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("failed to compute pHash: %w", err)
	}
	return h.GetHash(), nil
}

// HammingDistance is the number of differing bits; 0 means identical hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
