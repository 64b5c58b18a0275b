package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chartflow-ai/chartflow/config"
)

// keyNamespace prefixes every cache key so this cache can coexist with
// other logical caches sharing a store.
const keyNamespace = "chart:analysis:v1:"

const (
	defaultImagePrefixBytes  = 1000
	defaultPromptPrefixChars = 200
)

// KeyBuilder derives a deterministic cache key from a request.
//
// Only a bounded prefix of the image content and prompt is hashed, together
// with the image metadata, so key construction stays cheap for large uploads.
// Two distinct images sharing metadata and their first ImagePrefixBytes bytes
// therefore collide; this is a deliberate fingerprint, not a content hash.
type KeyBuilder struct {
	ImagePrefixBytes  int
	PromptPrefixChars int
}

// NewKeyBuilder builds a KeyBuilder from config, falling back to defaults
// for non-positive bounds.
func NewKeyBuilder(cfg config.KeyConfig) KeyBuilder {
	b := KeyBuilder{
		ImagePrefixBytes:  cfg.ImagePrefixBytes,
		PromptPrefixChars: cfg.PromptPrefixChars,
	}
	if b.ImagePrefixBytes <= 0 {
		b.ImagePrefixBytes = defaultImagePrefixBytes
	}
	if b.PromptPrefixChars <= 0 {
		b.PromptPrefixChars = defaultPromptPrefixChars
	}
	return b
}

// Build returns the namespaced key for a request. Identical
// (metadata, image prefix, prompt prefix) tuples always map to the same key.
func (b KeyBuilder) Build(req *Request) string {
	h := sha256.New()

	// NUL separators keep adjacent fields from aliasing each other.
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%d\x00",
		req.Meta.Name, req.Meta.Size, req.Meta.MimeType, req.Meta.LastModified)

	img := req.Image
	if len(img) > b.ImagePrefixBytes {
		img = img[:b.ImagePrefixBytes]
	}
	h.Write(img)
	h.Write([]byte{0})

	prompt := []rune(req.Prompt)
	if len(prompt) > b.PromptPrefixChars {
		prompt = prompt[:b.PromptPrefixChars]
	}
	h.Write([]byte(string(prompt)))

	sum := h.Sum(nil)
	return keyNamespace + hex.EncodeToString(sum[:16])
}
