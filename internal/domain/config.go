package domain

// KeyPrefix namespaces every storage key owned by the service.
const KeyPrefix = "imgdex:"

// Default retrieval settings for the CLIP ViT-B/32 image/text encoder.
const (
	DefaultModelVersion     = "clip-ViT-B-32"
	DefaultDimensions       = 512
	DefaultOversampleFactor = 3
	DefaultMaxPageSize      = 100
	DefaultPageSize         = 20
	// DefaultMaxOffset keeps offset+page under RediSearch's default MAXSEARCHRESULTS (10000).
	DefaultMaxOffset = 9000
	DefaultTextMinScore     = 0.5
)
