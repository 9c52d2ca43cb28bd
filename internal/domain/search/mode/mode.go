package mode

// Mode discriminates how a search query is resolved to candidates.
type Mode string

// Search mode constants.
const (
	// Text embeds a natural-language query.
	Text  Mode = "text"
	Image Mode = "image"
	// SimilarToID reuses the stored vector of an indexed image.
	SimilarToID Mode = "similar_to_id"
	// TagOnly bypasses the vector path and matches tag membership alone.
	TagOnly Mode = "tag_only"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Text || m == Image || m == SimilarToID || m == TagOnly
}

// UsesVector reports whether the mode resolves a query vector before hitting the index.
func (m Mode) UsesVector() bool {
	return m == Text || m == Image || m == SimilarToID
}
