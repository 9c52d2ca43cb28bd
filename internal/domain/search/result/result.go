package result

// Hit is a single ranked image.
type Hit struct {
	ImageID string
	Score   float64
	Tags    []string
}

// Page is one page of ranked hits.
//
// TotalEstimate counts candidates that survived filtering. Estimated is true
// when the index was not fully drained, in which case the count is a lower bound.
type Page struct {
	Hits          []Hit
	TotalEstimate int
	Estimated     bool
	HasNext       bool
	Page          int
	PageSize      int
}

// Len returns the number of hits on the page.
func (p *Page) Len() int { return len(p.Hits) }

// IDs returns the image ids in page order.
func (p *Page) IDs() []string {
	ids := make([]string, len(p.Hits))
	for i, h := range p.Hits {
		ids[i] = h.ImageID
	}
	return ids
}
