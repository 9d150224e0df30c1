package types

const (
	// DefaultPageLimit matches what the mobile client has always received
	// from GET /api/events without paging parameters.
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Page is an offset window over an ordered listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize fills the default limit, caps it at MaxPageLimit and clamps a
// negative offset to zero.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	p.Limit = min(p.Limit, MaxPageLimit)
	p.Offset = max(p.Offset, 0)
	return p
}
