package adapter

import "strconv"

// OffsetPager implements the offset/limit pagination shared by most
// REST+JSON government-data APIs (EIA, FRED): each step bumps an
// offset query parameter by the number of rows the previous page
// returned, and the walk stops on an empty or short page or a page cap.
type OffsetPager struct {
	seed        FetchStep
	limit       int
	maxPages    int
	offsetParam string
	limitParam  string

	offset int
	pages  int
	done   bool
}

// NewOffsetPager seeds a pager from a template step. limitParam/offsetParam
// name the query parameters the upstream API expects; maxPages <= 0 means
// unbounded (termination relies solely on short-page detection).
func NewOffsetPager(seed FetchStep, limit, maxPages int, offsetParam, limitParam string) *OffsetPager {
	return &OffsetPager{
		seed:        seed,
		limit:       limit,
		maxPages:    maxPages,
		offsetParam: offsetParam,
		limitParam:  limitParam,
	}
}

func (p *OffsetPager) Step() (FetchStep, bool) {
	if p.done {
		return FetchStep{}, false
	}
	if p.maxPages > 0 && p.pages >= p.maxPages {
		return FetchStep{}, false
	}
	step := p.seed.Clone()
	if step.Query == nil {
		step.Query = map[string]string{}
	}
	step.Query[p.offsetParam] = strconv.Itoa(p.offset)
	step.Query[p.limitParam] = strconv.Itoa(p.limit)
	return step, true
}

func (p *OffsetPager) Observe(_ []byte, rowCount int) {
	p.pages++
	p.offset += rowCount
	if rowCount == 0 || rowCount < p.limit {
		p.done = true
	}
}

// SinglePager is the trivial Pager for non-paginated sources: it yields
// exactly one step and is done.
type SinglePager struct {
	step   FetchStep
	served bool
}

func NewSinglePager(step FetchStep) *SinglePager {
	return &SinglePager{step: step}
}

func (p *SinglePager) Step() (FetchStep, bool) {
	if p.served {
		return FetchStep{}, false
	}
	p.served = true
	return p.step, true
}

func (p *SinglePager) Observe([]byte, int) {}
