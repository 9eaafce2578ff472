package resource

// Page is the canonical paginated result.
type Page struct {
	Data       []Entity `json:"data"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	Total      int      `json:"total"`
	TotalPages int      `json:"totalPages"`
}

// TotalPagesFor returns ceil(total/limit), or 0 when limit is not positive.
func TotalPagesFor(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Clone returns a deep copy.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}
	out := *p
	if p.Data != nil {
		out.Data = make([]Entity, len(p.Data))
		for i, e := range p.Data {
			out.Data[i] = e.Clone()
		}
	}
	return &out
}

// Recount keeps the page consistent: data is trimmed to limit,
// total is never negative and totalPages is recomputed from total.
func (p *Page) Recount() {
	if p.Total < 0 {
		p.Total = 0
	}
	if p.Limit > 0 && len(p.Data) > p.Limit {
		p.Data = p.Data[:p.Limit]
	}
	p.TotalPages = TotalPagesFor(p.Total, p.Limit)
}

// IndexOf returns the position of the row with the given id, or -1.
func (p *Page) IndexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range p.Data {
		if e.ID() == id {
			return i
		}
	}
	return -1
}

// Prepend inserts e at the head of the page and bumps total.
func (p *Page) Prepend(e Entity) {
	p.Data = append([]Entity{e}, p.Data...)
	p.Total++
	p.Recount()
}

// Remove drops every row with the given id and decrements total once per
// removed row. It reports whether anything was removed.
func (p *Page) Remove(id string) bool {
	if id == "" {
		return false
	}
	kept := p.Data[:0]
	removed := 0
	for _, e := range p.Data {
		if e.ID() == id {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return false
	}
	p.Data = kept
	p.Total -= removed
	p.Recount()
	return true
}

// Replace swaps every row with the given id for a copy of e. It reports
// whether any row matched.
func (p *Page) Replace(id string, e Entity) bool {
	found := false
	for i, row := range p.Data {
		if row.ID() == id {
			p.Data[i] = e.Clone()
			found = true
		}
	}
	return found
}

// Each calls fn for every row with the given id.
func (p *Page) Each(id string, fn func(Entity)) bool {
	found := false
	for _, row := range p.Data {
		if row.ID() == id {
			fn(row)
			found = true
		}
	}
	return found
}
