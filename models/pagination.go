package models

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasMore bool `json:"hasMore"`
}

// More reports whether a page after the current one exists.
func (p *Pagination) More() bool {
	if p == nil {
		return false
	}
	return p.HasMore || (p.Pages > 0 && p.Page < p.Pages)
}
