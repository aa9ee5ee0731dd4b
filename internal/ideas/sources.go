package ideas

import "time"

// Source is a supporting reference attached to an idea.
type Source struct {
	URL  string
	Name string
	Date time.Time
}

// FilterFresh keeps sources no older than maxAgeDays relative to asOf.
func FilterFresh(sources []Source, maxAgeDays int, asOf time.Time) []Source {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	fresh := make([]Source, 0, len(sources))
	for _, src := range sources {
		if asOf.Sub(src.Date) <= time.Duration(maxAgeDays)*24*time.Hour {
			fresh = append(fresh, src)
		}
	}
	return fresh
}
