package ndb

// ListResult is one page of query results. Total counts every match, not
// just the page.
type ListResult[T any] struct {
	Items  []T
	Total  int
	Offset int
	Limit  int
}

func (r *ListResult[T]) IsEmpty() bool {
	return r.Total <= 0
}

func (r *ListResult[T]) HasItems() bool {
	return r.Total > 0
}

// HasBoundaries reports whether the result was windowed by an offset or a
// limit.
func (r *ListResult[T]) HasBoundaries() bool {
	return r.Offset > 0 || r.Limit > 0
}
