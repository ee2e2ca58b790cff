package mcpservice

import "strconv"

// defaultPageSize bounds list responses from the static containers.
const defaultPageSize = 50

// Page is one page of a cursor-paginated listing.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures a Page.
type PageOption[T any] func(*Page[T])

// WithNextCursor sets the cursor that fetches the following page.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) { p.NextCursor = &cursor }
}

// NewPage builds a Page from items. A nil slice becomes an empty one so that
// list results always serialize as arrays.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	if items == nil {
		items = []T{}
	}
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// paginate slices all according to an offset cursor.
func paginate[T any](all []T, cursor *string, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	start := parseCursor(cursor)
	if start > len(all) {
		start = 0
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]T, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[T](strconv.Itoa(end)))
	}
	return NewPage(items)
}

func parseCursor(cursor *string) int {
	if cursor == nil || *cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(*cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
