package filter

// Result keys written by the built-in filters.
const (
	// ResultEscapedLiterals is true when the escape pre-pass produced at
	// least one token.
	ResultEscapedLiterals = "escaped_literals"
	// ResultHighlights is true when highlight placeholders were produced.
	ResultHighlights = "highlights"
	// ResultTOC holds the rendered table of contents fragment.
	ResultTOC = "toc"
	// ResultTruncated is true when a recoverable filter fell back.
	ResultTruncated = "truncated"
	// ResultReferences holds the gatherer's resolution.
	ResultReferences = "references"
)

// Result is the side channel filters use to hand artifacts to later
// filters and to the caller.
type Result struct {
	values map[string]any
}

// NewResult returns an empty Result.
func NewResult() *Result {
	return &Result{values: make(map[string]any)}
}

// Set stores v under key.
func (r *Result) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r *Result) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Bool returns the boolean stored under key, false if absent.
func (r *Result) Bool(key string) bool {
	v, _ := r.values[key].(bool)
	return v
}

// String returns the string stored under key, empty if absent.
func (r *Result) String(key string) string {
	v, _ := r.values[key].(string)
	return v
}

// Merge copies every entry of other into r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	for k, v := range other.values {
		r.Set(k, v)
	}
}

func (r *Result) clone() *Result {
	c := NewResult()
	c.Merge(r)
	return c
}
