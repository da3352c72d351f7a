package binder

import (
	"net/http"
)

// BindQuery creates a query parameter binder function.
//
// Fields are matched by the `query` struct tag, `query:"-"` skips a field and
// untagged fields use their lowercased name. Slices accept repeated or
// comma-separated values; pointers mark optional parameters.
//
// Example:
//
//	type CompareRequest struct {
//		From string `query:"from"`
//		To   string `query:"to"`
//	}
func BindQuery() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrInvalidQuery)
	}
}
