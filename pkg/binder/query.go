package binder

import "net/http"

// Query binds `query` tagged fields from the URL query string. Repeated or
// comma-separated parameters fill slice fields.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}
