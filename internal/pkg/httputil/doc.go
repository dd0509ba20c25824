// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of raw http.ResponseWriter calls so every
// endpoint speaks the same JSON error envelope:
//
//	{"error": "CODE", "message": "human readable", ...details}
//
// WriteError maps the domain error taxonomy onto status codes. 5xx bodies
// never carry internal error text; the real error is logged.
package httputil
