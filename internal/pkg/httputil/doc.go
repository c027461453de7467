// Package httputil holds the JSON response and request helpers shared by
// the API handlers, so every endpoint formats bodies and errors the same way.
package httputil
