// Package httputil provides the shared JSON response helpers used by the
// API handlers, so every endpoint emits the same envelope and error shape.
package httputil
