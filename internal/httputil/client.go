package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds a whole source download, including the body.
const DefaultTimeout = 60 * time.Second

// NewClient returns the client used to fetch remote source tables.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// Retryable reports whether a response status is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
