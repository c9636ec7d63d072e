// Package iox holds small I/O cleanup helpers.
package iox

import "io"

// DiscardClose closes c and drops the error, for deferred closes whose
// failure nothing can act on.
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func closing c, for t.Cleanup.
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DrainClose reads rc to EOF, up to limit bytes, then closes it. Draining
// lets an http client reuse the connection.
func DrainClose(rc io.ReadCloser, limit int64) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	_ = rc.Close()
}
