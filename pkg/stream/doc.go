// Package stream consumes the filter endpoint of the streaming API.
//
// A Consumer posts the criteria of one active store.Filter and hands every
// non-blank line of the response body to a RecordHandler, typically a
// capture.Writer. Dropped connections are retried with exponential backoff
// until the context is cancelled; a rejected credential ends the run.
package stream
