// Package retry provides backoff strategies and a retry loop for transient
// failures. The streaming consumer uses it to re-establish dropped
// connections.
//
//	resp, err := retry.DoWithResult(ctx, func() (*http.Response, error) {
//	    return client.connect(ctx)
//	}, &retry.Config{MaxAttempts: 0, Backoff: retry.DefaultExponentialBackoff()})
//
// A MaxAttempts of zero retries until the context is cancelled or the error
// is classified as permanent by RetryIf.
package retry
