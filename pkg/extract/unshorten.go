package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"

	errs "twarchive/pkg/errors"
)

const maxRedirects = 10

// Unshortener follows link redirects.
type Unshortener struct {
	Client *http.Client
}

// Unshorten follows rawURL with the default HTTP client.
func Unshorten(ctx context.Context, rawURL string) ([]string, error) {
	return (&Unshortener{}).Unshorten(ctx, rawURL)
}

// Unshorten requests rawURL and returns every URL visited, ending with the
// one that finally answered. Failures are returned as is, without retry.
func (u *Unshortener) Unshorten(ctx context.Context, rawURL string) ([]string, error) {
	base := u.Client
	if base == nil {
		base = http.DefaultClient
	}

	var history []string
	client := *base
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		history = history[:0]
		for _, r := range via {
			history = append(history, r.URL.String())
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeValidation, err, "invalid url %q", rawURL)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "failed to unshorten %s", rawURL)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return append(history, resp.Request.URL.String()), nil
}
