package yahoo

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"vendorhub/internal/vendor"
)

// maxBody caps how much of a chart response is read.
const maxBody = 8 << 20

// Chart retrieves the raw chart payload for symbol.
func (c *Client) Chart(ctx context.Context, symbol, interval, rng string) ([]byte, error) {
	query := maps.Clone(c.query)
	query.Set("interval", interval)
	query.Set("range", rng)

	u := fmt.Sprintf("%s/%s?%s", strings.TrimRight(c.baseURL, "/"), url.PathEscape(symbol), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: performing request: %w", vendor.ErrConnection, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, &vendor.HTTPError{StatusCode: res.StatusCode, Status: http.StatusText(res.StatusCode), Body: strings.TrimSpace(string(b))}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading chart response: %w", err)
	}
	return body, nil
}
