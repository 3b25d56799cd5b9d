package assess

import (
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// Do sends req with client and normalises the reply with [Normalize].
// Transport errors, timeouts and any non-200 status wrap [ErrUnavailable];
// the prefix names the calling provider in error messages.
func Do(client *http.Client, req *http.Request, w Weights, prefix string) (*Result, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", prefix, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: read body: %w", prefix, ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: server returned HTTP %d: %s", prefix, ErrUnavailable, resp.StatusCode, snippet(body))
	}

	res, err := Normalize(body, w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prefix, err)
	}
	return res, nil
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
