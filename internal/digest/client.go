package digest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"camscout/internal/domain"
)

// Sentinel errors for the caller's taxonomy. Cross-credential retry is
// the caller's job; this client never retries internally.
var (
	// ErrAuthUnsupported - the endpoint answered 401 without a Digest
	// challenge, terminal for this endpoint
	ErrAuthUnsupported = errors.New("endpoint does not offer digest authentication")
	// ErrAuthFailed - the digest retry still came back 401, meaning
	// wrong credentials
	ErrAuthFailed = errors.New("digest authentication failed")
)

const nonceCount = "00000001"

// Client issues authenticated requests against camera endpoints.
// Self-signed TLS is accepted during discovery only; trust is deferred
// until a device is positively identified.
type Client struct {
	http *http.Client
}

// NewClient creates a digest client with the given round-trip timeout
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
				DisableKeepAlives: true,
			},
		},
	}
}

// AuthenticatedRequest performs the challenge-response exchange:
//
//  1. request with no Authorization header
//  2. 200 directly - unauthenticated endpoint, return as-is
//  3. 401 with a Digest challenge - compute the response and reissue
//     exactly once
//  4. anything else is terminal for this call
//
// The body and status of the final response are returned; sentinel
// errors distinguish unsupported auth from wrong credentials.
func (c *Client) AuthenticatedRequest(ctx context.Context, target domain.Target, path, method string, creds domain.CredentialSet) ([]byte, int, error) {
	url := target.BaseURL() + path

	body, status, challengeHeader, err := c.do(ctx, method, url, "")
	if err != nil {
		return nil, 0, err
	}

	if status != http.StatusUnauthorized {
		return body, status, nil
	}

	ch, parseErr := ParseChallenge(challengeHeader)
	if parseErr != nil {
		return body, status, ErrAuthUnsupported
	}

	uri := requestURI(path)
	auth := AuthorizationHeader(ch, creds.Username, creds.Password, method, uri, NewCnonce(), nonceCount)

	body, status, _, err = c.do(ctx, method, url, auth)
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusUnauthorized {
		return body, status, ErrAuthFailed
	}
	return body, status, nil
}

// Challenge issues a single unauthenticated request and reports whether
// the endpoint offered a Digest challenge. Used for vendor-presence
// checks before any credentials exist.
func (c *Client) Challenge(ctx context.Context, target domain.Target, path string) (status int, hasDigest bool, body []byte, err error) {
	body, status, header, err := c.do(ctx, http.MethodGet, target.BaseURL()+requestURI(path), "")
	if err != nil {
		return 0, false, nil, err
	}
	return status, header != "", body, nil
}

func (c *Client) do(ctx context.Context, method, url, authorization string) ([]byte, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("build request: %w", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}

	return body, resp.StatusCode, digestChallengeFrom(resp), nil
}

// digestChallengeFrom picks the Digest variant when a server offers
// multiple WWW-Authenticate schemes.
func digestChallengeFrom(resp *http.Response) string {
	for _, h := range resp.Header.Values("WWW-Authenticate") {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(h)), "digest") {
			return h
		}
	}
	return ""
}

// requestURI strips any scheme/host a caller passed by accident; the
// digest uri field must match the request path plus query.
func requestURI(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
