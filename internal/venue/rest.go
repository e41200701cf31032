package venue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

// RestClient reads the venue endpoints that have no websocket equivalent.
// It implements nonce.Fetcher.
type RestClient struct {
	baseURL string
	http    *http.Client
}

// NewRestClient creates a client for the venue's HTTP API.
func NewRestClient(baseURL string, timeout time.Duration) *RestClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type nextNonceResponse struct {
	Code    int32  `json:"code"`
	Nonce   int64  `json:"nonce"`
	Message string `json:"message,omitempty"`
}

// NextNonce reads the authoritative next signing nonce for (account, key).
func (c *RestClient) NextNonce(ctx context.Context, account schema.AccountIndex, key schema.APIKeyIndex) (int64, error) {
	url := fmt.Sprintf("%s/api/v1/nextNonce?account_index=%d&api_key_index=%d", c.baseURL, account, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "build nonce request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "fetch next nonce")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, errors.Wrap(err, "read nonce response")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Wrap(exception.ErrProtocol,
			fmt.Sprintf("next nonce status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed nextNonceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, errors.Wrap(err, "decode nonce response")
	}
	if parsed.Code != codeOK {
		return 0, errors.Wrap(exception.ErrProtocol,
			fmt.Sprintf("next nonce code %d: %s", parsed.Code, parsed.Message))
	}
	return parsed.Nonce, nil
}
