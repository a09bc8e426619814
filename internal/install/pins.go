package install

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
)

// Pins are the version-specific constraints resolved from the remote
// manifest: the interpreter to provision and the package indexes per
// accelerator variant.
type Pins struct {
	Python  string              `json:"python"`
	Indexes map[string]string   `json:"indexes"`
	Extras  map[string][]string `json:"extras,omitempty"`
}

// PinResolver resolves pins for a requested application version.
type PinResolver interface {
	Resolve(ctx context.Context, version string) (Pins, error)
}

// PinClient fetches the pin manifest over HTTP with retries.
type PinClient struct {
	resty   *resty.Client
	baseURL string
}

// NewPinClient creates a manifest client for the given base URL.
func NewPinClient(baseURL string) *PinClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = nil // Disable logging

	client := resty.New().
		SetTimeout(30 * time.Second).
		SetTransport(retryClient.HTTPClient.Transport).
		SetHeader("User-Agent", "invoke-launcher/1.0")

	return &PinClient{resty: client, baseURL: baseURL}
}

// Resolve fetches the manifest keyed by application version. A failure
// here is terminal for the whole workflow.
func (c *PinClient) Resolve(ctx context.Context, version string) (Pins, error) {
	var pins Pins
	resp, err := c.resty.R().
		SetContext(ctx).
		SetResult(&pins).
		Get(fmt.Sprintf("%s/pins/%s.json", c.baseURL, version))
	if err != nil {
		return Pins{}, fmt.Errorf("failed to fetch pins for %s: %w", version, err)
	}
	if resp.IsError() {
		return Pins{}, fmt.Errorf("pin manifest for %s returned %s", version, resp.Status())
	}
	if pins.Python == "" {
		return Pins{}, fmt.Errorf("pin manifest for %s has no interpreter pin", version)
	}
	return pins, nil
}
