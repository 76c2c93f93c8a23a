package transfer

import (
	"context"

	"github.com/italolelis/resumable_downloader/internal/telemetry"
)

// InstrumentedClient wraps RangeClient with telemetry.
type InstrumentedClient struct {
	client     RangeClient
	telemetry  *telemetry.Telemetry
	clientType string
}

var _ RangeClient = (*InstrumentedClient)(nil)

// NewInstrumentedClient creates a new instrumented range client.
func NewInstrumentedClient(client RangeClient, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Probe checks range support with telemetry.
func (c *InstrumentedClient) Probe(ctx context.Context, url string) (bool, error) {
	var result bool

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "probe", func(ctx context.Context) error {
		var err error
		result, err = c.client.Probe(ctx, url)

		return err
	})

	return result, err
}

// Fetch opens the transfer response with telemetry. Only the time to
// headers is measured; the body is streamed by the caller.
func (c *InstrumentedClient) Fetch(ctx context.Context, url string, offset int64) (*Response, error) {
	var result *Response

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "fetch", func(ctx context.Context) error {
		var err error
		result, err = c.client.Fetch(ctx, url, offset)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
