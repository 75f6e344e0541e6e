// Package partition provides callers that execute record operations against
// partition nodes.
package partition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// EndpointResolver maps a partition identity to its registered endpoint.
// *registry.Registry satisfies this.
type EndpointResolver interface {
	Get(id types.PartitionID) (types.PartitionSnapshot, error)
}

// HTTPClient calls partition nodes over their HTTP record API.
type HTTPClient struct {
	resolver EndpointResolver
	client   *http.Client
}

// NewHTTPClient creates a partition HTTP client. Per-call deadlines come
// from the caller's context; the transport timeout is a backstop.
func NewHTTPClient(resolver EndpointResolver) *HTTPClient {
	return &HTTPClient{
		resolver: resolver,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListRecords fetches all records a partition holds for the owner.
func (c *HTTPClient) ListRecords(ctx context.Context, id types.PartitionID, ownerKey string) ([]types.Record, error) {
	endpoint, err := c.endpoint(id)
	if err != nil {
		return nil, err
	}

	u := endpoint + "/records?owner=" + url.QueryEscape(ownerKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.NewInternalError("building partition request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewRoutingError(errors.CodeServiceUnavailable,
			fmt.Sprintf("partition %s unreachable: %v", id, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.NewRoutingError(errors.CodeServiceUnavailable,
			fmt.Sprintf("partition %s returned %d: %s", id, resp.StatusCode, body))
	}

	var records []types.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, errors.NewInternalError(
			fmt.Sprintf("decoding records from partition %s", id), err)
	}
	return records, nil
}

// CreateRecord stores a record on a partition.
func (c *HTTPClient) CreateRecord(ctx context.Context, id types.PartitionID, rec types.Record) error {
	endpoint, err := c.endpoint(id)
	if err != nil {
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return errors.NewInternalError("encoding record", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+"/records", bytes.NewReader(body))
	if err != nil {
		return errors.NewInternalError("building partition request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewRoutingError(errors.CodeServiceUnavailable,
			fmt.Sprintf("partition %s unreachable: %v", id, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.NewRoutingError(errors.CodeServiceUnavailable,
			fmt.Sprintf("partition %s returned %d: %s", id, resp.StatusCode, msg))
	}
	return nil
}

func (c *HTTPClient) endpoint(id types.PartitionID) (string, error) {
	snap, err := c.resolver.Get(id)
	if err != nil {
		return "", err
	}
	if snap.Info.Endpoint == "" {
		return "", errors.NewRegistryError(errors.CodeNotFound,
			fmt.Sprintf("partition %s has no endpoint", id))
	}
	return snap.Info.Endpoint, nil
}
