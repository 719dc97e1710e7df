package datastore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/plenumhq/plenum/internal/keys"
)

// Client is the per-request view on the datastore. Every read records the
// meta_position of each returned instance under its fqid, keeping the
// minimum across repeated observations; Write sends the accumulated map so
// the writer can reject the transaction if any of those instances moved.
// A Client must not be shared between requests.
type Client struct {
	engine Engine
	locked map[string]int
}

// NewClient wraps an engine for one request.
func NewClient(engine Engine) *Client {
	return &Client{engine: engine, locked: make(map[string]int)}
}

// Get fetches one instance, optionally restricted to mapped fields.
func (c *Client) Get(ctx context.Context, fqid keys.FQID, mappedFields ...string) (map[string]any, error) {
	fields, err := c.engine.Get(ctx, fqid, mappedFields...)
	if err != nil {
		return nil, err
	}
	c.record(fqid, fields)
	return fields, nil
}

// GetMany fetches several instances across collections.
func (c *Client) GetMany(ctx context.Context, requests ...GetManyRequest) (map[keys.Collection]map[int]map[string]any, error) {
	result, err := c.engine.GetMany(ctx, requests...)
	if err != nil {
		return nil, err
	}
	for collection, instances := range result {
		for id, fields := range instances {
			c.record(collection.FQID(id), fields)
		}
	}
	return result, nil
}

// GetAll fetches every instance of a collection.
func (c *Client) GetAll(ctx context.Context, collection keys.Collection, mappedFields ...string) ([]map[string]any, error) {
	result, err := c.engine.GetAll(ctx, collection, mappedFields...)
	if err != nil {
		return nil, err
	}
	c.recordList(collection, result)
	return result, nil
}

// Filter fetches the instances of a collection matching the filter.
func (c *Client) Filter(ctx context.Context, collection keys.Collection, filter Filter) ([]map[string]any, error) {
	result, err := c.engine.Filter(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	c.recordList(collection, result)
	return result, nil
}

// Exists checks whether any instance matches the filter. The returned
// position is not added to the locked fields.
func (c *Client) Exists(ctx context.Context, collection keys.Collection, filter Filter) (Found, error) {
	return c.engine.Exists(ctx, collection, filter)
}

// Count counts the instances matching the filter. The returned position is
// not added to the locked fields.
func (c *Client) Count(ctx context.Context, collection keys.Collection, filter Filter) (Counted, error) {
	return c.engine.Count(ctx, collection, filter)
}

// Min returns the raw aggregate response of the reader.
func (c *Client) Min(ctx context.Context, collection keys.Collection, filter Filter, field string) (map[string]any, error) {
	return c.engine.Min(ctx, collection, filter, field)
}

// Max returns the raw aggregate response of the reader.
func (c *Client) Max(ctx context.Context, collection keys.Collection, filter Filter, field string) (map[string]any, error) {
	return c.engine.Max(ctx, collection, filter, field)
}

// ReserveIDs reserves amount new ids for a collection.
func (c *Client) ReserveIDs(ctx context.Context, collection keys.Collection, amount int) ([]int, error) {
	return c.engine.ReserveIDs(ctx, collection, amount)
}

// ReserveID reserves a single new id for a collection.
func (c *Client) ReserveID(ctx context.Context, collection keys.Collection) (int, error) {
	ids, err := c.engine.ReserveIDs(ctx, collection, 1)
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, fmt.Errorf("reserve_ids returned %d ids, expected 1", len(ids))
	}
	return ids[0], nil
}

// Write submits the request with the accumulated locked fields attached.
func (c *Client) Write(ctx context.Context, request WriteRequest) error {
	request.LockedFields = c.LockedFields()
	return c.engine.Write(ctx, request)
}

// LockedFields returns a copy of the recorded positions. Always non-nil so
// an untouched client serializes as an empty object.
func (c *Client) LockedFields() map[string]int {
	out := make(map[string]int, len(c.locked))
	for key, position := range c.locked {
		out[key] = position
	}
	return out
}

func (c *Client) record(fqid keys.FQID, fields map[string]any) {
	position, ok := metaPosition(fields)
	if !ok {
		return
	}
	key := fqid.String()
	if current, exists := c.locked[key]; !exists || position < current {
		c.locked[key] = position
	}
}

func (c *Client) recordList(collection keys.Collection, instances []map[string]any) {
	for _, fields := range instances {
		id, ok := asInt(fields["id"])
		if !ok {
			continue
		}
		c.record(collection.FQID(id), fields)
	}
}

// metaPosition extracts the meta_position an engine response carries per
// instance.
func metaPosition(fields map[string]any) (int, bool) {
	return asInt(fields["meta_position"])
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
