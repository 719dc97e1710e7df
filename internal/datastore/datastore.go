// Package datastore is the client for the external datastore service, the
// only holder of persistent state. It consists of two layers: Engine, the
// stateless JSON-over-HTTP transport to the reader and writer endpoints, and
// Client, a per-request wrapper that records the positions of everything it
// reads so the final write can be rejected when any of it changed meanwhile
// (optimistic locking).
package datastore

import (
	"context"
	"errors"

	"github.com/plenumhq/plenum/internal/keys"
)

var (
	// ErrNotFound is returned when a requested model does not exist.
	ErrNotFound = errors.New("model does not exist")
	// ErrLocked is returned when the writer rejects a write because one of
	// the locked fields changed since it was read.
	ErrLocked = errors.New("locked fields were modified")
)

// GetManyRequest asks for several instances of one collection at once.
type GetManyRequest struct {
	Collection   keys.Collection `json:"collection"`
	IDs          []int           `json:"ids"`
	MappedFields []string        `json:"mapped_fields,omitempty"`
}

// Found is the answer of an exists request. The position is not recorded in
// the locked fields; callers handle it themselves if they need to.
type Found struct {
	Exists   bool `json:"exists"`
	Position int  `json:"position"`
}

// Counted is the answer of a count request, position handling as with Found.
type Counted struct {
	Count    int `json:"count"`
	Position int `json:"position"`
}

// Engine is the transport to the datastore service. HTTPEngine implements
// it against the real service; tests substitute an in-memory one.
type Engine interface {
	Get(ctx context.Context, fqid keys.FQID, mappedFields ...string) (map[string]any, error)
	GetMany(ctx context.Context, requests ...GetManyRequest) (map[keys.Collection]map[int]map[string]any, error)
	GetAll(ctx context.Context, collection keys.Collection, mappedFields ...string) ([]map[string]any, error)
	Filter(ctx context.Context, collection keys.Collection, filter Filter) ([]map[string]any, error)
	Exists(ctx context.Context, collection keys.Collection, filter Filter) (Found, error)
	Count(ctx context.Context, collection keys.Collection, filter Filter) (Counted, error)
	Min(ctx context.Context, collection keys.Collection, filter Filter, field string) (map[string]any, error)
	Max(ctx context.Context, collection keys.Collection, filter Filter, field string) (map[string]any, error)
	ReserveIDs(ctx context.Context, collection keys.Collection, amount int) ([]int, error)
	Write(ctx context.Context, request WriteRequest) error
}
