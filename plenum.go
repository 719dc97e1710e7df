// Package plenum provides a minimal public API for embedding the action
// pipeline in other Go services.
//
// Most deployments run the standalone server from cmd/plenumd. This package
// exports only the types needed to dispatch action batches programmatically
// against a datastore engine, for example from migration or seeding tools.
package plenum

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
)

// Core types for dispatching action batches
type (
	Handler      = action.Handler
	Result       = action.Result
	WrittenEvent = action.WrittenEvent
	Engine       = datastore.Engine
	FQID         = keys.FQID
	Collection   = keys.Collection
)

// Write event kinds reported in Result.Written
const (
	EventCreate = datastore.EventCreate
	EventUpdate = datastore.EventUpdate
	EventDelete = datastore.EventDelete
)

// NewHandler builds a handler on the default action and model registries.
func NewHandler(engine Engine, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, Log: log}
}

// NewHTTPEngine connects to the platform datastore reader and writer.
// A nil client falls back to one with a 10 second timeout.
func NewHTTPEngine(client *http.Client, readerURL, writerURL string, log zerolog.Logger) Engine {
	return datastore.NewHTTPEngine(client, readerURL, writerURL, log)
}
