package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/plenumhq/plenum/internal/keys"
)

const (
	readerPath = "/internal/datastore/reader/"
	writerPath = "/internal/datastore/writer/"

	retryMaxElapsed = 10 * time.Second
)

// Error codes of the datastore service's 400 responses.
const (
	errModelDoesNotExist = 1
	errModelNotDeleted   = 2
	errModelLocked       = 3
)

// HTTPEngine talks JSON over HTTP to the datastore reader and writer.
// Transient transport failures are retried with exponential backoff; writes
// are never retried because they are not idempotent under locked fields.
type HTTPEngine struct {
	client    *http.Client
	readerURL string
	writerURL string
	log       zerolog.Logger
}

// NewHTTPEngine builds an engine for the given reader and writer base URLs.
// A nil client falls back to one with a 10 second timeout.
func NewHTTPEngine(client *http.Client, readerURL, writerURL string, log zerolog.Logger) *HTTPEngine {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPEngine{
		client:    client,
		readerURL: strings.TrimSuffix(readerURL, "/"),
		writerURL: strings.TrimSuffix(writerURL, "/"),
		log:       log,
	}
}

func (e *HTTPEngine) Get(ctx context.Context, fqid keys.FQID, mappedFields ...string) (map[string]any, error) {
	command := map[string]any{"fqid": fqid.String()}
	if len(mappedFields) > 0 {
		command["mapped_fields"] = mappedFields
	}
	var out map[string]any
	if err := e.read(ctx, "get", command, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *HTTPEngine) GetMany(ctx context.Context, requests ...GetManyRequest) (map[keys.Collection]map[int]map[string]any, error) {
	command := map[string]any{"requests": requests}
	var raw map[string]map[string]map[string]any
	if err := e.read(ctx, "get_many", command, &raw); err != nil {
		return nil, err
	}
	result := make(map[keys.Collection]map[int]map[string]any, len(raw))
	for collection, instances := range raw {
		inner := make(map[int]map[string]any, len(instances))
		for rawID, fields := range instances {
			id, err := strconv.Atoi(rawID)
			if err != nil {
				return nil, fmt.Errorf("datastore get_many: invalid id %q in collection %q", rawID, collection)
			}
			inner[id] = fields
		}
		result[keys.Collection(collection)] = inner
	}
	return result, nil
}

func (e *HTTPEngine) GetAll(ctx context.Context, collection keys.Collection, mappedFields ...string) ([]map[string]any, error) {
	command := map[string]any{"collection": collection}
	if len(mappedFields) > 0 {
		command["mapped_fields"] = mappedFields
	}
	var out []map[string]any
	if err := e.read(ctx, "get_all", command, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *HTTPEngine) Filter(ctx context.Context, collection keys.Collection, filter Filter) ([]map[string]any, error) {
	if err := CheckFilter(filter); err != nil {
		return nil, err
	}
	command := map[string]any{"collection": collection, "filter": filter}
	var out []map[string]any
	if err := e.read(ctx, "filter", command, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *HTTPEngine) Exists(ctx context.Context, collection keys.Collection, filter Filter) (Found, error) {
	if err := CheckFilter(filter); err != nil {
		return Found{}, err
	}
	command := map[string]any{"collection": collection, "filter": filter}
	var out Found
	if err := e.read(ctx, "exists", command, &out); err != nil {
		return Found{}, err
	}
	return out, nil
}

func (e *HTTPEngine) Count(ctx context.Context, collection keys.Collection, filter Filter) (Counted, error) {
	if err := CheckFilter(filter); err != nil {
		return Counted{}, err
	}
	command := map[string]any{"collection": collection, "filter": filter}
	var out Counted
	if err := e.read(ctx, "count", command, &out); err != nil {
		return Counted{}, err
	}
	return out, nil
}

func (e *HTTPEngine) Min(ctx context.Context, collection keys.Collection, filter Filter, field string) (map[string]any, error) {
	return e.aggregate(ctx, "min", collection, filter, field)
}

func (e *HTTPEngine) Max(ctx context.Context, collection keys.Collection, filter Filter, field string) (map[string]any, error) {
	return e.aggregate(ctx, "max", collection, filter, field)
}

func (e *HTTPEngine) aggregate(ctx context.Context, command string, collection keys.Collection, filter Filter, field string) (map[string]any, error) {
	if err := CheckFilter(filter); err != nil {
		return nil, err
	}
	payload := map[string]any{"collection": collection, "filter": filter, "field": field}
	var out map[string]any
	if err := e.read(ctx, command, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *HTTPEngine) ReserveIDs(ctx context.Context, collection keys.Collection, amount int) ([]int, error) {
	command := map[string]any{"collection": collection, "amount": amount}
	var out struct {
		IDs []int `json:"ids"`
	}
	if err := e.post(ctx, e.writerURL+writerPath+"reserve_ids", "reserve_ids", command, &out, true); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

func (e *HTTPEngine) Write(ctx context.Context, request WriteRequest) error {
	// No retry: a replay after an ambiguous failure could commit twice.
	return e.post(ctx, e.writerURL+writerPath+"write", "write", request, nil, false)
}

func (e *HTTPEngine) read(ctx context.Context, command string, payload, out any) error {
	return e.post(ctx, e.readerURL+readerPath+command, command, payload, out, true)
}

func (e *HTTPEngine) post(ctx context.Context, url, command string, payload, out any, retry bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", command, err)
	}
	e.log.Debug().Str("command", command).RawJSON("request", data).Msg("datastore request")

	if !retry {
		return e.do(ctx, url, data, out)
	}

	// BackOff implementations are stateful; always use a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return backoff.Retry(func() error {
		err := e.do(ctx, url, data, out)
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (e *HTTPEngine) do(ctx context.Context, url string, data []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build datastore request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("datastore request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read datastore response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return decodeServiceError(body)
	case resp.StatusCode != http.StatusOK:
		return &statusError{code: resp.StatusCode, body: truncate(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode datastore response: %w", err)
	}
	return nil
}

// decodeServiceError maps the service's 400 envelope
// {"error": {"type": <code>, "msg": <text>}} onto the sentinel errors.
func decodeServiceError(body []byte) error {
	var envelope struct {
		Error struct {
			Type int    `json:"type"`
			Msg  string `json:"msg"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("datastore rejected the request: %s", truncate(body))
	}
	switch envelope.Error.Type {
	case errModelDoesNotExist, errModelNotDeleted:
		return fmt.Errorf("%w: %s", ErrNotFound, envelope.Error.Msg)
	case errModelLocked:
		return fmt.Errorf("%w: %s", ErrLocked, envelope.Error.Msg)
	default:
		return fmt.Errorf("datastore rejected the request: %s", envelope.Error.Msg)
	}
}

type statusError struct {
	code int
	body string
}

func (s *statusError) Error() string {
	return fmt.Sprintf("datastore returned HTTP %d: %s", s.code, s.body)
}

// isRetryableError reports whether the failure is transient: gateway errors
// from a restarting service or connection-level blips.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		switch status.code {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") {
		return true
	}
	if strings.Contains(errStr, "connection reset") {
		return true
	}
	if strings.Contains(errStr, "broken pipe") {
		return true
	}
	if strings.Contains(errStr, "i/o timeout") {
		return true
	}
	if strings.Contains(errStr, "unexpected eof") {
		return true
	}
	return false
}

func truncate(body []byte) string {
	const limit = 200
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
