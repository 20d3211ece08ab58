// Package rpcclient implements the lazy-connecting RPC facade of spec
// §4.2: search/read/write/unlink and friends over a pkg/transport
// Transport, with session-expiry retry-once semantics for idempotent
// methods.
package rpcclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/kavachlabs/erpsync/pkg/syncerr"
	"github.com/kavachlabs/erpsync/pkg/transport"
)

// Credentials is what the first call needs to authenticate; subsequent
// calls reuse the resulting session.
type Credentials struct {
	DB       string
	Username string
	Password string
}

// Client is the lazy-connecting facade. The zero value is not usable;
// construct with New.
type Client struct {
	transport transport.Transport
	creds     Credentials

	mu             sync.Mutex
	authenticated  bool
}

// New wraps t, deferring authentication until the first call.
func New(t transport.Transport, creds Credentials) *Client {
	return &Client{transport: t, creds: creds}
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		return nil
	}
	if _, err := c.transport.Authenticate(ctx, c.creds.DB, c.creds.Username, c.creds.Password); err != nil {
		return err
	}
	c.authenticated = true
	return nil
}

// isIdempotent reports whether method may be safely retried after a
// session reset. create is excluded: a duplicate resource created by a
// retried call cannot be distinguished from one whose original response
// was merely lost.
func isIdempotent(method string) bool {
	return method != "create"
}

// callWithSessionRetry executes fn once; on a session error for an
// idempotent method it resets the transport, re-authenticates, and
// retries fn exactly once.
func (c *Client) callWithSessionRetry(ctx context.Context, method string, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	result, err := fn()
	if err == nil {
		return result, nil
	}
	if syncerr.CodeOf(err) != syncerr.SessionError || !isIdempotent(method) {
		return nil, err
	}

	c.mu.Lock()
	c.transport.Reset()
	c.authenticated = false
	c.mu.Unlock()

	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	return fn()
}

func (c *Client) execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return c.callWithSessionRetry(ctx, method, func() (interface{}, error) {
		return c.transport.Execute(ctx, model, method, args, kwargs)
	})
}

// Execute exposes the raw model.method(args, kwargs) call for callers that
// need a method this facade doesn't special-case.
func (c *Client) Execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return c.execute(ctx, model, method, args, kwargs)
}

// Search returns matching ids for a Polish-notation domain.
func (c *Client) Search(ctx context.Context, model string, domain []interface{}, offset, limit int, order string) ([]interface{}, error) {
	kwargs := map[string]interface{}{"offset": offset, "limit": limit, "order": order}
	result, err := c.execute(ctx, model, "search", []interface{}{domain}, kwargs)
	if err != nil {
		return nil, err
	}
	return toSlice(result)
}

// SearchRead combines search and read server-side.
func (c *Client) SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, offset, limit int, order string) ([]interface{}, error) {
	kwargs := map[string]interface{}{"fields": fields, "offset": offset, "limit": limit, "order": order}
	result, err := c.execute(ctx, model, "search_read", []interface{}{domain}, kwargs)
	if err != nil {
		return nil, err
	}
	return toSlice(result)
}

// Read fetches fields for a specific set of ids.
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string, recordContext map[string]interface{}) ([]interface{}, error) {
	kwargs := map[string]interface{}{"fields": fields}
	if recordContext != nil {
		kwargs["context"] = recordContext
	}
	result, err := c.execute(ctx, model, "read", []interface{}{toInterfaceSlice(ids)}, kwargs)
	if err != nil {
		return nil, err
	}
	return toSlice(result)
}

// Create inserts a record. Never retried on session expiry: see
// isIdempotent.
func (c *Client) Create(ctx context.Context, model string, values map[string]interface{}, recordContext map[string]interface{}) (int64, error) {
	kwargs := map[string]interface{}{}
	if recordContext != nil {
		kwargs["context"] = recordContext
	}
	result, err := c.execute(ctx, model, "create", []interface{}{values}, kwargs)
	if err != nil {
		return 0, err
	}
	return toInt64(result)
}

// CreateBatch inserts many records in one round-trip.
func (c *Client) CreateBatch(ctx context.Context, model string, values []map[string]interface{}) ([]int64, error) {
	payload := make([]interface{}, len(values))
	for i, v := range values {
		payload[i] = v
	}
	result, err := c.execute(ctx, model, "create", []interface{}{payload}, nil)
	if err != nil {
		return nil, err
	}
	raw, err := toSlice(result)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(raw))
	for i, v := range raw {
		id, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Write updates ids with values. Relational write shapes (Many2one
// integers, One2many/Many2many command tuples) pass through values
// unmodified.
func (c *Client) Write(ctx context.Context, model string, ids []int64, values map[string]interface{}, recordContext map[string]interface{}) (bool, error) {
	kwargs := map[string]interface{}{}
	if recordContext != nil {
		kwargs["context"] = recordContext
	}
	result, err := c.execute(ctx, model, "write", []interface{}{toInterfaceSlice(ids), values}, kwargs)
	if err != nil {
		return false, err
	}
	return toBool(result), nil
}

// Unlink deletes ids.
func (c *Client) Unlink(ctx context.Context, model string, ids []int64) (bool, error) {
	result, err := c.execute(ctx, model, "unlink", []interface{}{toInterfaceSlice(ids)}, nil)
	if err != nil {
		return false, err
	}
	return toBool(result), nil
}

// SearchCount returns the number of records matching domain.
func (c *Client) SearchCount(ctx context.Context, model string, domain []interface{}) (int, error) {
	result, err := c.execute(ctx, model, "search_count", []interface{}{domain}, nil)
	if err != nil {
		return 0, err
	}
	n, err := toInt64(result)
	return int(n), err
}

// FieldsGet returns the field definitions for model.
func (c *Client) FieldsGet(ctx context.Context, model string, attributes []string) (map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	if attributes != nil {
		kwargs["attributes"] = attributes
	}
	result, err := c.execute(ctx, model, "fields_get", nil, kwargs)
	if err != nil {
		return nil, err
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("rpcclient: fields_get: unexpected response shape %T", result)
	}
	return m, nil
}

func toSlice(v interface{}) ([]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("rpcclient: expected array result, got %T", v)
	}
	return s, nil
}

func toBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("rpcclient: expected numeric id, got %T", v)
	}
}

func toInterfaceSlice(ids []int64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
