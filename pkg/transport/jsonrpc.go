package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/kavachlabs/erpsync/pkg/jsonutil"
	"github.com/kavachlabs/erpsync/pkg/syncerr"
)

// jsonRPCEnvelope is the standard {jsonrpc, method, params, id} wrapper
// every JSON-RPC call uses.
type jsonRPCEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCFault   `json:"error"`
}

type jsonRPCFault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"data"`
}

// JSONRPC is the {jsonrpc:"2.0"} variant: session endpoint for auth, a
// single object endpoint for CRUD, keyword args always encoded as an
// object.
type JSONRPC struct {
	opts     Options
	client   *resty.Client
	session  sessionState
	idSeq    int
	db       string
	password string
}

// NewJSONRPC builds a JSON-RPC transport against opts.BaseURL.
func NewJSONRPC(opts Options) *JSONRPC {
	opts = opts.normalized()
	return &JSONRPC{opts: opts, client: newRestyClient(opts)}
}

func (t *JSONRPC) nextID() int {
	t.idSeq++
	return t.idSeq
}

func (t *JSONRPC) call(ctx context.Context, path string, params interface{}) ([]byte, error) {
	env := jsonRPCEnvelope{JSONRPC: "2.0", Method: "call", Params: params, ID: t.nextID()}
	body, err := jsonutil.Marshal(env)
	if err != nil {
		return nil, syncerr.New(syncerr.ProtocolFault, fmt.Sprintf("encode request: %v", err), err).WithRetryable(false)
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(t.opts.BaseURL + path)
	if err != nil {
		return nil, classifyHTTPFailure(err, 0, "")
	}
	if resp.StatusCode() == 403 {
		return nil, classifyHTTPFailure(nil, 403, "")
	}
	if resp.StatusCode() >= 400 {
		return nil, classifyHTTPFailure(nil, resp.StatusCode(), string(resp.Body()))
	}

	raw, err := readBodyCapped(resp, t.opts.MaxResponseSize)
	if err != nil {
		return nil, err
	}

	var decoded jsonRPCResponse
	if err := jsonutil.Unmarshal(raw, &decoded); err != nil {
		return nil, syncerr.New(syncerr.ProtocolFault, fmt.Sprintf("non-JSON body on 2xx: %v", err), err).WithRetryable(false)
	}
	if decoded.Error != nil {
		msg := decoded.Error.Message
		if decoded.Error.Data.Message != "" {
			msg = decoded.Error.Data.Message
		}
		return nil, classifyHTTPFailure(nil, 0, msg)
	}
	return decoded.Result, nil
}

// Authenticate logs in via the session endpoint and caches the returned
// user id.
func (t *JSONRPC) Authenticate(ctx context.Context, db, username, password string) (int64, error) {
	params := map[string]interface{}{"db": db, "login": username, "password": password}
	result, err := t.call(ctx, "/web/session/authenticate", params)
	if err != nil {
		return 0, err
	}

	var decoded struct {
		UID int64 `json:"uid"`
	}
	if err := jsonutil.Unmarshal(result, &decoded); err != nil {
		return 0, syncerr.New(syncerr.ProtocolFault, "authenticate: unexpected response shape", err).WithRetryable(false)
	}
	t.db, t.password = db, password
	t.session.set(decoded.UID)
	return decoded.UID, nil
}

// Execute dispatches model.method through the single object endpoint,
// carrying the db/uid/api-key prefix every execute_kw call requires.
// kwargs is always encoded as an object, never an array, even when empty.
func (t *JSONRPC) Execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	uid, ok := t.session.get()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	params := map[string]interface{}{
		"service": "object",
		"method":  "execute_kw",
		"args":    []interface{}{t.db, uid, t.password, model, method, args, kwargs},
	}
	result, err := t.call(ctx, "/jsonrpc", params)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := jsonutil.Unmarshal(result, &decoded); err != nil {
		return nil, syncerr.New(syncerr.ProtocolFault, "execute: unexpected response shape", err).WithRetryable(false)
	}
	return decoded, nil
}

// CurrentUserID returns the cached authenticated user id.
func (t *JSONRPC) CurrentUserID() (int64, bool) { return t.session.get() }

// Reset drops the authenticated session.
func (t *JSONRPC) Reset() { t.session.clear() }

var _ Transport = (*JSONRPC)(nil)
