package transport

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/kavachlabs/erpsync/pkg/syncerr"
)

// XMLRPC speaks the legacy XML-RPC encoding against two endpoints: common
// for authentication, object for CRUD.
type XMLRPC struct {
	opts       Options
	client     *resty.Client
	session    sessionState
	commonPath string
	objectPath string
	db         string
	password   string
}

// NewXMLRPC builds an XML-RPC transport. commonPath/objectPath default to
// "/xmlrpc/2/common" and "/xmlrpc/2/object" when empty.
func NewXMLRPC(opts Options, commonPath, objectPath string) *XMLRPC {
	opts = opts.normalized()
	if commonPath == "" {
		commonPath = "/xmlrpc/2/common"
	}
	if objectPath == "" {
		objectPath = "/xmlrpc/2/object"
	}
	return &XMLRPC{opts: opts, client: newRestyClient(opts), commonPath: commonPath, objectPath: objectPath}
}

// methodCall/methodResponse model the minimal XML-RPC wire shapes this
// transport needs: a method name plus a flat parameter list of scalars,
// structs, and arrays.
type methodCall struct {
	XMLName    xml.Name    `xml:"methodCall"`
	MethodName string      `xml:"methodName"`
	Params     []xmlParam  `xml:"params>param"`
}

type xmlParam struct {
	Value xmlValue `xml:"value"`
}

type xmlValue struct {
	String  *string      `xml:"string,omitempty"`
	Int     *int         `xml:"int,omitempty"`
	Boolean *int         `xml:"boolean,omitempty"`
	Array   *xmlArray    `xml:"array,omitempty"`
	Struct  *xmlStruct   `xml:"struct,omitempty"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type methodResponse struct {
	XMLName xml.Name    `xml:"methodResponse"`
	Params  []xmlParam  `xml:"params>param"`
	Fault   *xmlFault   `xml:"fault"`
}

type xmlFault struct {
	Value xmlValue `xml:"value"`
}

// toXMLValue converts a Go value into its XML-RPC wire representation.
// Supported shapes cover everything the RPC client needs to pass through:
// strings, ints, bools, []interface{}, []string, map[string]interface{}.
func toXMLValue(v interface{}) xmlValue {
	switch t := v.(type) {
	case nil:
		return xmlValue{String: strPtr("")}
	case string:
		return xmlValue{String: &t}
	case bool:
		b := 0
		if t {
			b = 1
		}
		return xmlValue{Boolean: &b}
	case int:
		return xmlValue{Int: &t}
	case int64:
		i := int(t)
		return xmlValue{Int: &i}
	case []interface{}:
		values := make([]xmlValue, len(t))
		for i, item := range t {
			values[i] = toXMLValue(item)
		}
		return xmlValue{Array: &xmlArray{Values: values}}
	case []string:
		values := make([]xmlValue, len(t))
		for i := range t {
			values[i] = xmlValue{String: &t[i]}
		}
		return xmlValue{Array: &xmlArray{Values: values}}
	case map[string]interface{}:
		members := make([]xmlMember, 0, len(t))
		for k, val := range t {
			members = append(members, xmlMember{Name: k, Value: toXMLValue(val)})
		}
		return xmlValue{Struct: &xmlStruct{Members: members}}
	default:
		s := fmt.Sprintf("%v", t)
		return xmlValue{String: &s}
	}
}

func strPtr(s string) *string { return &s }

// fromXMLValue converts a decoded wire value back to a Go value.
func fromXMLValue(v xmlValue) interface{} {
	switch {
	case v.String != nil:
		return *v.String
	case v.Int != nil:
		return *v.Int
	case v.Boolean != nil:
		return *v.Boolean != 0
	case v.Array != nil:
		out := make([]interface{}, len(v.Array.Values))
		for i, item := range v.Array.Values {
			out[i] = fromXMLValue(item)
		}
		return out
	case v.Struct != nil:
		out := make(map[string]interface{}, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			out[m.Name] = fromXMLValue(m.Value)
		}
		return out
	default:
		return nil
	}
}

func (t *XMLRPC) call(ctx context.Context, endpoint, method string, params ...interface{}) (interface{}, error) {
	xmlParams := make([]xmlParam, len(params))
	for i, p := range params {
		xmlParams[i] = xmlParam{Value: toXMLValue(p)}
	}
	reqBody, err := xml.Marshal(methodCall{MethodName: method, Params: xmlParams})
	if err != nil {
		return nil, syncerr.New(syncerr.ProtocolFault, fmt.Sprintf("encode xmlrpc request: %v", err), err).WithRetryable(false)
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/xml").
		SetBody(append([]byte(xml.Header), reqBody...)).
		Post(t.opts.BaseURL + endpoint)
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

	var decoded methodResponse
	if err := xml.Unmarshal(raw, &decoded); err != nil {
		return nil, syncerr.New(syncerr.ProtocolFault, fmt.Sprintf("non-XML body on 2xx: %v", err), err).WithRetryable(false)
	}
	if decoded.Fault != nil {
		faultMap, _ := fromXMLValue(decoded.Fault.Value).(map[string]interface{})
		msg := fmt.Sprintf("%v", faultMap["faultString"])
		return nil, classifyHTTPFailure(nil, 0, msg)
	}
	if len(decoded.Params) == 0 {
		return nil, nil
	}
	return fromXMLValue(decoded.Params[0].Value), nil
}

// Authenticate calls common.authenticate(db, login, password, {}).
func (t *XMLRPC) Authenticate(ctx context.Context, db, username, password string) (int64, error) {
	result, err := t.call(ctx, t.commonPath, "authenticate", db, username, password, map[string]interface{}{})
	if err != nil {
		return 0, err
	}
	uid, err := toInt64(result)
	if err != nil {
		return 0, syncerr.New(syncerr.ProtocolFault, "authenticate: unexpected response shape", err).WithRetryable(false)
	}
	t.db, t.password = db, password
	t.session.set(uid)
	return uid, nil
}

// Execute calls object.execute_kw(db, uid, password, model, method, args, kwargs).
func (t *XMLRPC) Execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	uid, ok := t.session.get()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	return t.call(ctx, t.objectPath, "execute_kw", t.db, uid, t.password, model, method, args, kwargs)
}

// CurrentUserID returns the cached authenticated user id.
func (t *XMLRPC) CurrentUserID() (int64, bool) { return t.session.get() }

// Reset drops the authenticated session.
func (t *XMLRPC) Reset() { t.session.clear() }

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected numeric shape %T", v)
	}
}

var _ Transport = (*XMLRPC)(nil)
