// Package jsonrpc implements ledger.Client against a node's JSON-RPC API.
package jsonrpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	rpc "github.com/louisbranch/housedealer/internal/platform/jsonrpc"
	"github.com/louisbranch/housedealer/internal/platform/timeouts"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

// Client talks to a ledger node.
type Client struct {
	rpc *rpc.Client
}

// New builds a client for the node at url. callTimeout bounds every call;
// zero uses timeouts.LedgerCall.
func New(url string, callTimeout time.Duration, opts ...rpc.Option) *Client {
	if callTimeout <= 0 {
		callTimeout = timeouts.LedgerCall
	}
	opts = append([]rpc.Option{rpc.WithTimeout(callTimeout)}, opts...)
	return &Client{rpc: rpc.New(url, opts...)}
}

var objectOptions = map[string]bool{
	"showType":    true,
	"showOwner":   true,
	"showContent": true,
}

// GetObject implements ledger.Reader.
func (c *Client) GetObject(ctx context.Context, id string) (ledger.Object, error) {
	result, err := c.rpc.Call(ctx, "sui_getObject", []any{id, objectOptions})
	if err != nil {
		return ledger.Object{}, transient("sui_getObject", err)
	}
	if errResult := result.Get("error"); errResult.Exists() {
		code := errResult.Get("code").String()
		if code == "notExists" || code == "deleted" {
			return ledger.Object{}, fmt.Errorf("%s: %w", id, ledger.ErrObjectNotFound)
		}
		return ledger.Object{}, fmt.Errorf("get object %s: %s", id, errResult.Raw)
	}
	return parseObject(result.Get("data")), nil
}

// ListOwnedObjects implements ledger.Reader.
func (c *Client) ListOwnedObjects(ctx context.Context, q ledger.OwnedQuery) (ledger.ObjectPage, error) {
	query := map[string]any{"options": objectOptions}
	if q.StructType != "" {
		query["filter"] = map[string]string{"StructType": q.StructType}
	}
	var cursor any
	if q.Cursor != "" {
		cursor = q.Cursor
	}
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	result, err := c.rpc.Call(ctx, "suix_getOwnedObjects", []any{q.Owner, query, cursor, limit})
	if err != nil {
		return ledger.ObjectPage{}, transient("suix_getOwnedObjects", err)
	}
	page := ledger.ObjectPage{
		NextCursor:  result.Get("nextCursor").String(),
		HasNextPage: result.Get("hasNextPage").Bool(),
	}
	for _, item := range result.Get("data").Array() {
		if data := item.Get("data"); data.Exists() {
			page.Objects = append(page.Objects, parseObject(data))
		}
	}
	return page, nil
}

var txOptions = map[string]bool{
	"showEffects": true,
	"showEvents":  true,
}

// ExecuteTransaction implements ledger.Client.
func (c *Client) ExecuteTransaction(ctx context.Context, txBytes []byte, signatures []string, opts ledger.ExecuteOptions) (ledger.TxResponse, error) {
	requestType := "WaitForEffectsCert"
	if opts.WaitForLocalExecution {
		requestType = "WaitForLocalExecution"
	}
	result, err := c.rpc.Call(ctx, "sui_executeTransactionBlock", []any{
		base64.StdEncoding.EncodeToString(txBytes),
		signatures,
		txOptions,
		requestType,
	})
	if err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) {
			// The node refused the transaction before execution.
			return ledger.TxResponse{}, apperrors.Wrap(apperrors.CodeExecutionRejected, "node rejected transaction", err)
		}
		return ledger.TxResponse{}, transient("sui_executeTransactionBlock", err)
	}
	return parseTxResponse(result), nil
}

// WaitForTransaction implements ledger.Client.
func (c *Client) WaitForTransaction(ctx context.Context, digest string) (ledger.TxResponse, error) {
	result, err := c.rpc.Call(ctx, "sui_getTransactionBlock", []any{digest, txOptions})
	if err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "could not find") {
			return ledger.TxResponse{}, fmt.Errorf("%s: %w", digest, ledger.ErrTransactionNotFound)
		}
		return ledger.TxResponse{}, transient("sui_getTransactionBlock", err)
	}
	return parseTxResponse(result), nil
}

// QueryEvents implements ledger.Client.
func (c *Client) QueryEvents(ctx context.Context, q ledger.EventQuery) (ledger.EventPage, error) {
	var filter any
	switch {
	case q.MoveEventType != "":
		filter = map[string]string{"MoveEventType": q.MoveEventType}
	default:
		filter = map[string]any{"MoveModule": map[string]string{"package": q.Package, "module": q.Module}}
	}
	var cursor any
	if q.Cursor != "" {
		digest, seq, ok := strings.Cut(q.Cursor, ":")
		if !ok {
			return ledger.EventPage{}, fmt.Errorf("malformed event cursor %q", q.Cursor)
		}
		cursor = map[string]string{"txDigest": digest, "eventSeq": seq}
	}
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	result, err := c.rpc.Call(ctx, "suix_queryEvents", []any{filter, cursor, limit, false})
	if err != nil {
		return ledger.EventPage{}, transient("suix_queryEvents", err)
	}
	page := ledger.EventPage{HasNextPage: result.Get("hasNextPage").Bool()}
	if next := result.Get("nextCursor"); next.IsObject() {
		page.NextCursor = eventID(next)
	}
	for _, item := range result.Get("data").Array() {
		page.Events = append(page.Events, parseEvent(item))
	}
	return page, nil
}

func transient(method string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.WrapWithMetadata(apperrors.CodeTransientNetwork, "ledger call failed", map[string]string{"method": method}, err)
}

func parseObject(data gjson.Result) ledger.Object {
	owner := data.Get("owner.AddressOwner").String()
	if owner == "" && data.Get("owner.Shared").Exists() {
		owner = "shared"
	}
	version, _ := strconv.ParseUint(data.Get("version").String(), 10, 64)
	content := data.Get("content")
	objType := content.Get("type").String()
	if objType == "" {
		objType = data.Get("type").String()
	}
	return ledger.Object{
		ID:      data.Get("objectId").String(),
		Type:    objType,
		Owner:   owner,
		Version: version,
		Fields:  json.RawMessage(content.Get("fields").Raw),
	}
}

func parseTxResponse(result gjson.Result) ledger.TxResponse {
	resp := ledger.TxResponse{
		Digest: result.Get("digest").String(),
		Status: ledger.ExecutionStatus(result.Get("effects.status.status").String()),
		Error:  result.Get("effects.status.error").String(),
	}
	for _, item := range result.Get("events").Array() {
		resp.Events = append(resp.Events, parseEvent(item))
	}
	return resp
}

func parseEvent(item gjson.Result) ledger.Event {
	return ledger.Event{
		ID:       eventID(item.Get("id")),
		TxDigest: item.Get("id.txDigest").String(),
		Type:     item.Get("type").String(),
		Sender:   item.Get("sender").String(),
		Fields:   json.RawMessage(item.Get("parsedJson").Raw),
	}
}

func eventID(id gjson.Result) string {
	return id.Get("txDigest").String() + ":" + id.Get("eventSeq").String()
}

var _ ledger.Client = (*Client)(nil)
