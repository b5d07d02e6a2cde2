package ledger

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
	"sync/atomic"
	"time"

	logx "lixiwatch/pkg/logx"

	"golang.org/x/time/rate"
)

// Client is the event-query surface of a ledger node.
type Client interface {
	QueryEvents(ctx context.Context, typeTag string, limit int, descending bool) ([]Event, error)
}

// BalanceReader reads the total balance of owner in smallest units.
type BalanceReader interface {
	Balance(ctx context.Context, owner, coinType string) (string, error)
}

type RPCConfig struct {
	URL        string
	Timeout    time.Duration
	RatePerSec int
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var ErrNoURL = errors.New("ledger rpc url is empty")

// RPCClient speaks Sui JSON-RPC over HTTP. Calls are rate limited so a slow
// poll cadence and a burst of balance reads can't hammer a public node.
type RPCClient struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	seq     atomic.Uint64
}

func NewRPCClient(cfg RPCConfig, log logx.Logger) (*RPCClient, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, ErrNoURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &RPCClient{
		url:     url,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}
	c.log.Debug("rpc call", logx.String("method", method), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(started)))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: %w", method, rr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// flexInt accepts a JSON number or a decimal string; anything else is 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

type rpcEvent struct {
	ID struct {
		TxDigest string  `json:"txDigest"`
		EventSeq flexInt `json:"eventSeq"`
	} `json:"id"`
	Type        string          `json:"type"`
	ParsedJSON  json.RawMessage `json:"parsedJson"`
	TimestampMs flexInt         `json:"timestampMs"`
}

type rpcEventPage struct {
	Data []rpcEvent `json:"data"`
}

func (e rpcEvent) toEvent() Event {
	return Event{
		TypeTag:     e.Type,
		Kind:        ParseKind(e.Type),
		Payload:     decodePayload(e.ParsedJSON),
		TxDigest:    e.ID.TxDigest,
		EventSeq:    int64(e.ID.EventSeq),
		TimestampMs: int64(e.TimestampMs),
	}
}

// decodePayload keeps numbers as json.Number so u64 amounts survive intact.
// Non-object payloads decode to an empty map.
func decodePayload(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return out
	}
	return m
}

func (c *RPCClient) QueryEvents(ctx context.Context, typeTag string, limit int, descending bool) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	var page rpcEventPage
	params := []any{map[string]string{"MoveEventType": typeTag}, nil, limit, descending}
	if err := c.call(ctx, "suix_queryEvents", params, &page); err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(page.Data))
	for _, e := range page.Data {
		out = append(out, e.toEvent())
	}
	return out, nil
}

type rpcBalance struct {
	CoinType     string `json:"coinType"`
	TotalBalance string `json:"totalBalance"`
}

func (c *RPCClient) Balance(ctx context.Context, owner, coinType string) (string, error) {
	var b rpcBalance
	if err := c.call(ctx, "suix_getBalance", []any{owner, coinType}, &b); err != nil {
		return "", err
	}
	return b.TotalBalance, nil
}
