package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	DefaultRPCPort    = 9000
	DefaultRPCTimeout = 3 * time.Second
	rpcPath           = "/jsonrpc.js"
)

// RPC is a client for the LMS JSON-RPC endpoint.
type RPC struct {
	url    string
	client *retryablehttp.Client
	nextID atomic.Int64
}

// zapLeveled adapts zap to retryablehttp's LeveledLogger.
type zapLeveled struct{ s *zap.SugaredLogger }

func (z zapLeveled) Error(msg string, kv ...interface{}) { z.s.Errorw(msg, kv...) }
func (z zapLeveled) Info(msg string, kv ...interface{})  { z.s.Debugw(msg, kv...) }
func (z zapLeveled) Debug(msg string, kv ...interface{}) { z.s.Debugw(msg, kv...) }
func (z zapLeveled) Warn(msg string, kv ...interface{})  { z.s.Warnw(msg, kv...) }

// NewRPC creates a client for the server at host:port.
func NewRPC(host string, port int, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 500 * time.Millisecond
	c.HTTPClient.Timeout = DefaultRPCTimeout
	c.Logger = zapLeveled{logger.Named("rpc").Sugar()}
	c.CheckRetry = retryPolicy

	return &RPC{
		url:    "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + rpcPath,
		client: c,
	}
}

type idempotentKey struct{}

// idempotent marks ctx as carrying a request that is safe to repeat.
func idempotent(ctx context.Context) context.Context {
	return context.WithValue(ctx, idempotentKey{}, true)
}

// retryPolicy retries only idempotent requests. A command whose reply was
// lost may already have been applied, so it fails instead.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ok, _ := ctx.Value(idempotentKey{}).(bool); ok {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, err
}

type rpcRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params [2]any `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  any             `json:"error,omitempty"`
}

// Request sends one slim.request for the player mac and returns the raw
// result object. It is not retried unless ctx was marked idempotent.
func (r *RPC) Request(ctx context.Context, mac string, cmd ...string) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		ID:     r.nextID.Add(1),
		Method: "slim.request",
		Params: [2]any{mac, cmd},
	})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lms %v: %w", cmd, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("lms %v: http %s", cmd, resp.Status)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("lms %v: decode: %w", cmd, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("lms %v: %v", cmd, out.Error)
	}
	return out.Result, nil
} // func Request

// Status is the subset of the player status the controller uses.
type Status struct {
	Mode         string       `json:"mode"`
	Power        flexInt      `json:"power"`
	Time         flexFloat    `json:"time"`
	Duration     flexFloat    `json:"duration"`
	CanSeek      flexInt      `json:"can_seek"`
	Remote       flexInt      `json:"remote"`
	Shuffle      flexInt      `json:"playlist shuffle"`
	Repeat       flexInt      `json:"playlist repeat"`
	Volume       flexInt      `json:"mixer volume"`
	CurIndex     flexInt      `json:"playlist_cur_index"`
	Tracks       flexInt      `json:"playlist_tracks"`
	PlaylistLoop []StatusItem `json:"playlist_loop"`
	CurrentTitle string       `json:"current_title"`
}

// StatusItem is one playlist_loop entry.
type StatusItem struct {
	ID       flexString `json:"id"`
	Title    string     `json:"title"`
	Artist   string     `json:"artist"`
	Album    string     `json:"album"`
	Duration flexFloat  `json:"duration"`
	Genre    string     `json:"genre"`
	Year     flexInt    `json:"year"`
	TrackNum flexInt    `json:"tracknum"`
	URL      string     `json:"url"`
	CoverID  flexString `json:"coverid"`
	Artwork  string     `json:"artwork_url"`
	Index    flexInt    `json:"playlist index"`
}

// Status fetches the player status, including count entries of the
// playlist starting at start.
func (r *RPC) Status(ctx context.Context, mac string, start string, count int) (*Status, error) {
	raw, err := r.Request(idempotent(ctx), mac, "status", start, strconv.Itoa(count), "tags:adlKiguNjy")
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("lms status: %w", err)
	}
	return &st, nil
}

// LMS encodes numbers as either JSON numbers or strings depending on the
// field and server version.

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		n = json.Number(s)
	}
	if v, err := n.Float64(); err == nil {
		*f = flexInt(v)
	}
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		n = json.Number(s)
	}
	if v, err := n.Float64(); err == nil {
		*f = flexFloat(v)
	}
	return nil
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(n.String())
	}
	return nil
}
