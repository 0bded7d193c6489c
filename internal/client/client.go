// Package client talks to a node over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smart-protocol/smart/config"
	"github.com/smart-protocol/smart/internal/checkpoint"
	"github.com/smart-protocol/smart/internal/eventlog"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/yield"
)

const defaultTimeout = 10 * time.Second

// RawEvent is a committed event with its payload left undecoded
type RawEvent struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Topic     common.Hash     `json:"topic"`
	Timepoint uint64          `json:"timepoint"`
	Data      json.RawMessage `json:"data"`
}

// Receipt is the outcome of an operation as reported by the node
type Receipt struct {
	ID        string     `json:"id"`
	Operation string     `json:"operation"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	Timepoint uint64     `json:"timepoint"`
	Result    string     `json:"result,omitempty"`
	Events    []RawEvent `json:"events"`
}

// APIError is a non-2xx response
type APIError struct {
	Status  int
	Kind    string
	Message string
	Receipt string
}

func (e *APIError) Error() string {
	if e.Receipt != "" {
		return fmt.Sprintf("%s (%s, receipt %s)", e.Message, e.Kind, e.Receipt)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the node at baseURL
func New(baseURL string, network config.NetworkConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewHTTPClient(network, defaultTimeout),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e protocol.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return &APIError{Status: resp.StatusCode, Kind: "unknown", Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Kind: e.Kind, Message: e.Error, Receipt: e.Receipt}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) submit(ctx context.Context, path string, body any) (*Receipt, error) {
	var r Receipt
	if err := c.do(ctx, http.MethodPost, path, body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func get[T any](ctx context.Context, c *Client, path string) (*T, error) {
	var v T
	if err := c.do(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Reads

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Info(ctx context.Context) (*protocol.NodeInfo, error) {
	return get[protocol.NodeInfo](ctx, c, "/info")
}

func (c *Client) Account(ctx context.Context, addr common.Address) (*protocol.AccountView, error) {
	return get[protocol.AccountView](ctx, c, "/accounts/"+addr.Hex())
}

func (c *Client) TotalSupply(ctx context.Context) (string, error) {
	m, err := get[map[string]string](ctx, c, "/supply")
	if err != nil {
		return "", err
	}
	return (*m)["total_supply"], nil
}

// Checkpoints returns the history of subject, which is an address or "supply"
func (c *Client) Checkpoints(ctx context.Context, subject string) ([]checkpoint.Checkpoint, error) {
	h, err := get[[]checkpoint.Checkpoint](ctx, c, "/checkpoints/"+subject)
	if err != nil {
		return nil, err
	}
	return *h, nil
}

// CheckpointAt returns the value of subject at a past timepoint
func (c *Client) CheckpointAt(ctx context.Context, subject string, t uint64) (*checkpoint.Checkpoint, error) {
	return get[checkpoint.Checkpoint](ctx, c, "/checkpoints/"+subject+"?at="+strconv.FormatUint(t, 10))
}

func (c *Client) YieldStatus(ctx context.Context) (*protocol.YieldStatus, error) {
	return get[protocol.YieldStatus](ctx, c, "/yield")
}

func (c *Client) Accrual(ctx context.Context, holder common.Address) (*yield.Accrual, error) {
	return get[yield.Accrual](ctx, c, "/yield/accrual/"+holder.Hex())
}

func (c *Client) AssetBalance(ctx context.Context, addr common.Address) (string, error) {
	m, err := get[map[string]string](ctx, c, "/asset/balance/"+addr.Hex())
	if err != nil {
		return "", err
	}
	return (*m)["balance"], nil
}

func (c *Client) Receipt(ctx context.Context, id string) (*Receipt, error) {
	return get[Receipt](ctx, c, "/receipts/"+url.PathEscape(id))
}

// Events pages through the node's event log
func (c *Client) Events(ctx context.Context, f eventlog.Filter) ([]eventlog.Record, error) {
	q := url.Values{}
	if f.Name != "" {
		q.Set("name", f.Name)
	}
	if f.AfterSeq > 0 {
		q.Set("after", strconv.FormatInt(f.AfterSeq, 10))
	}
	if f.Since > 0 {
		q.Set("since", strconv.FormatUint(f.Since, 10))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	records, err := get[[]eventlog.Record](ctx, c, path)
	if err != nil {
		return nil, err
	}
	return *records, nil
}

// Base ledger

func (c *Client) Mint(ctx context.Context, req protocol.MintRequest) (*Receipt, error) {
	return c.submit(ctx, "/mint", req)
}

func (c *Client) Burn(ctx context.Context, req protocol.MintRequest) (*Receipt, error) {
	return c.submit(ctx, "/burn", req)
}

func (c *Client) Transfer(ctx context.Context, req protocol.TransferRequest) (*Receipt, error) {
	return c.submit(ctx, "/transfer", req)
}

func (c *Client) Redeem(ctx context.Context, req protocol.RedeemRequest) (*Receipt, error) {
	return c.submit(ctx, "/redeem", req)
}

// Custody

func (c *Client) SetAddressFrozen(ctx context.Context, req protocol.FreezeRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/freeze", req)
}

func (c *Client) FreezePartial(ctx context.Context, req protocol.PartialFreezeRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/freeze-partial", req)
}

func (c *Client) UnfreezePartial(ctx context.Context, req protocol.PartialFreezeRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/unfreeze-partial", req)
}

func (c *Client) BatchSetAddressFrozen(ctx context.Context, req protocol.BatchFreezeRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/batch-freeze", req)
}

func (c *Client) BatchFreezePartial(ctx context.Context, req protocol.BatchPartialFreezeRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/batch-freeze-partial", req)
}

func (c *Client) BatchUnfreezePartial(ctx context.Context, req protocol.BatchPartialFreezeRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/batch-unfreeze-partial", req)
}

func (c *Client) ForcedTransfer(ctx context.Context, req protocol.ForcedTransferRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/forced-transfer", req)
}

func (c *Client) BatchForcedTransfer(ctx context.Context, req protocol.BatchForcedTransferRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/batch-forced-transfer", req)
}

func (c *Client) Recover(ctx context.Context, req protocol.RecoveryRequest) (*Receipt, error) {
	return c.submit(ctx, "/custody/recover", req)
}

// Yield

func (c *Client) Claim(ctx context.Context, holder common.Address) (*Receipt, error) {
	return c.submit(ctx, "/yield/claim", protocol.ClaimRequest{Holder: holder})
}

func (c *Client) TopUp(ctx context.Context, req protocol.TopUpRequest) (*Receipt, error) {
	return c.submit(ctx, "/yield/topup", req)
}

func (c *Client) Withdraw(ctx context.Context, req protocol.WithdrawRequest) (*Receipt, error) {
	return c.submit(ctx, "/yield/withdraw", req)
}

func (c *Client) WithdrawAll(ctx context.Context, caller, to common.Address) (*Receipt, error) {
	return c.submit(ctx, "/yield/withdraw-all", protocol.WithdrawRequest{Caller: caller, To: to})
}

func (c *Client) Pause(ctx context.Context, caller common.Address) (*Receipt, error) {
	return c.submit(ctx, "/yield/pause", protocol.PauseRequest{Caller: caller})
}

func (c *Client) Unpause(ctx context.Context, caller common.Address) (*Receipt, error) {
	return c.submit(ctx, "/yield/unpause", protocol.PauseRequest{Caller: caller})
}

// Payment asset

func (c *Client) Faucet(ctx context.Context, req protocol.FaucetRequest) (*Receipt, error) {
	return c.submit(ctx, "/asset/faucet", req)
}

func (c *Client) Approve(ctx context.Context, req protocol.ApproveRequest) (*Receipt, error) {
	return c.submit(ctx, "/asset/approve", req)
}
