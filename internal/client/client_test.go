package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-protocol/smart/config"
	"github.com/smart-protocol/smart/internal/eventlog"
	"github.com/smart-protocol/smart/internal/node"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	holder   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	funder   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	engineID = common.HexToAddress("0x00000000000000000000000000000000000000e0")
)

func startNode(t *testing.T) (*Client, *state.ManualClock) {
	t.Helper()
	cfg := config.Default()
	cfg.EventLogPath = filepath.Join(t.TempDir(), "events.db")
	cfg.Roles = map[string][]string{
		"mint":            {admin.Hex()},
		"freeze":          {admin.Hex()},
		"forced_transfer": {admin.Hex()},
		"yield_admin":     {admin.Hex()},
	}
	cfg.Yield = &config.YieldConfig{
		StartOffset: 10,
		Duration:    20,
		Interval:    10,
		RateBps:     500,
		Address:     engineID.Hex(),
	}

	clock := state.NewManualClock(5_000)
	n, err := node.New(cfg, node.Options{
		Clock: clock,
		Genesis: &node.Genesis{
			Admin:       admin,
			Allocations: []node.Allocation{{Address: holder, Amount: "2000"}},
			Payment:     []node.Allocation{{Address: funder, Amount: "500"}},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })

	srv := httptest.NewServer(n.Router())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", config.NetworkConfig{}), clock
}

func TestClient_LedgerAndCustody(t *testing.T) {
	c, clock := startNode(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))
	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BOND", info.Symbol)
	assert.True(t, info.Yield)

	_, err = c.FreezePartial(ctx, protocol.PartialFreezeRequest{Caller: admin, Account: holder, Amount: "1500"})
	require.NoError(t, err)

	_, err = c.Transfer(ctx, protocol.TransferRequest{From: holder, To: other, Amount: "600"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "state", apiErr.Kind)
	require.NotEmpty(t, apiErr.Receipt)

	failed, err := c.Receipt(ctx, apiErr.Receipt)
	require.NoError(t, err)
	assert.Equal(t, "failed", failed.Status)
	assert.Equal(t, "transfer", failed.Operation)

	receipt, err := c.ForcedTransfer(ctx, protocol.ForcedTransferRequest{Caller: admin, From: holder, To: other, Amount: "600"})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.Events)

	var unfrozen protocol.TokensUnfrozen
	for _, ev := range receipt.Events {
		if ev.Name == "TokensUnfrozen" {
			require.NoError(t, json.Unmarshal(ev.Data, &unfrozen))
		}
	}
	assert.Equal(t, "100", unfrozen.Amount.Dec())

	view, err := c.Account(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, "1400", view.Balance)
	assert.Equal(t, "1400", view.Frozen)

	supply, err := c.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2000", supply)

	clock.Advance(1)
	history, err := c.Checkpoints(ctx, holder.Hex())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "1400", history[0].Value.Dec())

	cp, err := c.CheckpointAt(ctx, "supply", 5_000)
	require.NoError(t, err)
	assert.Equal(t, "2000", cp.Value.Dec())

	records, err := c.Events(ctx, eventlog.Filter{Name: "TokensUnfrozen"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestClient_Yield(t *testing.T) {
	c, clock := startNode(t)
	ctx := context.Background()

	_, err := c.Approve(ctx, protocol.ApproveRequest{Owner: funder, Spender: engineID, Amount: "500"})
	require.NoError(t, err)
	_, err = c.TopUp(ctx, protocol.TopUpRequest{From: funder, Amount: "500"})
	require.NoError(t, err)

	clock.Set(5_000 + 10 + 20 + 1)
	acc, err := c.Accrual(ctx, holder)
	require.NoError(t, err)
	// 2000 * 500 / 10000 per period, two periods
	assert.Equal(t, "200", acc.Completed.Dec())

	receipt, err := c.Claim(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, "200", receipt.Result)

	balance, err := c.AssetBalance(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, "200", balance)

	_, err = c.Pause(ctx, admin)
	require.NoError(t, err)
	_, err = c.Claim(ctx, holder)
	require.Error(t, err)
	_, err = c.Unpause(ctx, admin)
	require.NoError(t, err)

	receipt, err = c.WithdrawAll(ctx, admin, funder)
	require.NoError(t, err)
	assert.Equal(t, "300", receipt.Result)

	status, err := c.YieldStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", status.Reserve)
	assert.Equal(t, "200", status.TotalClaimed)
	assert.Equal(t, []uint64{5_020, 5_030}, status.Periods)
}
