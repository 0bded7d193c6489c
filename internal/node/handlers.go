package node

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/internal/checkpoint"
	"github.com/smart-protocol/smart/internal/eventlog"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/yield"
)

func (n *Node) setupRoutes() {
	n.router.Use(n.metrics.Middleware)

	// Base ledger
	n.router.HandleFunc("/accounts/{address}", n.handleGetAccount).Methods("GET")
	n.router.HandleFunc("/supply", n.handleGetSupply).Methods("GET")
	n.router.HandleFunc("/mint", n.handleMint).Methods("POST")
	n.router.HandleFunc("/burn", n.handleBurn).Methods("POST")
	n.router.HandleFunc("/transfer", n.handleTransfer).Methods("POST")
	n.router.HandleFunc("/redeem", n.handleRedeem).Methods("POST")

	// Custody
	n.router.HandleFunc("/custody/freeze", n.handleFreeze).Methods("POST")
	n.router.HandleFunc("/custody/freeze-partial", n.handleFreezePartial).Methods("POST")
	n.router.HandleFunc("/custody/unfreeze-partial", n.handleUnfreezePartial).Methods("POST")
	n.router.HandleFunc("/custody/batch-freeze", n.handleBatchFreeze).Methods("POST")
	n.router.HandleFunc("/custody/batch-freeze-partial", n.handleBatchFreezePartial).Methods("POST")
	n.router.HandleFunc("/custody/batch-unfreeze-partial", n.handleBatchUnfreezePartial).Methods("POST")
	n.router.HandleFunc("/custody/forced-transfer", n.handleForcedTransfer).Methods("POST")
	n.router.HandleFunc("/custody/batch-forced-transfer", n.handleBatchForcedTransfer).Methods("POST")
	n.router.HandleFunc("/custody/recover", n.handleRecover).Methods("POST")

	// Checkpoints
	n.router.HandleFunc("/checkpoints/{subject}", n.handleGetCheckpoints).Methods("GET")

	// Yield
	n.router.HandleFunc("/yield", n.handleYieldStatus).Methods("GET")
	n.router.HandleFunc("/yield/accrual/{holder}", n.handleYieldAccrual).Methods("GET")
	n.router.HandleFunc("/yield/claim", n.handleClaim).Methods("POST")
	n.router.HandleFunc("/yield/topup", n.handleTopUp).Methods("POST")
	n.router.HandleFunc("/yield/withdraw", n.handleWithdraw).Methods("POST")
	n.router.HandleFunc("/yield/withdraw-all", n.handleWithdrawAll).Methods("POST")
	n.router.HandleFunc("/yield/pause", n.handlePause).Methods("POST")
	n.router.HandleFunc("/yield/unpause", n.handleUnpause).Methods("POST")

	// Payment asset
	n.router.HandleFunc("/asset/faucet", n.handleFaucet).Methods("POST")
	n.router.HandleFunc("/asset/approve", n.handleApprove).Methods("POST")
	n.router.HandleFunc("/asset/balance/{address}", n.handleAssetBalance).Methods("GET")

	// Receipts and events
	n.router.HandleFunc("/receipts/{id}", n.handleGetReceipt).Methods("GET")
	n.router.HandleFunc("/events", n.handleListEvents).Methods("GET")
	n.router.Handle("/events/ws", n.hub).Methods("GET")

	// Operations
	n.router.Handle("/metrics", n.metrics.Handler()).Methods("GET")
	n.router.HandleFunc("/health", n.handleHealth).Methods("GET")
	n.router.HandleFunc("/info", n.handleInfo).Methods("GET")
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch protocol.KindOf(err) {
	case protocol.KindValidation:
		return http.StatusBadRequest
	case protocol.KindState:
		return http.StatusConflict
	case protocol.KindAuthorization:
		return http.StatusForbidden
	case protocol.KindResource:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, receipt *Receipt) {
	resp := protocol.ErrorResponse{Error: err.Error(), Kind: protocol.KindOf(err).String()}
	if receipt != nil {
		resp.Receipt = receipt.ID
	}
	writeJSON(w, statusFor(err), resp)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrMalformedRequest, err)
	}
	return nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	s := mux.Vars(r)[name]
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not an address", protocol.ErrMalformedRequest, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmounts(in []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(in))
	for i, s := range in {
		v, err := protocol.ParseAmount(s)
		if err != nil {
			return nil, fmt.Errorf("amount %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// submit decodes req, runs op and writes the receipt
func submit[T any](n *Node, w http.ResponseWriter, r *http.Request, op string, fn func(req *T) (string, error)) {
	var req T
	if err := decode(r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	receipt, err := n.execute(op, func() (string, error) { return fn(&req) })
	if err != nil {
		writeError(w, err, receipt)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (n *Node) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err, nil)
		return
	}

	var view protocol.AccountView
	n.view(func() error {
		st := n.custodian.State(addr)
		view = protocol.AccountView{
			Address:     addr,
			Balance:     n.token.BalanceOf(addr).Dec(),
			Frozen:      st.FrozenAmount.Dec(),
			Available:   n.custodian.AvailableBalance(addr).Dec(),
			FullyFrozen: st.FullyFrozen,
			Lost:        n.custodian.IsLost(addr),
		}
		if n.engine != nil {
			view.LastClaimed = n.engine.LastClaimedPeriod(addr)
			if accrued, err := n.engine.CalculateAccruedYield(addr); err == nil {
				view.AccruedYield = accrued.Dec()
			}
		}
		return nil
	})
	writeJSON(w, http.StatusOK, view)
}

func (n *Node) handleGetSupply(w http.ResponseWriter, r *http.Request) {
	var supply string
	n.view(func() error {
		supply = n.token.TotalSupply().Dec()
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]string{"total_supply": supply})
}

func (n *Node) handleMint(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "mint", func(req *protocol.MintRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.token.Mint(req.Caller, req.Account, amount)
	})
}

func (n *Node) handleBurn(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "burn", func(req *protocol.MintRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.token.Burn(req.Caller, req.Account, amount)
	})
}

func (n *Node) handleTransfer(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "transfer", func(req *protocol.TransferRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.token.Transfer(req.From, req.To, amount)
	})
}

func (n *Node) handleRedeem(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "redeem", func(req *protocol.RedeemRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.token.Redeem(req.Holder, amount)
	})
}

// Custody handlers

func (n *Node) handleFreeze(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "freeze", func(req *protocol.FreezeRequest) (string, error) {
		return "", n.custodian.SetAddressFrozen(req.Caller, req.Account, req.Frozen)
	})
}

func (n *Node) handleFreezePartial(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "freeze_partial", func(req *protocol.PartialFreezeRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.custodian.FreezePartialTokens(req.Caller, req.Account, amount)
	})
}

func (n *Node) handleUnfreezePartial(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "unfreeze_partial", func(req *protocol.PartialFreezeRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.custodian.UnfreezePartialTokens(req.Caller, req.Account, amount)
	})
}

func (n *Node) handleBatchFreeze(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "batch_freeze", func(req *protocol.BatchFreezeRequest) (string, error) {
		return "", n.custodian.BatchSetAddressFrozen(req.Caller, req.Accounts, req.Frozen)
	})
}

func (n *Node) handleBatchFreezePartial(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "batch_freeze_partial", func(req *protocol.BatchPartialFreezeRequest) (string, error) {
		amounts, err := parseAmounts(req.Amounts)
		if err != nil {
			return "", err
		}
		return "", n.custodian.BatchFreezePartialTokens(req.Caller, req.Accounts, amounts)
	})
}

func (n *Node) handleBatchUnfreezePartial(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "batch_unfreeze_partial", func(req *protocol.BatchPartialFreezeRequest) (string, error) {
		amounts, err := parseAmounts(req.Amounts)
		if err != nil {
			return "", err
		}
		return "", n.custodian.BatchUnfreezePartialTokens(req.Caller, req.Accounts, amounts)
	})
}

func (n *Node) handleForcedTransfer(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "forced_transfer", func(req *protocol.ForcedTransferRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.custodian.ForcedTransfer(req.Caller, req.From, req.To, amount)
	})
}

func (n *Node) handleBatchForcedTransfer(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "batch_forced_transfer", func(req *protocol.BatchForcedTransferRequest) (string, error) {
		amounts, err := parseAmounts(req.Amounts)
		if err != nil {
			return "", err
		}
		return "", n.custodian.BatchForcedTransfer(req.Caller, req.From, req.To, amounts)
	})
}

func (n *Node) handleRecover(w http.ResponseWriter, r *http.Request) {
	submit(n, w, r, "recover", func(req *protocol.RecoveryRequest) (string, error) {
		return "", n.custodian.RecoverTokens(req.Caller, req.LostWallet, req.NewWallet)
	})
}

// handleGetCheckpoints returns the value at ?at=T, or the whole history
func (n *Node) handleGetCheckpoints(w http.ResponseWriter, r *http.Request) {
	subject := protocol.TotalSupplySubject
	if s := mux.Vars(r)["subject"]; s != "supply" {
		addr, err := pathAddress(r, "subject")
		if err != nil {
			writeError(w, err, nil)
			return
		}
		subject = addr
	}

	if at := r.URL.Query().Get("at"); at != "" {
		t, err := strconv.ParseUint(at, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: at=%q", protocol.ErrMalformedRequest, at), nil)
			return
		}
		var value *uint256.Int
		err = n.view(func() error {
			var verr error
			value, verr = n.store.ValueAt(subject, t)
			return verr
		})
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, checkpoint.Checkpoint{Timepoint: t, Value: value})
		return
	}

	var history []checkpoint.Checkpoint
	err := n.view(func() error {
		var herr error
		history, herr = n.store.Checkpoints(subject)
		return herr
	})
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// Yield handlers

var errNoYield = fmt.Errorf("%w: no yield schedule configured", protocol.ErrNotActive)

func (n *Node) handleYieldStatus(w http.ResponseWriter, r *http.Request) {
	if n.engine == nil {
		writeError(w, errNoYield, nil)
		return
	}

	var status protocol.YieldStatus
	err := n.view(func() error {
		s := n.engine.Schedule()
		now := n.clock.Now()
		unclaimed, err := n.engine.TotalUnclaimedYield()
		if err != nil {
			return err
		}
		next, err := n.engine.TotalYieldForNextPeriod()
		if err != nil {
			return err
		}
		status = protocol.YieldStatus{
			Address:             n.engine.Address(),
			Start:               s.Start(),
			End:                 s.End(),
			Interval:            s.Interval(),
			RateBps:             s.RateBps(),
			Periods:             s.AllPeriods(),
			Now:                 now,
			CurrentPeriod:       s.CurrentPeriod(now),
			LastCompletedPeriod: s.LastCompletedPeriod(now),
			LastSettledPeriod:   s.LastSettledPeriod(now),
			TimeUntilNextPeriod: s.TimeUntilNextPeriod(now),
			Paused:              n.engine.Paused(),
			Reserve:             n.engine.Reserve().Dec(),
			TotalClaimed:        n.engine.TotalClaimed().Dec(),
			TotalUnclaimed:      unclaimed.Dec(),
			NextPeriodYield:     next.Dec(),
		}
		return nil
	})
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (n *Node) handleYieldAccrual(w http.ResponseWriter, r *http.Request) {
	if n.engine == nil {
		writeError(w, errNoYield, nil)
		return
	}
	holder, err := pathAddress(r, "holder")
	if err != nil {
		writeError(w, err, nil)
		return
	}

	var acc *yield.Accrual
	err = n.view(func() error {
		var aerr error
		acc, aerr = n.engine.Accrual(holder)
		return aerr
	})
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// yieldOp is submit for operations that need the yield engine
func yieldOp[T any](n *Node, w http.ResponseWriter, r *http.Request, op string, fn func(req *T) (string, error)) {
	if n.engine == nil {
		writeError(w, errNoYield, nil)
		return
	}
	submit(n, w, r, op, fn)
}

func (n *Node) handleClaim(w http.ResponseWriter, r *http.Request) {
	yieldOp(n, w, r, "claim_yield", func(req *protocol.ClaimRequest) (string, error) {
		paid, err := n.engine.ClaimYield(req.Holder)
		if err != nil {
			return "", err
		}
		return paid.Dec(), nil
	})
}

func (n *Node) handleTopUp(w http.ResponseWriter, r *http.Request) {
	yieldOp(n, w, r, "top_up", func(req *protocol.TopUpRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.engine.TopUp(req.From, amount)
	})
}

func (n *Node) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	yieldOp(n, w, r, "withdraw", func(req *protocol.WithdrawRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.engine.Withdraw(req.Caller, req.To, amount)
	})
}

func (n *Node) handleWithdrawAll(w http.ResponseWriter, r *http.Request) {
	yieldOp(n, w, r, "withdraw_all", func(req *protocol.WithdrawRequest) (string, error) {
		amount, err := n.engine.WithdrawAll(req.Caller, req.To)
		if err != nil {
			return "", err
		}
		return amount.Dec(), nil
	})
}

func (n *Node) handlePause(w http.ResponseWriter, r *http.Request) {
	yieldOp(n, w, r, "pause", func(req *protocol.PauseRequest) (string, error) {
		return "", n.engine.Pause(req.Caller)
	})
}

func (n *Node) handleUnpause(w http.ResponseWriter, r *http.Request) {
	yieldOp(n, w, r, "unpause", func(req *protocol.PauseRequest) (string, error) {
		return "", n.engine.Unpause(req.Caller)
	})
}

// Payment asset handlers

func (n *Node) handleFaucet(w http.ResponseWriter, r *http.Request) {
	yieldOp(n, w, r, "faucet", func(req *protocol.FaucetRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.asset.Mint(req.Address, amount)
	})
}

func (n *Node) handleApprove(w http.ResponseWriter, r *http.Request) {
	yieldOp(n, w, r, "approve", func(req *protocol.ApproveRequest) (string, error) {
		amount, err := protocol.ParseAmount(req.Amount)
		if err != nil {
			return "", err
		}
		return "", n.asset.Approve(req.Owner, req.Spender, amount)
	})
}

func (n *Node) handleAssetBalance(w http.ResponseWriter, r *http.Request) {
	if n.asset == nil {
		writeError(w, errNoYield, nil)
		return
	}
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, err, nil)
		return
	}
	var balance string
	n.view(func() error {
		balance = n.asset.BalanceOf(addr).Dec()
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"asset":   n.asset.Symbol(),
		"balance": balance,
	})
}

func (n *Node) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt := n.receipts.GetReceipt(mux.Vars(r)["id"])
	if receipt == nil {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "receipt not found", Kind: protocol.KindUnknown.String()})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleListEvents pages through the event log: ?name=&after=&since=&limit=
func (n *Node) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if n.events == nil {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "event log disabled", Kind: protocol.KindUnknown.String()})
		return
	}

	q := r.URL.Query()
	f := eventlog.Filter{Name: q.Get("name"), Limit: 100}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: after=%q", protocol.ErrMalformedRequest, v), nil)
			return
		}
		f.AfterSeq = after
	}
	if v := q.Get("since"); v != "" {
		since, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: since=%q", protocol.ErrMalformedRequest, v), nil)
			return
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, fmt.Errorf("%w: limit=%q", protocol.ErrMalformedRequest, v), nil)
			return
		}
		f.Limit = limit
	}

	records, err := n.events.List(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: err.Error(), Kind: protocol.KindUnknown.String()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (n *Node) handleInfo(w http.ResponseWriter, r *http.Request) {
	var info protocol.NodeInfo
	n.view(func() error {
		info = protocol.NodeInfo{
			Name:        n.token.Name(),
			Symbol:      n.token.Symbol(),
			Decimals:    n.token.Decimals(),
			TotalSupply: n.token.TotalSupply().Dec(),
			Holders:     len(n.token.Holders()),
			Extensions:  n.token.ExtensionNames(),
			Now:         n.clock.Now(),
			Yield:       n.engine != nil,
		}
		return nil
	})
	writeJSON(w, http.StatusOK, info)
}
