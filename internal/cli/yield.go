package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smart-protocol/smart/internal/client"
	"github.com/smart-protocol/smart/internal/protocol"
)

func newYieldCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yield",
		Short: "Inspect and operate the fixed yield schedule",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schedule, its periods and the reserve",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			s, err := opts.client.YieldStatus(ctx)
			if err != nil {
				return err
			}
			d := opts.AssetDecimals
			u := func(v uint64) string { return strconv.FormatUint(v, 10) }
			return opts.printFields(c.OutOrStdout(), s, [][2]string{
				{"reserve address", s.Address.Hex()},
				{"window", u(s.Start) + " - " + u(s.End)},
				{"interval", u(s.Interval)},
				{"rate (bps)", u(s.RateBps)},
				{"periods", u(uint64(len(s.Periods)))},
				{"clock", u(s.Now)},
				{"current period", u(s.CurrentPeriod)},
				{"last completed", u(s.LastCompletedPeriod)},
				{"last settled", u(s.LastSettledPeriod)},
				{"next period in", u(s.TimeUntilNextPeriod)},
				{"paused", strconv.FormatBool(s.Paused)},
				{"reserve", FromBaseUnits(s.Reserve, d)},
				{"total claimed", FromBaseUnits(s.TotalClaimed, d)},
				{"total unclaimed", FromBaseUnits(s.TotalUnclaimed, d)},
				{"next period yield", FromBaseUnits(s.NextPeriodYield, d)},
			})
		},
	}

	accrual := &cobra.Command{
		Use:   "accrual <holder>",
		Short: "Show the claimable and pro-rata yield of a holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			holder, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context()
			defer cancel()
			a, err := opts.client.Accrual(ctx, holder)
			if err != nil {
				return err
			}
			d := opts.AssetDecimals
			return opts.printFields(c.OutOrStdout(), a, [][2]string{
				{"holder", a.Holder.Hex()},
				{"last claimed", strconv.FormatUint(a.LastClaimed, 10)},
				{"last completed", strconv.FormatUint(a.LastCompleted, 10)},
				{"last settled", strconv.FormatUint(a.LastSettled, 10)},
				{"claimable", FromBaseUnits(a.Completed.Dec(), d)},
				{"pro-rata", FromBaseUnits(a.ProRata.Dec(), d)},
				{"total", FromBaseUnits(a.Total.Dec(), d)},
			})
		},
	}

	claim := &cobra.Command{
		Use:   "claim <holder>",
		Short: "Pay a holder the yield of every settled period since its last claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				holder, err := parseAddress(args[0])
				if err != nil {
					return nil, err
				}
				return opts.client.Claim(ctx, holder)
			})
		},
	}

	topUp := &cobra.Command{
		Use:   "topup <from> <amount>",
		Short: "Move approved payment asset from an account into the reserve",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				from, err := parseAddress(args[0])
				if err != nil {
					return nil, err
				}
				amount, err := ToBaseUnits(args[1], opts.AssetDecimals)
				if err != nil {
					return nil, err
				}
				return opts.client.TopUp(ctx, protocol.TopUpRequest{From: from, Amount: amount})
			})
		},
	}

	withdraw := &cobra.Command{
		Use:   "withdraw <to> [amount]",
		Short: "Withdraw from the reserve, everything when no amount is given (requires --caller)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				caller, err := opts.caller()
				if err != nil {
					return nil, err
				}
				to, err := parseAddress(args[0])
				if err != nil {
					return nil, err
				}
				if len(args) == 1 {
					return opts.client.WithdrawAll(ctx, caller, to)
				}
				amount, err := ToBaseUnits(args[1], opts.AssetDecimals)
				if err != nil {
					return nil, err
				}
				return opts.client.Withdraw(ctx, protocol.WithdrawRequest{Caller: caller, To: to, Amount: amount})
			})
		},
	}

	pause := &cobra.Command{
		Use:   "pause",
		Short: "Stop claims and top-ups (requires --caller)",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				caller, err := opts.caller()
				if err != nil {
					return nil, err
				}
				return opts.client.Pause(ctx, caller)
			})
		},
	}

	unpause := &cobra.Command{
		Use:   "unpause",
		Short: "Resume claims and top-ups (requires --caller)",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				caller, err := opts.caller()
				if err != nil {
					return nil, err
				}
				return opts.client.Unpause(ctx, caller)
			})
		},
	}

	cmd.AddCommand(status, accrual, claim, topUp, withdraw, pause, unpause)
	return cmd
}

func newAssetCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Use the payment asset that funds yield",
	}

	balance := &cobra.Command{
		Use:   "balance <address>",
		Short: "Show a payment asset balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context()
			defer cancel()
			bal, err := opts.client.AssetBalance(ctx, addr)
			if err != nil {
				return err
			}
			return opts.printFields(c.OutOrStdout(), map[string]string{"address": addr.Hex(), "balance": bal}, [][2]string{
				{"address", addr.Hex()},
				{"balance", FromBaseUnits(bal, opts.AssetDecimals)},
			})
		},
	}

	faucet := &cobra.Command{
		Use:   "faucet <address> <amount>",
		Short: "Credit payment asset to an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				addr, err := parseAddress(args[0])
				if err != nil {
					return nil, err
				}
				amount, err := ToBaseUnits(args[1], opts.AssetDecimals)
				if err != nil {
					return nil, err
				}
				return opts.client.Faucet(ctx, protocol.FaucetRequest{Address: addr, Amount: amount})
			})
		},
	}

	approve := &cobra.Command{
		Use:   "approve <owner> <spender> <amount>",
		Short: "Let spender move payment asset on behalf of owner",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				owner, err := parseAddress(args[0])
				if err != nil {
					return nil, err
				}
				spender, err := parseAddress(args[1])
				if err != nil {
					return nil, err
				}
				amount, err := ToBaseUnits(args[2], opts.AssetDecimals)
				if err != nil {
					return nil, err
				}
				return opts.client.Approve(ctx, protocol.ApproveRequest{Owner: owner, Spender: spender, Amount: amount})
			})
		},
	}

	cmd.AddCommand(balance, faucet, approve)
	return cmd
}
