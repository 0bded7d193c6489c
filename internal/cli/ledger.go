package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smart-protocol/smart/internal/client"
	"github.com/smart-protocol/smart/internal/protocol"
)

// submit runs one operation against the node and prints its receipt
func (o *RootOptions) submit(cmd *cobra.Command, fn func(ctx context.Context) (*client.Receipt, error)) error {
	ctx, cancel := o.context()
	defer cancel()
	r, err := fn(ctx)
	if err != nil {
		return err
	}
	return o.printReceipt(cmd.OutOrStdout(), r)
}

func newLedgerCommands(opts *RootOptions) []*cobra.Command {
	info := &cobra.Command{
		Use:   "info",
		Short: "Show token and node information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			info, err := opts.client.Info(ctx)
			if err != nil {
				return err
			}
			decimals := int32(info.Decimals)
			if opts.Raw {
				decimals = 0
			}
			return opts.printFields(cmd.OutOrStdout(), info, [][2]string{
				{"name", info.Name},
				{"symbol", info.Symbol},
				{"decimals", strconv.Itoa(int(info.Decimals))},
				{"total supply", FromBaseUnits(info.TotalSupply, decimals)},
				{"holders", strconv.Itoa(info.Holders)},
				{"extensions", fmt.Sprint(info.Extensions)},
				{"clock", strconv.FormatUint(info.Now, 10)},
				{"yield", strconv.FormatBool(info.Yield)},
			})
		},
	}

	balance := &cobra.Command{
		Use:   "balance <address>",
		Short: "Show the balance and custody state of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opts.context()
			defer cancel()
			view, err := opts.client.Account(ctx, addr)
			if err != nil {
				return err
			}
			decimals, err := opts.tokenDecimals(ctx)
			if err != nil {
				return err
			}
			fields := [][2]string{
				{"address", view.Address.Hex()},
				{"balance", FromBaseUnits(view.Balance, decimals)},
				{"frozen", FromBaseUnits(view.Frozen, decimals)},
				{"available", FromBaseUnits(view.Available, decimals)},
				{"fully frozen", strconv.FormatBool(view.FullyFrozen)},
				{"lost", strconv.FormatBool(view.Lost)},
			}
			if view.AccruedYield != "" {
				fields = append(fields,
					[2]string{"last claimed", strconv.FormatUint(view.LastClaimed, 10)},
					[2]string{"accrued yield", FromBaseUnits(view.AccruedYield, opts.AssetDecimals)})
			}
			return opts.printFields(cmd.OutOrStdout(), view, fields)
		},
	}

	supply := &cobra.Command{
		Use:   "supply",
		Short: "Show the total supply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			total, err := opts.client.TotalSupply(ctx)
			if err != nil {
				return err
			}
			decimals, err := opts.tokenDecimals(ctx)
			if err != nil {
				return err
			}
			return opts.printFields(cmd.OutOrStdout(), map[string]string{"total_supply": total}, [][2]string{
				{"total supply", FromBaseUnits(total, decimals)},
			})
		},
	}

	mint := &cobra.Command{
		Use:   "mint <to> <amount>",
		Short: "Mint tokens (requires --caller with the mint role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.submit(cmd, func(ctx context.Context) (*client.Receipt, error) {
				req, err := opts.mintRequest(ctx, args[0], args[1])
				if err != nil {
					return nil, err
				}
				return opts.client.Mint(ctx, req)
			})
		},
	}

	burn := &cobra.Command{
		Use:   "burn <from> <amount>",
		Short: "Burn available tokens of an account (requires --caller with the burn role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.submit(cmd, func(ctx context.Context) (*client.Receipt, error) {
				req, err := opts.mintRequest(ctx, args[0], args[1])
				if err != nil {
					return nil, err
				}
				return opts.client.Burn(ctx, req)
			})
		},
	}

	transfer := &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "Transfer tokens",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.submit(cmd, func(ctx context.Context) (*client.Receipt, error) {
				from, err := parseAddress(args[0])
				if err != nil {
					return nil, err
				}
				to, err := parseAddress(args[1])
				if err != nil {
					return nil, err
				}
				amount, err := opts.tokenAmount(ctx, args[2])
				if err != nil {
					return nil, err
				}
				return opts.client.Transfer(ctx, protocol.TransferRequest{From: from, To: to, Amount: amount})
			})
		},
	}

	redeem := &cobra.Command{
		Use:   "redeem <holder> <amount>",
		Short: "Redeem (burn) a holder's own tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.submit(cmd, func(ctx context.Context) (*client.Receipt, error) {
				holder, err := parseAddress(args[0])
				if err != nil {
					return nil, err
				}
				amount, err := opts.tokenAmount(ctx, args[1])
				if err != nil {
					return nil, err
				}
				return opts.client.Redeem(ctx, protocol.RedeemRequest{Holder: holder, Amount: amount})
			})
		},
	}

	var at uint64
	checkpoints := &cobra.Command{
		Use:   "checkpoints <address|supply>",
		Short: "Show the checkpoint history of an account or of the total supply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject := args[0]
			if subject != "supply" {
				if _, err := parseAddress(subject); err != nil {
					return err
				}
			}
			ctx, cancel := opts.context()
			defer cancel()
			decimals, err := opts.tokenDecimals(ctx)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("at") {
				cp, err := opts.client.CheckpointAt(ctx, subject, at)
				if err != nil {
					return err
				}
				return opts.printFields(cmd.OutOrStdout(), cp, [][2]string{
					{"timepoint", strconv.FormatUint(cp.Timepoint, 10)},
					{"value", FromBaseUnits(cp.Value.Dec(), decimals)},
				})
			}

			history, err := opts.client.Checkpoints(ctx, subject)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), history)
			}
			for _, cp := range history {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", cp.Timepoint, FromBaseUnits(cp.Value.Dec(), decimals))
			}
			return nil
		},
	}
	checkpoints.Flags().Uint64Var(&at, "at", 0, "value at a past timepoint instead of the history")

	return []*cobra.Command{info, balance, supply, mint, burn, transfer, redeem, checkpoints}
}

func (o *RootOptions) mintRequest(ctx context.Context, account, amount string) (protocol.MintRequest, error) {
	caller, err := o.caller()
	if err != nil {
		return protocol.MintRequest{}, err
	}
	addr, err := parseAddress(account)
	if err != nil {
		return protocol.MintRequest{}, err
	}
	base, err := o.tokenAmount(ctx, amount)
	if err != nil {
		return protocol.MintRequest{}, err
	}
	return protocol.MintRequest{Caller: caller, Account: addr, Amount: base}, nil
}
