package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smart-protocol/smart/internal/client"
	"github.com/smart-protocol/smart/internal/protocol"
)

func newCustodyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "custody",
		Short: "Freeze, force-transfer and recover tokens (requires --caller)",
	}

	setFrozen := func(use, short string, frozen bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <address>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
					caller, err := opts.caller()
					if err != nil {
						return nil, err
					}
					account, err := parseAddress(args[0])
					if err != nil {
						return nil, err
					}
					return opts.client.SetAddressFrozen(ctx, protocol.FreezeRequest{Caller: caller, Account: account, Frozen: frozen})
				})
			},
		}
	}

	partial := func(use, short string, send func(context.Context, protocol.PartialFreezeRequest) (*client.Receipt, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <address> <amount>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(c *cobra.Command, args []string) error {
				return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
					caller, err := opts.caller()
					if err != nil {
						return nil, err
					}
					account, err := parseAddress(args[0])
					if err != nil {
						return nil, err
					}
					amount, err := opts.tokenAmount(ctx, args[1])
					if err != nil {
						return nil, err
					}
					return send(ctx, protocol.PartialFreezeRequest{Caller: caller, Account: account, Amount: amount})
				})
			},
		}
	}

	batchPartial := func(use, short string, send func(context.Context, protocol.BatchPartialFreezeRequest) (*client.Receipt, error)) *cobra.Command {
		var accounts, amounts string
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
					caller, err := opts.caller()
					if err != nil {
						return nil, err
					}
					addrs, err := parseAddresses(accounts)
					if err != nil {
						return nil, err
					}
					values, err := opts.tokenAmounts(ctx, amounts)
					if err != nil {
						return nil, err
					}
					return send(ctx, protocol.BatchPartialFreezeRequest{Caller: caller, Accounts: addrs, Amounts: values})
				})
			},
		}
		c.Flags().StringVar(&accounts, "accounts", "", "comma separated addresses")
		c.Flags().StringVar(&amounts, "amounts", "", "comma separated amounts")
		return c
	}

	var batchAccounts, batchFrozen string
	batchFreeze := &cobra.Command{
		Use:   "batch-freeze",
		Short: "Set or clear the full freeze of several accounts at once",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				caller, err := opts.caller()
				if err != nil {
					return nil, err
				}
				addrs, err := parseAddresses(batchAccounts)
				if err != nil {
					return nil, err
				}
				var frozen []bool
				for _, s := range splitList(batchFrozen) {
					b, err := strconv.ParseBool(s)
					if err != nil {
						return nil, fmt.Errorf("invalid frozen flag %q", s)
					}
					frozen = append(frozen, b)
				}
				return opts.client.BatchSetAddressFrozen(ctx, protocol.BatchFreezeRequest{Caller: caller, Accounts: addrs, Frozen: frozen})
			})
		},
	}
	batchFreeze.Flags().StringVar(&batchAccounts, "accounts", "", "comma separated addresses")
	batchFreeze.Flags().StringVar(&batchFrozen, "frozen", "", "comma separated true/false flags")

	forced := &cobra.Command{
		Use:   "forced-transfer <from> <to> <amount>",
		Short: "Move tokens regardless of freezes, unfreezing what the available balance cannot cover",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				caller, err := opts.caller()
				if err != nil {
					return nil, err
				}
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
				return opts.client.ForcedTransfer(ctx, protocol.ForcedTransferRequest{Caller: caller, From: from, To: to, Amount: amount})
			})
		},
	}

	var batchFrom, batchTo, batchAmounts string
	batchForced := &cobra.Command{
		Use:   "batch-forced-transfer",
		Short: "Run several forced transfers atomically",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				caller, err := opts.caller()
				if err != nil {
					return nil, err
				}
				from, err := parseAddresses(batchFrom)
				if err != nil {
					return nil, err
				}
				to, err := parseAddresses(batchTo)
				if err != nil {
					return nil, err
				}
				amounts, err := opts.tokenAmounts(ctx, batchAmounts)
				if err != nil {
					return nil, err
				}
				return opts.client.BatchForcedTransfer(ctx, protocol.BatchForcedTransferRequest{Caller: caller, From: from, To: to, Amounts: amounts})
			})
		},
	}
	batchForced.Flags().StringVar(&batchFrom, "from", "", "comma separated senders")
	batchForced.Flags().StringVar(&batchTo, "to", "", "comma separated recipients")
	batchForced.Flags().StringVar(&batchAmounts, "amounts", "", "comma separated amounts")

	recoverTokens := &cobra.Command{
		Use:   "recover <lost-wallet> <new-wallet>",
		Short: "Move the balance and freeze state of a lost wallet to a new wallet of the same identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return opts.submit(c, func(ctx context.Context) (*client.Receipt, error) {
				caller, err := opts.caller()
				if err != nil {
					return nil, err
				}
				lost, err := parseAddress(args[0])
				if err != nil {
					return nil, err
				}
				wallet, err := parseAddress(args[1])
				if err != nil {
					return nil, err
				}
				return opts.client.Recover(ctx, protocol.RecoveryRequest{Caller: caller, LostWallet: lost, NewWallet: wallet})
			})
		},
	}

	cmd.AddCommand(
		setFrozen("freeze", "Freeze an account entirely", true),
		setFrozen("unfreeze", "Lift the full freeze of an account", false),
		partial("freeze-partial", "Freeze part of an account's balance", opts.clientFreezePartial),
		partial("unfreeze-partial", "Release part of an account's frozen balance", opts.clientUnfreezePartial),
		batchFreeze,
		batchPartial("batch-freeze-partial", "Freeze parts of several balances atomically", opts.clientBatchFreezePartial),
		batchPartial("batch-unfreeze-partial", "Release parts of several frozen balances atomically", opts.clientBatchUnfreezePartial),
		forced,
		batchForced,
		recoverTokens,
	)
	return cmd
}

// The client is only created in PersistentPreRunE, so these resolve it late.

func (o *RootOptions) clientFreezePartial(ctx context.Context, req protocol.PartialFreezeRequest) (*client.Receipt, error) {
	return o.client.FreezePartial(ctx, req)
}

func (o *RootOptions) clientUnfreezePartial(ctx context.Context, req protocol.PartialFreezeRequest) (*client.Receipt, error) {
	return o.client.UnfreezePartial(ctx, req)
}

func (o *RootOptions) clientBatchFreezePartial(ctx context.Context, req protocol.BatchPartialFreezeRequest) (*client.Receipt, error) {
	return o.client.BatchFreezePartial(ctx, req)
}

func (o *RootOptions) clientBatchUnfreezePartial(ctx context.Context, req protocol.BatchPartialFreezeRequest) (*client.Receipt, error) {
	return o.client.BatchUnfreezePartial(ctx, req)
}
