// Package cli implements smartctl, the command line client of a node.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/smart-protocol/smart/config"
	"github.com/smart-protocol/smart/internal/client"
)

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands
type RootOptions struct {
	Node          string
	Format        string
	Caller        string
	Raw           bool
	AssetDecimals int32
	Timeout       time.Duration
	Delay         bool

	client   *client.Client
	decimals int32
	resolved bool
}

// NewRootCommand creates the root command of smartctl
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "smartctl",
		Short: "Operate a SMART ledger node",
		Long: `Operate a SMART ledger node over its HTTP API.

Token amounts are given and shown in whole units using the token's
decimals, unless --raw is set. Payment asset amounts use --asset-decimals.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			network := config.NetworkConfig{}
			if opts.Delay {
				network = config.NetworkConfig{DelayEnabled: true, MinDelayMs: 10, MaxDelayMs: 100}
			}
			opts.client = client.New(opts.Node, network)
			return nil
		},
	}

	defaultNode := "http://localhost:8545"
	if env := os.Getenv("SMART_NODE"); env != "" {
		defaultNode = env
	}

	cmd.PersistentFlags().StringVar(&opts.Node, "node", defaultNode, "node URL (env SMART_NODE)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Caller, "caller", "", "address performing administrative operations")
	cmd.PersistentFlags().BoolVar(&opts.Raw, "raw", false, "token amounts are in base units")
	cmd.PersistentFlags().Int32Var(&opts.AssetDecimals, "asset-decimals", 0, "decimals of the payment asset")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVar(&opts.Delay, "simulate-latency", false, "add 10-100ms of latency to every request")

	cmd.AddCommand(newLedgerCommands(opts)...)
	cmd.AddCommand(newCustodyCommand(opts))
	cmd.AddCommand(newYieldCommand(opts))
	cmd.AddCommand(newAssetCommand(opts))
	cmd.AddCommand(newReceiptCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))

	return cmd
}

func (o *RootOptions) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.Timeout)
}

// tokenDecimals asks the node once for the token decimals
func (o *RootOptions) tokenDecimals(ctx context.Context) (int32, error) {
	if o.Raw {
		return 0, nil
	}
	if !o.resolved {
		info, err := o.client.Info(ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch token decimals: %w", err)
		}
		o.decimals = int32(info.Decimals)
		o.resolved = true
	}
	return o.decimals, nil
}

// tokenAmount converts a user amount to base units
func (o *RootOptions) tokenAmount(ctx context.Context, s string) (string, error) {
	decimals, err := o.tokenDecimals(ctx)
	if err != nil {
		return "", err
	}
	return ToBaseUnits(s, decimals)
}

func (o *RootOptions) tokenAmounts(ctx context.Context, list string) ([]string, error) {
	parts := splitList(list)
	out := make([]string, len(parts))
	for i, p := range parts {
		v, err := o.tokenAmount(ctx, p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (o *RootOptions) caller() (common.Address, error) {
	if o.Caller == "" {
		return common.Address{}, fmt.Errorf("--caller is required")
	}
	return parseAddress(o.Caller)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAddresses(list string) ([]common.Address, error) {
	parts := splitList(list)
	out := make([]common.Address, len(parts))
	for i, p := range parts {
		addr, err := parseAddress(p)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

func splitList(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
