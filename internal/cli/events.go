package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smart-protocol/smart/internal/eventlog"
)

func newReceiptCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <id>",
		Short: "Show the receipt of an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			r, err := opts.client.Receipt(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.printReceipt(c.OutOrStdout(), r)
		},
	}
}

func newEventsCommand(opts *RootOptions) *cobra.Command {
	var f eventlog.Filter
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List committed events from the node's event log",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, cancel := opts.context()
			defer cancel()
			records, err := opts.client.Events(ctx, f)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return printJSON(c.OutOrStdout(), records)
			}
			for _, r := range records {
				fmt.Fprintf(c.OutOrStdout(), "%6d  t=%d  %-18s %s\n", r.Seq, r.Timepoint, r.Name, r.Data)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "only events with this name")
	cmd.Flags().Int64Var(&f.AfterSeq, "after", 0, "only events after this sequence number")
	cmd.Flags().Uint64Var(&f.Since, "since", 0, "only events at or after this timepoint")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum number of events")
	return cmd
}
