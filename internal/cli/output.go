package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/smart-protocol/smart/internal/client"
)

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReceipt writes a receipt as JSON, or as one summary line followed
// by one line per event
func (o *RootOptions) printReceipt(w io.Writer, r *client.Receipt) error {
	if o.Format == "json" {
		return printJSON(w, r)
	}
	line := fmt.Sprintf("%s %s (receipt %s, t=%d)", r.Operation, r.Status, r.ID, r.Timepoint)
	if r.Result != "" {
		line += " result=" + r.Result
	}
	if r.Error != "" {
		line += fmt.Sprintf(" error=%q kind=%s", r.Error, r.Kind)
	}
	fmt.Fprintln(w, line)
	for _, ev := range r.Events {
		fmt.Fprintf(w, "  %-18s %s\n", ev.Name, ev.Data)
	}
	return nil
}

// printFields writes key/value pairs as aligned text, or v as JSON
func (o *RootOptions) printFields(w io.Writer, v any, fields [][2]string) error {
	if o.Format == "json" {
		return printJSON(w, v)
	}
	width := 0
	for _, f := range fields {
		width = max(width, len(f[0])+1)
	}
	for _, f := range fields {
		fmt.Fprintf(w, "%-*s  %s\n", width, f[0]+":", f[1])
	}
	return nil
}
