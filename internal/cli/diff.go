package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/eavstore/pkg/diff"
	"github.com/nainya/eavstore/pkg/ident"
)

// NewDiffCommand groups the store diff subcommands
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Inspect serialized store diffs",
	}
	cmd.AddCommand(newDiffShowCommand(rootOpts))
	return cmd
}

// DiffEntry is one line of a rendered diff
type DiffEntry struct {
	Store string `json:"store"`
	Op    string `json:"op"` // "set" | "delete"
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

func newDiffShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show FILE",
		Short: "Decode a StoreDiff file and list its entries in canonical order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiffShow(rootOpts, cmd.OutOrStdout(), args[0])
		},
	}
}

func runDiffShow(opts *RootOptions, w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open diff", err)
	}
	defer f.Close()

	d, err := diff.ReadStoreDiff(bufio.NewReader(f))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to decode diff", err)
	}

	entries := diffEntries(d)
	out := &OutputFormatter{Format: opts.Format, Writer: w}
	return out.Emit(entries, func(w io.Writer) error {
		for _, e := range entries {
			line := fmt.Sprintf("%-10s %-6s %s", e.Store, e.Op, e.Key)
			if e.Value != "" {
				line += " = " + e.Value
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	})
}

func diffEntries(d diff.StoreDiff) []DiffEntry {
	var entries []DiffEntry

	refKeys := make([]ident.EntityAttribute, 0, len(d.References.Set))
	for k := range d.References.Set {
		refKeys = append(refKeys, k)
	}
	slices.SortFunc(refKeys, ident.EntityAttribute.Compare)
	for _, k := range refKeys {
		entries = append(entries, DiffEntry{Store: "references", Op: "set", Key: k.String(), Value: d.References.Set[k].String()})
	}
	refKeys = refKeys[:0]
	for k := range d.References.Deleted {
		refKeys = append(refKeys, k)
	}
	slices.SortFunc(refKeys, ident.EntityAttribute.Compare)
	for _, k := range refKeys {
		entries = append(entries, DiffEntry{Store: "references", Op: "delete", Key: k.String()})
	}

	ids := make([]ident.ID, 0, len(d.Tags.Set))
	for id := range d.Tags.Set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ident.ID.Compare)
	for _, id := range ids {
		entries = append(entries, DiffEntry{Store: "tags", Op: "set", Key: id.String(), Value: d.Tags.Set[id]})
	}
	ids = ids[:0]
	for id := range d.Tags.Deleted {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ident.ID.Compare)
	for _, id := range ids {
		entries = append(entries, DiffEntry{Store: "tags", Op: "delete", Key: id.String()})
	}
	return entries
}

// ExportOptions holds flags for the export command
type ExportOptions struct {
	*RootOptions
	Addr    string
	Timeout time.Duration
	Output  string
}

// NewExportCommand creates the export command
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download a running server's database as a patch file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd.OutOrStdout())
		},
	}
	addClientFlags(cmd, &opts.Addr, &opts.Timeout)
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "patch file to write (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runExport(opts *ExportOptions, w io.Writer) error {
	client, closeConn, err := dial(opts.Addr)
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	p, err := client.ExportPatch(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}
	data, err := p.MarshalBinary()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to serialize patch", err)
	}
	if err := os.WriteFile(opts.Output, data, 0644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: w}
	return out.Emit(map[string]any{"instructions": len(p), "bytes": len(data), "output": opts.Output}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Wrote %d instructions (%d bytes) to %s\n", len(p), len(data), opts.Output)
		return err
	})
}
