package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nainya/eavstore/internal/server"
	"github.com/nainya/eavstore/pkg/eav"
	"github.com/nainya/eavstore/pkg/patch"
)

// NewPatchCommand groups the patch file subcommands
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Inspect, replay and send patch files",
	}
	cmd.AddCommand(newPatchDumpCommand(rootOpts))
	cmd.AddCommand(newPatchReplayCommand(rootOpts))
	cmd.AddCommand(newPatchPushCommand(rootOpts))
	return cmd
}

// DumpEntry is one decoded instruction
type DumpEntry struct {
	Offset      int64  `json:"offset"`
	Opcode      string `json:"opcode"`
	Instruction string `json:"instruction"`
	Hash        string `json:"hash"`
}

func newPatchDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump FILE",
		Short: "Decode a patch file and list its instructions",
		Long: `Decode a patch file and print one line per instruction with its byte
offset. Decoding stops at the first malformed instruction; everything before
it is still printed.

Examples:
  eavstore patch dump world.patch
  eavstore patch dump world.patch --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchDump(rootOpts, cmd.OutOrStdout(), args[0])
		},
	}
}

func runPatchDump(opts *RootOptions, w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open patch", err)
	}
	defer f.Close()

	dec := patch.NewDecoder(bufio.NewReader(f))
	var entries []DumpEntry
	var decodeErr error
	for {
		offset := dec.Offset()
		in, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			decodeErr = err
			break
		}
		entries = append(entries, DumpEntry{
			Offset:      offset,
			Opcode:      in.Opcode().String(),
			Instruction: in.String(),
			Hash:        fmt.Sprintf("%016x", in.Hash()),
		})
	}

	out := &OutputFormatter{Format: opts.Format, Writer: w}
	if err := out.Emit(entries, func(w io.Writer) error {
		for _, e := range entries {
			if _, err := fmt.Fprintf(w, "%8d  %s\n", e.Offset, e.Instruction); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if decodeErr != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("decoding stopped after %d instructions", len(entries)), decodeErr)
	}
	return nil
}

// ReplayOptions holds flags for the replay command
type ReplayOptions struct {
	*RootOptions
	Output string
}

// ReplayResult summarizes a replay
type ReplayResult struct {
	Files        int       `json:"files"`
	Instructions int       `json:"instructions"`
	Stats        eav.Stats `json:"stats"`
	Output       string    `json:"output,omitempty"`
}

func newPatchReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Apply patch files in order to an empty database",
		Long: `Apply one or more patch files, in order, to an empty in-memory database
and report what it holds. With --out the database is exported again as a
single compacted patch.

Examples:
  eavstore patch replay base.patch delta1.patch
  eavstore patch replay base.patch delta1.patch --out compacted.patch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchReplay(opts, cmd.OutOrStdout(), args)
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write the resulting state as a patch")
	return cmd
}

func runPatchReplay(opts *ReplayOptions, w io.Writer, paths []string) error {
	db := eav.New()
	result := ReplayResult{Files: len(paths)}

	for _, path := range paths {
		p, err := readPatchFile(path)
		if err != nil {
			return err
		}
		if err := p.ApplyTo(db); err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to apply %s", path), err)
		}
		result.Instructions += len(p)
	}
	result.Stats = db.Stats()

	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output", err)
		}
		bw := bufio.NewWriter(f)
		_, err = db.Patch().WriteTo(bw)
		if err == nil {
			err = bw.Flush()
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		result.Output = opts.Output
	}

	out := &OutputFormatter{Format: opts.Format, Writer: w}
	return out.Emit(result, func(w io.Writer) error {
		s := result.Stats
		fmt.Fprintf(w, "Applied %d instructions from %d file(s)\n", result.Instructions, result.Files)
		fmt.Fprintf(w, "  flags=%d floats=%d references=%d strings=%d\n", s.Flags, s.Floats, s.References, s.Strings)
		fmt.Fprintf(w, "  colors=%d images=%d meshes=%d tags=%d\n", s.Colors, s.Images, s.Meshes, s.Tags)
		if result.Output != "" {
			fmt.Fprintf(w, "Wrote %d instructions to %s\n", s.Total(), result.Output)
		}
		return nil
	})
}

// PushOptions holds flags for the push command
type PushOptions struct {
	*RootOptions
	Addr    string
	Timeout time.Duration
}

func newPatchPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push FILE",
		Short: "Send a patch file to a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchPush(opts, cmd.OutOrStdout(), args[0])
		},
	}
	addClientFlags(cmd, &opts.Addr, &opts.Timeout)
	return cmd
}

func runPatchPush(opts *PushOptions, w io.Writer, path string) error {
	p, err := readPatchFile(path)
	if err != nil {
		return err
	}

	client, closeConn, err := dial(opts.Addr)
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	n, err := client.ApplyPatch(ctx, p)
	if err != nil {
		return WrapExitError(ExitFailure, "server rejected patch", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: w}
	return out.Emit(map[string]int{"applied": n}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Server applied %d instructions\n", n)
		return err
	})
}

func readPatchFile(path string) (patch.Patch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open patch", err)
	}
	defer f.Close()

	p, err := patch.Read(bufio.NewReader(f))
	if err != nil {
		return nil, WrapExitError(ExitFailure, fmt.Sprintf("failed to decode %s", path), err)
	}
	return p, nil
}

func addClientFlags(cmd *cobra.Command, addr *string, timeout *time.Duration) {
	cmd.Flags().StringVar(addr, "addr", "localhost:50051", "server address")
	cmd.Flags().DurationVar(timeout, "timeout", 30*time.Second, "request timeout")
}

func dial(addr string) (*server.Client, func(), error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(100<<20), grpc.MaxCallSendMsgSize(100<<20)),
	)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to connect", err)
	}
	return server.NewClient(conn), func() { conn.Close() }, nil
}
