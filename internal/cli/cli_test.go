package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/eavstore/pkg/diff"
	"github.com/nainya/eavstore/pkg/eav"
	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/patch"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "eavstore", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"serve"},
		{"patch", "dump"},
		{"patch", "replay"},
		{"patch", "push"},
		{"diff", "show"},
		{"export"},
	}

	for _, path := range paths {
		t.Run(filepath.Join(path...), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "patch", "dump", "missing.patch"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestClientCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"patch", "push"}, {"export"}} {
		subCmd, _, err := cmd.Find(path)
		require.NoError(t, err)

		addr := subCmd.Flags().Lookup("addr")
		require.NotNil(t, addr)
		assert.Equal(t, "localhost:50051", addr.DefValue)
		assert.NotNil(t, subCmd.Flags().Lookup("timeout"))
	}
}

func TestExportRequiresOut(t *testing.T) {
	cmd := NewExportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func writePatch(t *testing.T, p patch.Patch) string {
	t.Helper()
	data, err := p.MarshalBinary()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "test.patch")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestPatchDump(t *testing.T) {
	e, a := ident.New(), ident.New()
	path := writePatch(t, patch.Patch{
		patch.SetFlag{Entity: e, Attribute: a},
		patch.SetTag{ID: e, Tag: "crate"},
	})

	buf := &bytes.Buffer{}
	err := runPatchDump(&RootOptions{Format: "text"}, buf, path)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "SetFlag("+e.String())
	assert.Contains(t, out, `"crate"`)
	// SetFlag is opcode + two identifiers
	assert.Contains(t, out, "      33  SetTag")
}

func TestPatchDumpJSON(t *testing.T) {
	path := writePatch(t, patch.Patch{
		patch.SetFloat{Entity: ident.New(), Attribute: ident.New(), Value: 1.5},
	})

	buf := &bytes.Buffer{}
	require.NoError(t, runPatchDump(&RootOptions{Format: "json"}, buf, path))

	var entries []DumpEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].Offset)
	assert.Equal(t, "SetFloat", entries[0].Opcode)
	assert.Len(t, entries[0].Hash, 16)
}

func TestPatchDumpStopsAtMalformed(t *testing.T) {
	good, err := patch.Patch{patch.SetFlag{Entity: ident.New(), Attribute: ident.New()}}.MarshalBinary()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "bad.patch")
	require.NoError(t, os.WriteFile(path, append(good, 0xff), 0644))

	buf := &bytes.Buffer{}
	err = runPatchDump(&RootOptions{Format: "text"}, buf, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "after 1 instructions")
	assert.Contains(t, buf.String(), "SetFlag(")
}

func TestPatchDumpMissingFile(t *testing.T) {
	err := runPatchDump(&RootOptions{Format: "text"}, &bytes.Buffer{}, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPatchReplayCompacts(t *testing.T) {
	e, a := ident.New(), ident.New()
	first := writePatch(t, patch.Patch{
		patch.SetFloat{Entity: e, Attribute: a, Value: 1},
		patch.SetFlag{Entity: e, Attribute: a},
	})
	second := writePatch(t, patch.Patch{
		patch.SetFloat{Entity: e, Attribute: a, Value: 2},
		patch.ClearFlag{Entity: e, Attribute: a},
	})
	outPath := filepath.Join(t.TempDir(), "compacted.patch")

	buf := &bytes.Buffer{}
	opts := &ReplayOptions{RootOptions: &RootOptions{Format: "json"}, Output: outPath}
	require.NoError(t, runPatchReplay(opts, buf, []string{first, second}))

	var result ReplayResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, 2, result.Files)
	assert.Equal(t, 4, result.Instructions)
	assert.Equal(t, 1, result.Stats.Floats)
	assert.Equal(t, 0, result.Stats.Flags)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	p, err := patch.Decode(data)
	require.NoError(t, err)
	require.Len(t, p, 1)

	db := eav.New()
	require.NoError(t, p.ApplyTo(db))
	assert.Equal(t, float32(2), db.Float(e, a))
}

func TestPatchReplayText(t *testing.T) {
	path := writePatch(t, patch.Patch{patch.SetFlag{Entity: ident.New(), Attribute: ident.New()}})

	buf := &bytes.Buffer{}
	opts := &ReplayOptions{RootOptions: &RootOptions{Format: "text"}}
	require.NoError(t, runPatchReplay(opts, buf, []string{path}))
	assert.Contains(t, buf.String(), "Applied 1 instructions from 1 file(s)")
	assert.Contains(t, buf.String(), "flags=1")
}

func TestDiffShow(t *testing.T) {
	k := ident.Key(ident.New(), ident.New())
	gone := ident.Key(ident.New(), ident.New())
	v := ident.New()

	refs, err := diff.NewReferenceStoreDiff(
		map[ident.EntityAttribute]ident.ID{k: v},
		map[ident.EntityAttribute]struct{}{gone: {}},
	)
	require.NoError(t, err)
	tags, err := diff.NewTagStoreDiff(map[ident.ID]string{v: "target"}, nil)
	require.NoError(t, err)

	data, err := diff.StoreDiff{References: refs, Tags: tags}.MarshalBinary()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "store.diff")
	require.NoError(t, os.WriteFile(path, data, 0644))

	buf := &bytes.Buffer{}
	require.NoError(t, runDiffShow(&RootOptions{Format: "json"}, buf, path))

	var entries []DiffEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	assert.Equal(t, []DiffEntry{
		{Store: "references", Op: "set", Key: k.String(), Value: v.String()},
		{Store: "references", Op: "delete", Key: gone.String()},
		{Store: "tags", Op: "set", Key: v.String(), Value: "target"},
	}, entries)
}

func TestDiffShowMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.diff")
	require.NoError(t, os.WriteFile(path, []byte{0, 0}, 0644))

	err := runDiffShow(&RootOptions{Format: "text"}, &bytes.Buffer{}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "eavstore.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  port: 7000\n  metrics_port: 7001\nlog:\n  level: warn\n"), 0644))

	opts := &ServeOptions{RootOptions: &RootOptions{}}
	cmd := &cobra.Command{Use: "serve"}
	opts.bindFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfgPath, "--metrics-port", "0", "--no-journal"}))

	cfg, err := opts.resolveConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Server.MetricsPort)
	assert.Equal(t, "", cfg.Journal.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", nil)))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}
