package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/statesync/internal/app/storage"
	"github.com/stacklok/statesync/internal/config"
	"github.com/stacklok/statesync/pkg/statetree"
	localstorage "github.com/stacklok/statesync/pkg/storage"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the cached state",
		Long: `Print the state held in the local cache as a table of slice, field and value.
With --remote the envelope is read from the remote store instead.`,
		RunE: runInspect,
	}

	cmd.Flags().String("config", "", "Path to configuration file (YAML or HuJSON, required)")
	cmd.Flags().Bool("remote", false, "Read the remote store instead of the local cache")
	cmd.Flags().String("format", "table", "Output format (table or json)")
	return cmd
}

func runInspect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, v, err := loadConfig(cmd, "remote", "format")
	if err != nil {
		return err
	}
	fromRemote := v.GetBool("remote")
	format := v.GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("unsupported format %q", format)
	}

	factory, err := storage.NewStorageFactory(cfg)
	if err != nil {
		return err
	}
	defer factory.Cleanup()

	var env statetree.Envelope
	if fromRemote {
		env, err = readRemote(ctx, factory)
	} else {
		env, err = readLocal(ctx, factory, cfg)
	}
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	return renderEnvelope(cmd.OutOrStdout(), env)
}

func readLocal(ctx context.Context, factory storage.Factory, cfg *config.Config) (statetree.Envelope, error) {
	backend, err := factory.CreateLocalBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}
	data, err := backend.Get(ctx, cfg.LocalStorageKey)
	if errors.Is(err, localstorage.ErrNotFound) {
		return statetree.Envelope{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read local cache: %w", err)
	}
	var env statetree.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode cached state: %w", err)
	}
	return env, nil
}

func readRemote(ctx context.Context, factory storage.Factory) (statetree.Envelope, error) {
	store, err := factory.CreateRemoteStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	env, err := store.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote state: %w", err)
	}
	return env, nil
}

// renderEnvelope writes one row per field, sorted by slice then field
func renderEnvelope(w io.Writer, env statetree.Envelope) error {
	table := tablewriter.NewWriter(w)
	table.Header("Slice", "Field", "Value")

	for _, key := range sortedKeys(env) {
		fields := env[key]
		for _, field := range sortedKeys(fields) {
			value, err := json.Marshal(fields[field].Value)
			if err != nil {
				return fmt.Errorf("failed to encode %s.%s: %w", key, field, err)
			}
			if err := table.Append(key, field, string(value)); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
