package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			debounce, _ := cfg.GetPersistDebounceTime()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Valid configuration")
			fmt.Fprintf(out, "  Local cache: %s\n", cfg.LocalCache.GetDriver())
			fmt.Fprintf(out, "  Remote: %s\n", cfg.Remote.Type)
			fmt.Fprintf(out, "  Debounce: %s\n", debounce)
			for _, s := range cfg.Slices {
				fmt.Fprintf(out, "  Slice %s (path %s, persist %t, rehydrate %t)\n",
					s.Key, s.GetPath(), s.Persist, s.Rehydrate)
			}
			return nil
		},
	}
	cmd.Flags().String("config", "", "Path to configuration file (YAML or HuJSON, required)")
	return cmd
}
