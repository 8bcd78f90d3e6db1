package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show configured sources and their extraction settings",
	Long:  "Lists the source keys with dedicated strategies plus the rate limit and circuit settings that apply to each.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		keys := env.Registry.Keys()
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SOURCE\tSTRATEGY\tINTERVAL\tCIRCUIT")
		for _, key := range keys {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				key,
				env.Registry.Resolve(key).Name(),
				sourceInterval(key),
				env.Breakers.Get(key).State(),
			)
		}
		_, _ = fmt.Fprintf(w, "(other)\t%s\t%s\tclosed\n",
			env.Registry.Resolve("").Name(),
			sourceInterval(""),
		)
		_ = w.Flush()

		fmt.Printf("\nCircuit opens after %d consecutive failures, recovery probe after %ds.\n",
			cfg.Circuit.FailureThreshold, cfg.Circuit.RecoveryTimeoutSecs)
		return nil
	},
}

func sourceInterval(key string) string {
	if ms, ok := cfg.RateLimit.PerSourceMs[key]; ok && ms > 0 {
		return (time.Duration(ms) * time.Millisecond).String()
	}
	return (time.Duration(cfg.RateLimit.DefaultIntervalMs) * time.Millisecond).String()
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
