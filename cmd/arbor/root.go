package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calyptra/arbor/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Arbor is a dependency-aware plan execution engine",
	Long: `Arbor executes plans: tasks wired by dependencies resolve into parallel
batches, steps dispatch to registered executor plugins, and every lifecycle
transition lands on an append-only event log.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging on stderr")
}

// addRuntimeFlags registers the flag set shared by every command that
// builds a runtime: store selection, plugin config, and admission.
func addRuntimeFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "file", "Event store backend: memory, file, redis, or sqlite")
	cmd.Flags().String("event-log", "", "NDJSON event log path for the file store (default .arbor/events.ndjson)")
	cmd.Flags().String("redis-url", "", "Redis address for --store redis (host:port or redis://[:password@]host:port[/db])")
	cmd.Flags().String("db", "", "Database path for --store sqlite (default .arbor/events.db)")
	cmd.Flags().String("commands", "arbor.commands.yaml", "Shell plugin allow-list file")
	cmd.Flags().Bool("unsafe-inline", false, "Let plan params supply shell command lines directly")
	cmd.Flags().String("policy", "", "Rego admission policy file")
	cmd.Flags().Bool("gated", false, "Gate plans through the built-in admission policy")
	cmd.Flags().StringSlice("mask", nil, "Payload key patterns masked before events persist")
	cmd.Flags().String("encryption-key", "", "File holding a hex-encoded 256-bit key; encrypts persisted payloads")
	cmd.Flags().Int("max-parallel", 0, "Bound concurrent tasks per batch (0 = unbounded)")
}

// runOptions collects the shared runtime flags into cli options.
func runOptions(cmd *cobra.Command) cli.RunOptions {
	var opts cli.RunOptions
	opts.Debug, _ = cmd.Flags().GetBool("debug")
	opts.Store, _ = cmd.Flags().GetString("store")
	opts.EventLog, _ = cmd.Flags().GetString("event-log")
	opts.RedisURL, _ = cmd.Flags().GetString("redis-url")
	opts.DBPath, _ = cmd.Flags().GetString("db")
	opts.CommandsPath, _ = cmd.Flags().GetString("commands")
	opts.UnsafeInline, _ = cmd.Flags().GetBool("unsafe-inline")
	opts.PolicyPath, _ = cmd.Flags().GetString("policy")
	opts.Gated, _ = cmd.Flags().GetBool("gated")
	opts.MaskKeys, _ = cmd.Flags().GetStringSlice("mask")
	opts.EncryptionKeyFile, _ = cmd.Flags().GetString("encryption-key")
	opts.MaxParallelism, _ = cmd.Flags().GetInt("max-parallel")
	return opts
}
