package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var writeConfigFlag string

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Precache the manifest and delete caches of old versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		wk, err := newWorker(cfg, nil)
		if err != nil {
			return err
		}
		defer wk.Close()
		if err := wk.Install(cmd.Context()); err != nil {
			return err
		}
		return wk.Activate(cmd.Context())
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch every entry of the static cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		wk, err := newWorker(cfg, nil)
		if err != nil {
			return err
		}
		defer wk.Close()
		report, err := wk.PeriodicSync(cmd.Context(), cfg.PeriodicSync.Tag)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [tag]",
	Short: "Send the pending forms queued for a background sync tag",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := cfg.Sync.Tag
		if len(args) == 1 {
			tag = args[0]
		}
		wk, err := newWorker(cfg, nil)
		if err != nil {
			return err
		}
		defer wk.Close()
		report, err := wk.Sync(cmd.Context(), tag)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <json>",
	Short: `Show a push notification, e.g. push '{"title":"New comment","body":"...","url":"/post/5"}'`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wk, err := newWorker(cfg, nil)
		if err != nil {
			return err
		}
		defer wk.Close()
		n, ok, err := wk.Push(cmd.Context(), []byte(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No payload, nothing shown")
			return nil
		}
		return printJSON(n)
	},
}

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "List the caches in the storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		wk, err := newWorker(cfg, nil)
		if err != nil {
			return err
		}
		defer wk.Close()
		infos, err := wk.Caches()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tENTRIES\tCURRENT")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%d\t%t\n", info.Name, info.Entries, info.Current)
		}
		return tw.Flush()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		if writeConfigFlag != "" {
			return cfg.Save(writeConfigFlag)
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	configCmd.Flags().StringVar(&writeConfigFlag, "write", "", "Write the configuration to this file instead of printing it")
	rootCmd.AddCommand(installCmd, refreshCmd, syncCmd, pushCmd, cachesCmd, configCmd)
}
