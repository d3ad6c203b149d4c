package cmd

import (
	"log/slog"

	"github.com/encodeous/nhdp/core"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run nhdpd",
	Long:  `This will run nhdpd on the current host. It needs permission to bind the MANET port (269) and join multicast groups.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := core.RunOptions{Level: slog.LevelInfo}
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			opts.Level = slog.LevelDebug
		}
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.DebugAddr, _ = cmd.Flags().GetString("debug")
		opts.DumpInterval, _ = cmd.Flags().GetDuration("dump-interval")
		logPath, _ := cmd.Flags().GetString("log")
		return core.Bootstrap(configPath, logPath, opts)
	},
	GroupID: "nh",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().Bool("json", false, "Write the log file as JSON")
	runCmd.Flags().String("log", "", "Also write logs to this file")
	runCmd.Flags().String("debug", "", "Serve /debug/nhdp, /debug/metrics and /debug/vars on this address")
	runCmd.Flags().Duration("dump-interval", 0, "Log every information base at this interval")
}
