package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [name] [interface] [address]",
	Short: "Create a node configuration with one MANET interface",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 3 {
			_ = cmd.Usage()
			return
		}
		name := args[0]
		if err := state.NameValidator(name); err != nil {
			fmt.Printf("Invalid name: %s\n", name)
			os.Exit(-1)
		}
		addr, err := store.ParseAddr(args[2])
		if err != nil {
			fmt.Printf("Invalid address: %s\n", args[2])
			os.Exit(-1)
		}
		cfg := state.DefaultConfig(name, args[1], addr)
		if metric, _ := cmd.Flags().GetString("metric"); metric != "" {
			cfg.Metric = state.MetricKind(metric)
		}
		if err := state.ConfigValidator(&cfg); err != nil {
			fmt.Println("Error:", err.Error())
			os.Exit(-1)
		}

		outPath := cmd.Flag("output").Value.String()
		if _, err := os.Stat(outPath); err == nil {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				fmt.Printf("%s already exists, use --force to overwrite\n", outPath)
				os.Exit(-1)
			}
		}
		if err := state.WriteConfig(outPath, &cfg); err != nil {
			panic(err)
		}
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringP("output", "o", "node.yaml", "Output file")
	initCmd.Flags().StringP("metric", "m", "", "Link metric: hopcount or dat")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
}
