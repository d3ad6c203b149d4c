package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath = "node.yaml"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nhdpd",
	Short: "RFC 6130 neighbourhood discovery daemon",
	Long: `nhdpd exchanges NHDP HELLO messages on the MANET interfaces of this host.
It maintains the symmetric 1-hop and 2-hop neighbourhood of the node and exposes it for inspection.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Configure nhdpd",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "nh",
		Title: "nhdpd Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "node config")
}
