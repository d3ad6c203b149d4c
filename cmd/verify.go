package cmd

import (
	"fmt"

	"github.com/encodeous/nhdp/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validates the node config and prints it with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.ReadConfig(configPath)
		if err != nil {
			return err
		}
		cfgYaml, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println("Config is valid")
		fmt.Println(string(cfgYaml))
		return nil
	},
	GroupID: "nh",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
