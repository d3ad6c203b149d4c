package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Aliases: []string{"i"},
	Short:   "Inspects the information bases of a running nhdpd",
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("debug")
		result, err := fetchInspect(addr)
		if err != nil {
			fmt.Println("Error:", err.Error())
			return
		}
		fmt.Print(result)
	},
	GroupID: "nh",
}

func fetchInspect(addr string) (string, error) {
	client := http.Client{Timeout: 5 * time.Second}
	res, err := client.Get("http://" + addr + "/debug/nhdp")
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringP("debug", "d", "127.0.0.1:6060", "Debug address of the running daemon (run --debug)")
}
