// Command txnctl is an operator CLI against a running txnmgrd's admin HTTP
// surface, grounded on the teacher's cmd/root.go cobra+viper wiring.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var adminAddr string

var rootCmd = &cobra.Command{
	Use:     "txnctl",
	Short:   "Operator CLI for the transaction session manager",
	Version: "0.1.0",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-partition-group memory and counter read-outs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetchAndPrint("/stats")
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the admin surface is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetchAndPrint("/healthz")
	},
}

func fetchAndPrint(path string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(adminAddr + path)
	if err != nil {
		return fmt.Errorf("txnctl: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("txnctl: read response: %w", err)
	}

	var pretty any
	if json.Unmarshal(body, &pretty) == nil {
		encoded, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(encoded))
		return nil
	}
	fmt.Println(string(body))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", "http://localhost:8090", "admin HTTP surface base URL")
	viper.BindPFlag("admin_addr", rootCmd.PersistentFlags().Lookup("admin-addr"))
	rootCmd.AddCommand(statsCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
