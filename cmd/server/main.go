package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "arqut-desk-server",
	Short: "Arqut Desk Server - remote desktop session broker and relay",
	Long: `Arqut Desk Server pairs remote desktop clients and carries their traffic:
- TCP session broker for login, connect and message forwarding
- UDP relay for video datagrams on port+1
- Optional STUN/TURN service and admin REST API`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
