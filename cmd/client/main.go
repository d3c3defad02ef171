package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	userID     string
	password   string
	serverHost string
	serverPort int
	relayOnly  bool
	captureIn  string
	frameOut   string
)

var rootCmd = &cobra.Command{
	Use:   "arqut-desk",
	Short: "Arqut Desk - remote desktop client",
	Long: `Arqut Desk connects to a desk server, pairs with a partner by id and
password, and then exchanges:
- screen frames over UDP, direct or through the server relay
- input events, chat, clipboard and audio over a P2P tunnel or the server
- files through the server`,
	Run: func(cmd *cobra.Command, args []string) {
		runClient()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "client.yaml", "config file path")

	rootCmd.Flags().StringVar(&userID, "id", "", "user id (overrides config)")
	rootCmd.Flags().StringVar(&password, "password", "", "session password (overrides config)")
	rootCmd.Flags().StringVar(&serverHost, "server", "", "server host (overrides config)")
	rootCmd.Flags().IntVar(&serverPort, "port", 0, "server port (overrides config)")
	rootCmd.Flags().BoolVar(&relayOnly, "relay", false, "send video through the server relay only")
	rootCmd.Flags().StringVar(&captureIn, "capture", "", "file streamed as the screen frame when controlled")
	rootCmd.Flags().StringVar(&frameOut, "frame-out", "", "file the latest received frame is written to")

	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
