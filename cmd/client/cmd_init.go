package main

import (
	"fmt"
	"os"

	"github.com/arqut/arqut-desk/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default client config",
	Long:  `Write the default client configuration to the config path. An existing file is left untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		initConfig(cfgFile)
	},
}

func initConfig(configPath string) {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists: %s\n", configPath)
		return
	}

	if err := os.WriteFile(configPath, []byte(config.DefaultClientConfigYAML), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating default config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Default configuration created at: %s\n", configPath)
}
