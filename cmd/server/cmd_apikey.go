package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arqut/arqut-desk/internal/apikey"
	"github.com/arqut/arqut-desk/internal/config"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

var assumeYes bool

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage the admin API key",
	Long:  `Generate, rotate and inspect the key that protects the admin REST API`,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long:  `Generate an API key and store its hash in the config file. A default config is written first if none exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return generateAPIKey(cmd.OutOrStdout(), cfgFile)
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the existing API key",
	Long:  `Replace the configured API key. The old key stops working once the server reloads its config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return rotateAPIKey(cmd.InOrStdin(), cmd.OutOrStdout(), cfgFile, assumeYes)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show API key status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusAPIKey(cmd.OutOrStdout(), cfgFile)
	},
}

func init() {
	rotateCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	apikeyCmd.AddCommand(generateCmd, rotateCmd, statusCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func generateAPIKey(out io.Writer, configPath string) error {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "Config file not found. Writing defaults to %s\n\n", configPath)
		if err := os.WriteFile(configPath, []byte(config.DefaultConfigYAML), 0600); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	} else {
		current, err := readKeyConfig(configPath)
		if err != nil {
			return err
		}
		if current.Hash != "" {
			return errors.New("an API key is already configured; use 'arqut-desk-server apikey rotate' to replace it")
		}
	}

	key, err := storeNewKey(configPath)
	if err != nil {
		return err
	}

	printKey(out, "New API key generated:", key, configPath)
	return nil
}

func rotateAPIKey(in io.Reader, out io.Writer, configPath string, skipConfirm bool) error {
	current, err := readKeyConfig(configPath)
	if err != nil {
		return err
	}
	if current.Hash == "" {
		return errors.New("no API key is configured; use 'arqut-desk-server apikey generate' to create one")
	}

	if !skipConfirm {
		fmt.Fprint(out, "This invalidates the current API key. Continue? (yes/no): ")
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Fprintln(out, "Rotation cancelled.")
			return nil
		}
		fmt.Fprintln(out)
	}

	key, err := storeNewKey(configPath)
	if err != nil {
		return err
	}

	printKey(out, "API key rotated:", key, configPath)
	fmt.Fprintln(out, "Send SIGHUP or restart the server, then update every admin client.")
	return nil
}

func statusAPIKey(out io.Writer, configPath string) error {
	current, err := readKeyConfig(configPath)
	if err != nil {
		return err
	}

	if current.Hash == "" {
		fmt.Fprintln(out, "Status: no API key configured")
		fmt.Fprintf(out, "Generate one with:\n    arqut-desk-server apikey generate -c %s\n", configPath)
		return nil
	}

	fmt.Fprintln(out, "Status: API key configured")
	if current.CreatedAt != "" {
		fmt.Fprintf(out, "Created: %s\n", current.CreatedAt)
	}
	prefix := current.Hash
	if len(prefix) > 20 {
		prefix = prefix[:20]
	}
	fmt.Fprintf(out, "Hash: %s...\n", prefix)
	return nil
}

func printKey(out io.Writer, title, key, configPath string) {
	fmt.Fprintln(out, title)
	fmt.Fprintf(out, "\n    %s\n\n", key)
	fmt.Fprintln(out, "Save this key now. It is not stored and will not be shown again.")
	fmt.Fprintf(out, "Hash written to %s (mode 0600)\n", configPath)
}

// readKeyConfig reads only the api.api_key section so that a config with
// other invalid sections can still be repaired
func readKeyConfig(configPath string) (config.APIKeyConfig, error) {
	var key config.APIKeyConfig

	k := koanf.New(".")
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return key, fmt.Errorf("loading config: %w", err)
	}
	if err := k.Unmarshal("api.api_key", &key); err != nil {
		return key, fmt.Errorf("reading api key section: %w", err)
	}
	return key, nil
}

// storeNewKey generates a key and rewrites the config with its hash
func storeNewKey(configPath string) (string, error) {
	key, hash, err := apikey.GenerateWithHash()
	if err != nil {
		return "", fmt.Errorf("generating API key: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	k.Set("api.api_key.hash", hash)
	k.Set("api.api_key.created_at", apikey.GetCreatedAt())

	raw, err := k.Marshal(yaml.Parser())
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(configPath, raw, 0600); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(configPath, 0600); err != nil {
		return "", fmt.Errorf("restricting config permissions: %w", err)
	}
	return key, nil
}
