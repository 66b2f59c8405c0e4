package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/discovery/internal/config"
)

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configNicknameCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.CreateDefaultConfig(configForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := config.LoadRegistry()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(registry)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configNicknameCmd = &cobra.Command{
	Use:   "nickname <usn> [name]",
	Short: "Set or clear the nickname of a service",
	Long: `Set the name shown for a service in scan, watch and serve output.
Omit the name to clear it.`,
	Example: `  ssdp-discover config nickname uuid:4d696e69-444c-164e-9d41-b827eb5e8c3f::upnp:rootdevice "Living room TV"`,
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := config.LoadRegistry()
		if err != nil {
			return err
		}

		name := ""
		if len(args) == 2 {
			name = args[1]
		}
		registry.SetNickname(args[0], name)

		if err := registry.Save(); err != nil {
			return err
		}
		if name == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared nickname of %s\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %q\n", args[0], name)
		}
		return nil
	},
}
