package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	downloadcmd "github.com/datamap/datamap-cli/cmd/download"
	"github.com/datamap/datamap-cli/pkg/api"
	"github.com/datamap/datamap-cli/pkg/cli"
	"github.com/datamap/datamap-cli/pkg/config"
	"github.com/datamap/datamap-cli/pkg/optname"
	"github.com/datamap/datamap-cli/pkg/version"
)

const rootLongDesc = `
datamap

Command-line client for the DataMap dataset hosting API. It reads dataset
and version metadata and downloads the associated files concurrently, with
resume support and checksum verification.

Credentials are taken from the DATAMAP_API_KEY and DATAMAP_API_SECRET
environment variables or from a config file (~/.datamap.yaml by default);
they are never accepted as command-line flags. Flags override environment
variables, which override config file values.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datamap",
		Short: "DataMap dataset download client",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString(optname.ConfigFile)
			if err != nil {
				return err
			}
			return config.ReadConfigFile(configPath)
		},
	}
	cmd.PersistentFlags().String(optname.ConfigFile, "", "Path to a config file (default ~/.datamap.yaml)")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	if err := config.AddFlags(cmd); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	cmd.AddCommand(downloadcmd.GetCommand(), healthCommand(), versionCommand())
	return cmd
}

func healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check API reachability with the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := api.NewClient(cfg)
			if err := client.HealthCheck(cmd.Context()); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetVersion())
		},
	}
}
