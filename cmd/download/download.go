package download

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/datamap/datamap-cli/pkg/api"
	"github.com/datamap/datamap-cli/pkg/cli"
	"github.com/datamap/datamap-cli/pkg/config"
	dl "github.com/datamap/datamap-cli/pkg/download"
	"github.com/datamap/datamap-cli/pkg/progress"
)

// GetCommand returns the download command group.
func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download files from dataset versions",
	}
	cmd.AddCommand(fileCommand(), versionCommand(), manifestCommand())
	return cmd
}

func fileCommand() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "file <dataset-id> <version-name> <file-id>",
		Short: "Download a single file from a dataset version",
		Args:  cobra.ExactArgs(3),
		Example: `  datamap download file 12345678-1234-1234-1234-123456789abc v1.0 87654321-4321-4321-4321-cba987654321
  datamap download file 12345678-1234-1234-1234-123456789abc v1.0 87654321-4321-4321-4321-cba987654321 -o ./my_file.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			datasetID, versionName, fileID := args[0], args[1], args[2]
			if err := validateArgs(datasetID, versionName); err != nil {
				return err
			}
			if err := cli.ValidateUUID(fileID); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := api.NewClient(cfg)

			ver, err := client.GetVersion(cmd.Context(), datasetID, versionName)
			if err != nil {
				return err
			}
			descriptors := descriptorsFromVersion(datasetID, versionName, ver)
			var picked []dl.FileDescriptor
			for _, d := range descriptors {
				if d.FileID == fileID {
					picked = append(picked, d)
					break
				}
			}
			if len(picked) == 0 {
				return fmt.Errorf("file %s not found in version %s", fileID, versionName)
			}

			destRoot := "."
			if outputPath != "" {
				destRoot = filepath.Dir(outputPath)
				picked[0].Name = filepath.Base(outputPath)
			}
			return runBatch(cmd, cfg, client, picked, destRoot)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (defaults to the file name in the current directory)")
	return cmd
}

func versionCommand() *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "version <dataset-id> <version-name>",
		Short: "Download all files from a dataset version",
		Args:  cobra.ExactArgs(2),
		Example: `  datamap download version 12345678-1234-1234-1234-123456789abc v1.0
  datamap download version 12345678-1234-1234-1234-123456789abc v1.0 -o ./my_data -c 5 --resume`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			datasetID, versionName := args[0], args[1]
			if err := validateArgs(datasetID, versionName); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := api.NewClient(cfg)

			ver, err := client.GetVersion(cmd.Context(), datasetID, versionName)
			if err != nil {
				return err
			}
			if len(ver.Files) == 0 {
				return fmt.Errorf("no files found in version %s", versionName)
			}

			destRoot := outputDir
			if destRoot == "" {
				destRoot = versionName
			}
			return runBatch(cmd, cfg, client, descriptorsFromVersion(datasetID, versionName, ver), destRoot)
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Output directory (defaults to the version name in the current directory)")
	return cmd
}

// manifestEntry is one batch in a YAML download manifest.
type manifestEntry struct {
	Dataset string   `yaml:"dataset"`
	Version string   `yaml:"version"`
	Dest    string   `yaml:"dest,omitempty"`
	Files   []string `yaml:"files,omitempty"`
}

type manifestFile struct {
	Downloads []manifestEntry `yaml:"downloads"`
}

func manifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest <manifest.yaml>",
		Short: "Download batches described by a YAML manifest",
		Long: `Download one or more dataset version batches described by a YAML manifest:

  downloads:
    - dataset: 12345678-1234-1234-1234-123456789abc
      version: v1.0
      dest: ./data
      files:            # optional, defaults to every file in the version
        - 87654321-4321-4321-4321-cba987654321
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading manifest: %w", err)
			}
			var manifest manifestFile
			if err := yaml.Unmarshal(data, &manifest); err != nil {
				return fmt.Errorf("parsing manifest: %w", err)
			}
			if len(manifest.Downloads) == 0 {
				return fmt.Errorf("manifest contains no downloads")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := api.NewClient(cfg)

			var failed int
			for _, entry := range manifest.Downloads {
				if err := validateArgs(entry.Dataset, entry.Version); err != nil {
					return fmt.Errorf("manifest entry %s/%s: %w", entry.Dataset, entry.Version, err)
				}
				ver, err := client.GetVersion(cmd.Context(), entry.Dataset, entry.Version)
				if err != nil {
					return err
				}
				descriptors := descriptorsFromVersion(entry.Dataset, entry.Version, ver)
				if len(entry.Files) > 0 {
					descriptors = filterDescriptors(descriptors, entry.Files)
					if len(descriptors) != len(entry.Files) {
						return fmt.Errorf("manifest entry %s/%s names files not present in the version", entry.Dataset, entry.Version)
					}
				}
				destRoot := entry.Dest
				if destRoot == "" {
					destRoot = entry.Version
				}
				if err := runBatch(cmd, cfg, client, descriptors, destRoot); err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d manifest batches failed", failed, len(manifest.Downloads))
			}
			return nil
		},
	}
	return cmd
}

// runBatch wires the progress aggregator to the terminal printer, runs the
// scheduler and renders the final report. The exit code is non-zero
// unless every file completed.
func runBatch(cmd *cobra.Command, cfg config.Config, client *api.Client, descriptors []dl.FileDescriptor, destRoot string) error {
	printer := cli.NewProgressPrinter()
	agg := progress.NewAggregator(printer.Print, 0)
	sched := dl.NewScheduler(cfg, client, client.StreamingClient(), agg)

	start := time.Now()
	report, err := sched.Run(cmd.Context(), descriptors, destRoot)
	agg.Close()
	printer.Done()
	if err != nil {
		return err
	}

	cli.PrintReport(os.Stdout, report, time.Since(start), cfg.Verbose)
	if report.Rollup != dl.AllSucceeded {
		return fmt.Errorf("%d of %d files not downloaded", len(report.Results)-report.Completed(), len(report.Results))
	}
	return nil
}

func descriptorsFromVersion(datasetID, versionName string, ver *api.Version) []dl.FileDescriptor {
	descriptors := make([]dl.FileDescriptor, 0, len(ver.Files))
	for _, f := range ver.Files {
		descriptors = append(descriptors, dl.FileDescriptor{
			DatasetID:   datasetID,
			VersionName: versionName,
			FileID:      f.ID,
			Name:        f.Name,
			SizeBytes:   f.SizeBytes,
			Checksum:    f.Checksum,
		})
	}
	return descriptors
}

func filterDescriptors(descriptors []dl.FileDescriptor, fileIDs []string) []dl.FileDescriptor {
	wanted := make(map[string]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = struct{}{}
	}
	var out []dl.FileDescriptor
	for _, d := range descriptors {
		if _, ok := wanted[d.FileID]; ok {
			out = append(out, d)
		}
	}
	return out
}

func validateArgs(datasetID, versionName string) error {
	if err := cli.ValidateUUID(datasetID); err != nil {
		return err
	}
	return cli.ValidateVersionName(versionName)
}
