package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/configs"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [tenant scenario]",
		Short: "Initialize a docrag data directory",
		Long: `Initialize the current directory as a docrag deployment.

Creates the data layout:
  documents/    per-namespace document inputs
  databases/    per-namespace keyword and vector indices
  .docrag/      deployment configuration

With a tenant and scenario, also creates that namespace's documents
directory so files can be dropped in right away.`,
		Example: `  # Initialize the deployment
  docrag init

  # Initialize and create the acme/contracts namespace
  docrag init acme contracts`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or a tenant and a scenario")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing project config")

	return cmd
}

func runInit(cmd *cobra.Command, args []string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Paths.DataDir == "" || cfg.Paths.DataDir == "." {
		cfg.Paths.DataDir = root
	}

	for _, dir := range []string{
		cfg.Paths.DocumentsDir(),
		cfg.Paths.DatabasesDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(root, ".docrag", "config.yaml")
	switch {
	case fileExists(configPath) && !force:
		out.Statusf("", "Config exists: %s (use --force to overwrite)", configPath)
	default:
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(configs.ProjectConfigTemplate), 0644); err != nil {
			return fmt.Errorf("failed to write project config: %w", err)
		}
		out.Successf("Wrote %s", configPath)
	}

	if len(args) == 2 {
		id, err := namespace.NewID(args[0], args[1])
		if err != nil {
			return err
		}

		layout := namespace.NewLayout(cfg.Paths)
		docsDir := layout.DocumentsDir(id)
		if err := os.MkdirAll(docsDir, 0755); err != nil {
			return fmt.Errorf("failed to create namespace directory: %w", err)
		}
		out.Successf("Created namespace %s", id.String())
		out.Statusf("", "Documents: %s", docsDir)
	}

	out.Newline()
	out.Status("", "Next steps:")
	out.Status("", "  1. Drop chunk JSON, .txt or .md files under documents/<tenant>/<scenario>/")
	out.Status("", "  2. Run 'docrag prepare <tenant> <scenario>'")
	out.Status("", "  3. Ask away: docrag ask <tenant> <scenario> \"...\"")

	return nil
}
