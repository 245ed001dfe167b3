package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/output"
)

func newNamespacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "namespaces",
		Aliases: []string{"ns"},
		Short:   "Manage tenant/scenario namespaces",
		Long: `List and manage the namespaces known on disk.

A namespace is one tenant/scenario pair with its own documents
directory and its own keyword and vector indices.`,
	}

	cmd.AddCommand(newNamespacesListCmd())
	cmd.AddCommand(newNamespacesDeleteCmd())
	cmd.AddCommand(newNamespacesPruneCmd())

	return cmd
}

func newNamespacesListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all namespaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNamespacesList(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newNamespacesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant> <scenario>",
		Short: "Delete a namespace's indices",
		Long: `Delete the keyword and vector indices of one namespace.

The documents directory is left untouched; run 'docrag prepare' to
rebuild the indices from it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNamespacesDelete(cmd, args[0], args[1])
		},
	}
}

func newNamespacesPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete indices of namespaces unused for a while",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNamespacesPrune(cmd, olderThan)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Prune namespaces last used before this age")
	return cmd
}

func runNamespacesList(cmd *cobra.Command, jsonOutput bool) error {
	catalog, err := openCatalog()
	if err != nil {
		return err
	}

	infos, err := catalog.List()
	if err != nil {
		return fmt.Errorf("failed to list namespaces: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	out := output.New(cmd.OutOrStdout())
	if len(infos) == 0 {
		out.Status("", "No namespaces found")
		out.Status("", "Place documents under documents/<tenant>/<scenario>/ and run 'docrag prepare'")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tFILES\tCHUNKS\tSIZE\tLAST USED\tINDEXED")
	for _, info := range infos {
		lastUsed := "never"
		if !info.LastUsed.IsZero() {
			lastUsed = info.LastUsed.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%v\n",
			info.ID.String(), info.Files, info.Chunks,
			formatBytes(info.SizeBytes), lastUsed, info.Indexed)
	}
	return w.Flush()
}

func runNamespacesDelete(cmd *cobra.Command, tenant, scenario string) error {
	out := output.New(cmd.OutOrStdout())

	id, err := namespace.NewID(tenant, scenario)
	if err != nil {
		return err
	}

	catalog, err := openCatalog()
	if err != nil {
		return err
	}

	if err := catalog.Delete(id); err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}

	out.Successf("Deleted indices for %s", id.String())
	return nil
}

func runNamespacesPrune(cmd *cobra.Command, olderThan time.Duration) error {
	out := output.New(cmd.OutOrStdout())

	catalog, err := openCatalog()
	if err != nil {
		return err
	}

	pruned, err := catalog.Prune(olderThan)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	if pruned == 0 {
		out.Status("", "Nothing to prune")
		return nil
	}
	out.Successf("Pruned %d namespace(s)", pruned)
	return nil
}

func openCatalog() (*namespace.Catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return namespace.NewCatalog(namespace.NewLayout(cfg.Paths)), nil
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
