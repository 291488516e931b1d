package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/coderecall/internal/config"
)

// configFileName is the project config written by init.
const configFileName = ".coderecall.yaml"

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		force    bool
		provider string
		backend  string
		model    string
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default .coderecall.yaml",
		Long: `Write a project configuration file with every setting at its default.

The file is layered over ~/.config/coderecall/config.yaml and under
CODERECALL_* environment variables, so only the keys you change matter.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}
			out := opts.writer(cmd.OutOrStdout())

			path := filepath.Join(root, configFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.NewConfig()
			if provider != "" {
				cfg.Embedding.Provider = provider
			}
			if model != "" {
				cfg.Embedding.Model = model
			}
			if backend != "" {
				cfg.VectorStore.Backend = backend
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := cfg.WriteYAML(path); err != nil {
				return err
			}

			out.Successf("Wrote %s", path)
			out.Status("", "Next: coderecall index "+root)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&provider, "provider", "", "Embedding provider: ollama, openai, static or none")
	cmd.Flags().StringVar(&model, "model", "", "Embedding model name")
	cmd.Flags().StringVar(&backend, "backend", "", "Vector store backend: memory, hnsw, sqlite or qdrant")

	return cmd
}
