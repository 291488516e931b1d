package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/coderecall/internal/state"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List indexed repositories",
		Long:  `List every repository recorded in the state store with its last indexed reference, file count and chunk count.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := resolveRoot(nil)
			if err != nil {
				return err
			}
			a, err := opts.newApp(cmd.Context(), root, logCLI)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			states, err := loadRepoStates(cmd, a.states)
			if err != nil {
				return err
			}

			out := opts.writer(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(repoSummaries(states))
			}
			out.RepoStates(states)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// repoSummary is the JSON form of one status entry.
type repoSummary struct {
	RepoID    string `json:"repo_id"`
	LastRef   string `json:"last_ref"`
	Files     int    `json:"files"`
	Chunks    int    `json:"chunks"`
	IndexedAt string `json:"indexed_at,omitempty"`
}

func loadRepoStates(cmd *cobra.Command, states state.Store) ([]*state.RepoState, error) {
	ids, err := states.List(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	out := make([]*state.RepoState, 0, len(ids))
	for _, id := range ids {
		if id == state.HealthRepoID {
			continue
		}
		st, ok, err := states.Load(cmd.Context(), id)
		if err != nil {
			return nil, fmt.Errorf("load state for %s: %w", id, err)
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func repoSummaries(states []*state.RepoState) []repoSummary {
	out := make([]repoSummary, 0, len(states))
	for _, st := range states {
		s := repoSummary{
			RepoID:  st.RepoID,
			LastRef: st.LastRef,
			Files:   len(st.FileHashes),
			Chunks:  len(st.OwnedChunkIDs()),
		}
		if !st.IndexedAt.IsZero() {
			s.IndexedAt = st.IndexedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, s)
	}
	return out
}
