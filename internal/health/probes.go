package health

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/state"
	"github.com/Aman-CERP/coderecall/internal/store"
)

// Probe names.
const (
	CheckEmbedder    = "embedder"
	CheckVectorStore = "vector_store"
	CheckStateStore  = "state_store"
	CheckDiskSpace   = "disk_space"
	CheckFileLimit   = "file_descriptors"
)

// EmbedderProber is the part of the embedder the health probe needs.
type EmbedderProber interface {
	// Probe embeds a trivial string through the provider without
	// falling back to hash vectors.
	Probe(ctx context.Context) error
	ModelName() string
	Dimensions() int
}

// EmbedderProbe embeds a trivial string through the provider. An
// embedder without a provider is degraded, not failed: indexing still
// works on fallback vectors.
func EmbedderProbe(e EmbedderProber) Probe {
	return Probe{
		Name:     CheckEmbedder,
		Required: true,
		Check: func(ctx context.Context) (string, error) {
			desc := fmt.Sprintf("%s (%d dims)", e.ModelName(), e.Dimensions())
			if err := e.Probe(ctx); err != nil {
				if crerrors.GetCode(err) == crerrors.ErrCodeProviderUnavailable && strings.HasPrefix(e.ModelName(), "fallback") {
					return desc, AsWarning(fmt.Errorf("no embedding provider configured, indexing uses fallback vectors: %w", err))
				}
				return desc, err
			}
			return desc, nil
		},
	}
}

// VectorStoreProbe reads the collection's stats. A collection that does
// not exist yet is degraded; one whose dimension differs from the
// embedder's (when dims > 0) fails.
func VectorStoreProbe(vs store.VectorStore, collection string, dims int) Probe {
	return Probe{
		Name:     CheckVectorStore,
		Required: true,
		Check: func(ctx context.Context) (string, error) {
			stats, err := vs.Stats(ctx, collection)
			if err != nil {
				return vs.Backend(), err
			}
			if !stats.Exists {
				return vs.Backend(), AsWarning(fmt.Errorf("collection %q not created yet", collection))
			}
			desc := fmt.Sprintf("%s: %q holds %d vectors of %d dims", vs.Backend(), collection, stats.Count, stats.Dimension)
			if dims > 0 && stats.Dimension != dims {
				return desc, crerrors.DimensionMismatchError(stats.Dimension, dims).
					WithSuggestion("Re-index into a new collection after changing the embedding model")
			}
			return desc, nil
		},
	}
}

// StateStoreProbe writes, reads back and deletes a state record under
// the reserved health repository id.
func StateStoreProbe(states state.Store) Probe {
	return Probe{
		Name:     CheckStateStore,
		Required: true,
		Check: func(ctx context.Context) (string, error) {
			token := strconv.FormatInt(time.Now().UnixNano(), 10)
			st := state.NewRepoState(state.HealthRepoID)
			st.LastRef = token
			st.FileHashes["probe"] = token
			st.IndexedAt = time.Now().UTC()

			if err := states.Save(ctx, st); err != nil {
				return "", fmt.Errorf("write: %w", err)
			}
			got, ok, err := states.Load(ctx, state.HealthRepoID)
			if err != nil {
				return "", fmt.Errorf("read: %w", err)
			}
			if !ok || got.LastRef != token || got.FileHashes["probe"] != token {
				return "", crerrors.New(crerrors.ErrCodeStateCorrupt, "state store returned a different record than written", nil)
			}
			if err := states.Delete(ctx, state.HealthRepoID); err != nil {
				return "", fmt.Errorf("delete: %w", err)
			}
			return "read-write round trip ok", nil
		},
	}
}
