package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/coderecall/internal/health"
	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/search"
	"github.com/Aman-CERP/coderecall/internal/state"
)

// IndexStats prints the summary of a completed index run.
func (w *Writer) IndexStats(s *index.Stats) {
	w.Successf("Indexed %s in %s", s.RepoID, s.Duration.Round(time.Millisecond))
	w.field("ref", shortRef(s.Ref))
	w.field("files", fmt.Sprintf("%d scanned, %d added, %d modified, %d removed, %d unchanged",
		s.FilesScanned, s.FilesAdded, s.FilesModified, s.FilesRemoved, s.FilesUnchanged))
	if s.FilesDeferred > 0 {
		w.field("deferred", fmt.Sprintf("%d files (max_files reached, run again)", s.FilesDeferred))
	}
	if s.FilesSkipped > 0 {
		w.field("skipped", s.FilesSkipped)
	}
	w.field("chunks", fmt.Sprintf("%d processed, %d embedded, +%d -%d, %d total",
		s.ChunksProcessed, s.ChunksEmbedded, s.ChunksAdded, s.ChunksRemoved, s.ChunksTotal))
	if s.OrphansRemoved > 0 || s.MissingHealed > 0 {
		w.field("healed", fmt.Sprintf("%d orphans removed, %d missing restored", s.OrphansRemoved, s.MissingHealed))
	}
	if s.FallbacksReplaced > 0 {
		w.field("re-embedded", fmt.Sprintf("%d fallback vectors replaced", s.FallbacksReplaced))
	}
	if s.ParseFallbacks > 0 {
		w.field("parse fallbacks", s.ParseFallbacks)
	}
	if s.FallbackVectors > 0 {
		w.Warningf("%d chunks were embedded with fallback vectors", s.FallbackVectors)
	}
}

// SearchResults prints ranked results with provenance and snippets.
func (w *Writer) SearchResults(resp *search.Response) {
	if len(resp.Results) == 0 {
		w.Status("", "No results.")
		return
	}
	if resp.DegradedQuery {
		w.Warning("query embedded with a fallback vector; ranking is lexical only")
	}
	for i, r := range resp.Results {
		loc := fmt.Sprintf("%s:%d-%d", r.Path, r.StartLine, r.EndLine)
		line := fmt.Sprintf("%2d. %s %s", i+1, w.styles.Path.Render(loc), w.styles.Score.Render(fmt.Sprintf("(%.3f)", r.Score)))
		var tags []string
		if r.Repository != "" {
			tags = append(tags, r.Repository)
		}
		if r.Symbol != "" {
			tags = append(tags, r.Symbol)
		}
		if r.Fallback {
			tags = append(tags, "fallback")
		}
		if len(tags) > 0 {
			line += " " + w.styles.Dim.Render("["+strings.Join(tags, ", ")+"]")
		}
		_, _ = fmt.Fprintln(w.out, line)
		if r.Snippet != "" {
			snippet := r.Snippet
			if r.Truncated {
				snippet += "\n..."
			}
			_, _ = fmt.Fprintln(w.out, w.styles.Snippet.Render(snippet))
		}
	}
	w.Newline()
	w.Status("", w.styles.Dim.Render(fmt.Sprintf("%d results in %s", len(resp.Results), resp.Duration.Round(time.Millisecond))))
}

// Health prints a health report.
func (w *Writer) Health(r *health.Report) {
	w.Header("coderecall health")
	for _, c := range r.Checks {
		msg := fmt.Sprintf("%s %s", c.Name, w.styles.Dim.Render("("+c.Latency.Round(time.Millisecond).String()+")"))
		if c.Message != "" {
			msg += ": " + c.Message
		}
		switch c.Status {
		case health.StatusPass:
			w.Success(msg)
		case health.StatusWarn:
			w.Warning(msg)
		default:
			w.Error(msg)
		}
		if c.Error != "" {
			w.Status("", "  "+c.Error)
		}
	}
	w.Newline()
	w.Status("", "Status: "+strings.ToUpper(r.Status))
}

// Statuses prints per-repository run status.
func (w *Writer) Statuses(statuses []index.Status) {
	if len(statuses) == 0 {
		w.Status("", "No repositories indexed.")
		return
	}
	for _, s := range statuses {
		w.Header(s.RepoID)
		w.field("phase", s.Phase)
		if !s.StartedAt.IsZero() && s.Phase.Active() {
			w.field("started", s.StartedAt.Format(time.RFC3339))
		}
		if s.LastError != "" {
			w.field("last error", w.styles.Error.Render(s.LastError))
		}
		if s.LastStats != nil {
			w.field("last ref", shortRef(s.LastStats.Ref))
			w.field("chunks", s.LastStats.ChunksTotal)
		}
	}
}

// RepoStates prints the persisted index record of each repository.
func (w *Writer) RepoStates(states []*state.RepoState) {
	if len(states) == 0 {
		w.Status("", "No repositories indexed.")
		return
	}
	for _, st := range states {
		w.Header(st.RepoID)
		w.field("last ref", shortRef(st.LastRef))
		w.field("files", len(st.FileHashes))
		w.field("chunks", len(st.OwnedChunkIDs()))
		if !st.IndexedAt.IsZero() {
			w.field("indexed", st.IndexedAt.Format(time.RFC3339))
		}
	}
}

// Reconcile prints a reconciliation report.
func (w *Writer) Reconcile(r *index.ReconcileReport) {
	w.Successf("Reconciled %s in %s", r.RepoID, r.Duration.Round(time.Millisecond))
	w.field("checked", r.Checked)
	w.field("orphans removed", fmt.Sprintf("%d of %d", r.Removed, r.Orphans))
	if r.Missing > 0 {
		w.Warningf("%d chunks missing from the vector store in %d files; the next index run restores them",
			r.Missing, len(r.MissingFiles))
		for _, f := range r.MissingFiles {
			w.Status("", "  "+f)
		}
	}
}

func shortRef(ref string) string {
	if len(ref) == 40 {
		return ref[:12]
	}
	return ref
}
