// Package health probes the dependencies of an index: the embedding
// provider, the vector store and the state store, plus the local disk
// and file descriptor limits of the data directory.
//
// Probes run concurrently, each bounded by its own timeout, and one
// failing or hanging probe never prevents the others from reporting:
//
//	m := health.New(
//	    health.WithTimeout(5*time.Second),
//	    health.WithProbes(
//	        health.EmbedderProbe(embedder),
//	        health.VectorStoreProbe(vectors, "code_chunks", embedder.Dimensions()),
//	        health.StateStoreProbe(states),
//	    ),
//	)
//	report := m.Run(ctx)
//	if !report.Healthy() {
//	    // Handle failures
//	}
package health
