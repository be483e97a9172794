// Package tierstore provides tiered storage for search-engine index files.
//
// Index files are written once to a local directory, uploaded to a remote
// object store, and then served through a bounded, reference-counted file
// cache. Files that are evicted, too large to keep resident, or missing
// locally are read in fixed-size blocks fetched on demand.
//
// # Quick Start
//
// Local remote (testing, single machine):
//
//	store := blobstore.NewLocalStore("/var/lib/remote")
//	dir, _ := tierstore.Open(ctx, "/var/lib/index", store)
//	defer dir.Close()
//
// Cloud remote:
//
//	s3Store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("index/"))
//	dir, _ := tierstore.Open(ctx, "/var/lib/index", s3Store,
//	    tierstore.WithCacheCapacity(1<<30),
//	    tierstore.WithBlockCacheDir("/fast/nvme/blocks", 8<<30),
//	)
//
// # File Lifecycle
//
// A file moves through three states, tracked per name:
//
//	DISK         written locally, pinned in the cache until uploaded
//	CACHE        uploaded; the cached copy is evictable
//	REMOTE_ONLY  evicted or absent locally; read block-wise
//
//	out, _ := dir.CreateOutput("_0.cfs", directory.IOContextFlush)
//	out.Write(data)
//	out.Close()
//	dir.Flush(ctx, []string{"_0.cfs"})   // sync + upload + AfterUpload
//
//	in, _ := dir.OpenInput("_0.cfs", directory.IOContextDefault)
//	defer in.Close()
//
// Every handle returned by OpenInput is an independent clone; closing one
// never invalidates another.
//
// # Recovery
//
// Tracking state is process-local. Open rebuilds it from the local files
// and the remote manifest: uploaded files still on disk are cached,
// uploaded files missing locally are served remotely, and files never
// uploaded are picked up on first open.
//
// # Observability
//
// Use WithLogger for structured logging and WithMetricsCollector for
// metrics. Package prommetrics exports metrics to Prometheus; remote
// fetches are traced with OpenTelemetry when a tracer provider is set.
package tierstore
