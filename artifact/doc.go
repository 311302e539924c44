// Package artifact contains concrete implementations of core.ArtifactStore.
//
// The canonical ArtifactStore interface lives in the core package to avoid
// dependency cycles and keep domain contracts central. Implementation packages
// like this one (in-memory, local filesystem, S3 in the s3 subpackage) provide
// storage backends that can be swapped without touching calling code.
//
// Artifacts are scoped by run identifier. Save returns the location under
// which the artifact can be found again; render_plot reports that location as
// the artifact path of its tool result.
package artifact
