package core

// ArtifactStore defines the interface for artifact persistence. Artifacts are
// scoped by run identifier. Save returns the location (file path or URI) under
// which the artifact can be retrieved; that location is what ends up in a
// FinalReport's artifact paths.
type ArtifactStore interface {
	Save(runID, name string, data []byte) (string, error)
	Get(runID, name string) ([]byte, error)
	List(runID string) ([]string, error)
	Delete(runID, name string) error
}
