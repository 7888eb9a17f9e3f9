package artifacts

// ArtifactStore publishes build outputs somewhere outside the workspace.
type ArtifactStore interface {
	StoreArtifact(artifactPath string, kind ArtifactKind, metadata map[string]any) (Artifact, error)
	RemoveArtifact(artifact Artifact) error
	Clear() error
	List() ([]Artifact, error)
}

var _ ArtifactStore = (*LocalArtifactStore)(nil)
