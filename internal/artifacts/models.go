package artifacts

type ArtifactKind string

const (
	StemcellArtifact ArtifactKind = "stemcell" // Built stemcell tarball
	SettingsArtifact ArtifactKind = "settings" // Settings file a build ran with
)

type Artifact struct {
	ID   string       `json:"id"`
	Kind ArtifactKind `json:"kind"`
	URI  string       `json:"uri"`

	Checksum    *string        `json:"checksum,omitempty"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
