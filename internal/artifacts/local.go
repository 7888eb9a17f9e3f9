package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// LocalArtifactStore copies artifacts into BaseDir and keeps a JSON metadata
// document next to each of them.
type LocalArtifactStore struct {
	BaseDir string
}

// StoreArtifact copies the artifact into the store under a fresh ID and
// records its sha256 checksum.
func (store *LocalArtifactStore) StoreArtifact(artifactPath string, kind ArtifactKind, metadata map[string]any) (Artifact, error) {
	if store.BaseDir == "" {
		return Artifact{}, errors.New("base directory is not configured")
	}
	if artifactPath == "" {
		return Artifact{}, errors.New("artifact path is required")
	}

	if err := os.MkdirAll(store.BaseDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact directory: %w", err)
	}

	src, err := os.Open(artifactPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	artifactID := uuid.NewString()
	destPath := filepath.Join(store.BaseDir, artifactID+extension(artifactPath))

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Artifact{}, fmt.Errorf("create artifact copy: %w", err)
	}

	digest := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, digest), src); err != nil {
		dst.Close()
		_ = os.Remove(destPath)
		return Artifact{}, fmt.Errorf("copy artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(destPath)
		return Artifact{}, fmt.Errorf("copy artifact: %w", err)
	}

	checksum := "sha256:" + hex.EncodeToString(digest.Sum(nil))
	absPath, err := filepath.Abs(destPath)
	if err != nil {
		return Artifact{}, err
	}

	meta := maps.Clone(metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["source_name"] = filepath.Base(artifactPath)

	artifact := Artifact{
		ID:          artifactID,
		Kind:        kind,
		URI:         FileURI(absPath),
		Checksum:    &checksum,
		ContentType: detectContentType(artifactPath),
		Metadata:    meta,
	}

	if err := store.writeMetadata(absPath, artifact); err != nil {
		_ = os.Remove(absPath)
		return Artifact{}, err
	}
	return artifact, nil
}

// RemoveArtifact deletes the artifact file and its metadata document.
func (store *LocalArtifactStore) RemoveArtifact(artifact Artifact) error {
	path, err := PathFromURI(artifact.URI)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(metadataPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Clear removes everything under the store's base directory.
func (store *LocalArtifactStore) Clear() error {
	entries, err := os.ReadDir(store.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(store.BaseDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// List returns every artifact in the store that has a metadata document,
// ordered by URI.
func (store *LocalArtifactStore) List() ([]Artifact, error) {
	entries, err := os.ReadDir(store.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}

	var listed []Artifact
	for _, entry := range entries {
		if entry.IsDir() || !names[metadataPath(entry.Name())] {
			continue
		}
		artifact, err := LoadArtifact(filepath.Join(store.BaseDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		listed = append(listed, artifact)
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].URI < listed[j].URI })
	return listed, nil
}

// LoadArtifact reads the metadata document stored next to path.
func LoadArtifact(path string) (Artifact, error) {
	payload, err := os.ReadFile(metadataPath(path))
	if err != nil {
		return Artifact{}, err
	}
	var artifact Artifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("decode artifact metadata: %w", err)
	}
	return artifact, nil
}

func (store *LocalArtifactStore) writeMetadata(filePath string, artifact Artifact) error {
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metadataPath(filePath), payload, 0o644)
}

func metadataPath(path string) string {
	return path + ".json"
}

// extension keeps compound suffixes such as .tar.gz intact.
func extension(path string) string {
	base := strings.ToLower(filepath.Base(path))
	for _, compound := range []string{".tar.gz", ".tar.bz2", ".tar.xz"} {
		if strings.HasSuffix(base, compound) {
			return compound
		}
	}
	return filepath.Ext(path)
}

func detectContentType(path string) string {
	switch strings.ToLower(extension(path)) {
	case ".tgz", ".gz", ".tar.gz":
		return "application/gzip"
	case ".json":
		return "application/json"
	case ".bash", ".sh":
		return "text/x-shellscript"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
