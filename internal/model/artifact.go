package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"trainflow/internal/features"
	"trainflow/internal/fileutil"
)

// Manifest describes how an artifact was produced. FeatureColumns is the
// only column order predictions may use.
type Manifest struct {
	ID             string            `json:"id"`
	Version        string            `json:"version"`
	FeatureColumns []string          `json:"feature_columns"`
	Encoders       features.Encoders `json:"encoders"`
	Metrics        Metrics           `json:"metrics"`
	Params         Params            `json:"params"`
	TrainedAt      time.Time         `json:"trained_at"`
	Rows           int               `json:"rows"`
}

// Artifact is what gets persisted: the manifest and the ensemble travel in
// one file so a reader never pairs a model with another model's columns.
type Artifact struct {
	Manifest Manifest  `json:"manifest"`
	Model    *Ensemble `json:"model"`
}

// Predict scores a row laid out in Manifest.FeatureColumns order.
func (a *Artifact) Predict(row []float64) float64 {
	return a.Model.Predict(row)
}

// PredictTable aligns table to the manifest columns by name and scores
// every row.
func (a *Artifact) PredictTable(t *features.Table) []float64 {
	m := t.Align(a.Manifest.FeatureColumns)
	if m.IsEmpty() {
		return nil
	}
	n, _ := m.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = a.Model.Predict(m.RawRowView(i))
	}
	return out
}

// ManifestPath is the sibling manifest file of an artifact path.
func ManifestPath(path string) string {
	return strings.TrimSuffix(path, ".json") + ".manifest.json"
}

// SaveArtifact writes the artifact and its sibling manifest, each through
// an atomic replace. The artifact goes first; the manifest is informational.
func SaveArtifact(path string, a *Artifact) error {
	if a == nil || a.Model == nil {
		return errors.New("save artifact: nil model")
	}
	err := fileutil.WriteFunc(path, 0o644, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(a)
	})
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}

	manifest, err := json.MarshalIndent(a.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	if err := fileutil.WriteFile(ManifestPath(path), append(manifest, '\n'), 0o644); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var a Artifact
	if err := json.NewDecoder(f).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if a.Model == nil {
		return nil, fmt.Errorf("artifact %s has no model", path)
	}
	if a.Model.Features != len(a.Manifest.FeatureColumns) {
		return nil, fmt.Errorf("artifact %s: model expects %d features, manifest lists %d",
			path, a.Model.Features, len(a.Manifest.FeatureColumns))
	}
	return &a, nil
}

// CopyArtifact copies an artifact and its manifest, if any.
func CopyArtifact(src, dst string) error {
	if err := fileutil.CopyFile(src, dst); err != nil {
		return err
	}
	if fileutil.Exists(ManifestPath(src)) {
		return fileutil.CopyFile(ManifestPath(src), ManifestPath(dst))
	}
	return fileutil.RemoveIfExists(ManifestPath(dst))
}

// RemoveArtifact deletes an artifact and its manifest. Missing files are
// not an error.
func RemoveArtifact(path string) error {
	return errors.Join(
		fileutil.RemoveIfExists(path),
		fileutil.RemoveIfExists(ManifestPath(path)),
	)
}
