package transform

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/sepsisguard/platform/internal/shared/errors"
)

// FormatVersion is bumped whenever the artifact layout changes.
const FormatVersion = 1

type columnState struct {
	Numerical   []string `json:"numerical"`
	Categorical []string `json:"categorical"`
}

// payload is the checksummed part of the artifact. All four sub-components
// are written and read together.
type payload struct {
	FormatVersion int           `json:"format_version"`
	Lineage       uuid.UUID     `json:"lineage"`
	FittedAt      time.Time     `json:"fitted_at"`
	Columns       columnState   `json:"columns"`
	Imputer       *imputerState `json:"imputer"`
	Scaler        *scalerState  `json:"scaler"`
	Encoder       *encoderState `json:"encoder,omitempty"`
}

type artifact struct {
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// Marshal encodes the transform as one checksummed bundle.
func (t *Transform) Marshal() ([]byte, error) {
	if !t.fitted() {
		return nil, apperrors.NotFitted("Marshal")
	}

	body, err := json.Marshal(payload{
		FormatVersion: FormatVersion,
		Lineage:       t.lineage,
		FittedAt:      t.fittedAt,
		Columns:       columnState{Numerical: t.numerical, Categorical: t.categorical},
		Imputer:       t.imputer,
		Scaler:        t.scaler,
		Encoder:       t.encoder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transform: %w", err)
	}

	sum := sha256.Sum256(body)
	return json.Marshal(artifact{Checksum: hex.EncodeToString(sum[:]), Payload: body})
}

// Save writes the bundle atomically: a temp file in the target directory is
// synced and renamed over path.
func (t *Transform) Save(path string) error {
	data, err := t.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".transform-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// Load reads a bundle written by Save.
func Load(path string) (*Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a bundle. Any checksum, version, lineage or shape
// mismatch is a stale artifact error; no partial transform is returned.
func Unmarshal(data []byte) (*Transform, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, apperrors.StaleArtifact(fmt.Sprintf("artifact is not valid JSON: %v", err))
	}

	// hash the compact form so reformatted files still verify
	var compact bytes.Buffer
	if err := json.Compact(&compact, a.Payload); err != nil {
		return nil, apperrors.StaleArtifact(fmt.Sprintf("artifact payload is malformed: %v", err))
	}
	sum := sha256.Sum256(compact.Bytes())
	if hex.EncodeToString(sum[:]) != a.Checksum {
		return nil, apperrors.StaleArtifact("artifact checksum mismatch")
	}

	var p payload
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return nil, apperrors.StaleArtifact(fmt.Sprintf("artifact payload is malformed: %v", err))
	}
	if p.FormatVersion != FormatVersion {
		return nil, apperrors.StaleArtifact(fmt.Sprintf("artifact format %d, expected %d", p.FormatVersion, FormatVersion))
	}
	if p.Imputer == nil || p.Scaler == nil {
		return nil, apperrors.StaleArtifact("artifact is missing imputer or scaler state")
	}
	if p.Imputer.Lineage != p.Lineage || p.Scaler.Lineage != p.Lineage ||
		(p.Encoder != nil && p.Encoder.Lineage != p.Lineage) {
		return nil, apperrors.StaleArtifact("artifact mixes sub-fits from different lineages")
	}

	n := len(p.Columns.Numerical)
	if len(p.Imputer.Statistics) != n || len(p.Scaler.Mean) != n || len(p.Scaler.Scale) != n {
		return nil, apperrors.StaleArtifact("imputer or scaler width does not match numerical columns")
	}
	if len(p.Columns.Categorical) > 0 {
		if p.Encoder == nil || len(p.Encoder.Categories) != len(p.Columns.Categorical) {
			return nil, apperrors.StaleArtifact("encoder does not match categorical columns")
		}
		if p.Encoder.Missing != nil && len(p.Encoder.Missing) != len(p.Encoder.Categories) {
			return nil, apperrors.StaleArtifact("encoder missing-value flags do not match categorical columns")
		}
		for i := range p.Encoder.Missing {
			if p.Encoder.Missing[i] && len(p.Encoder.Categories[i]) == 0 {
				return nil, apperrors.StaleArtifact("encoder missing-value slot has no category")
			}
		}
	} else if p.Encoder != nil {
		return nil, apperrors.StaleArtifact("encoder present without categorical columns")
	}

	return &Transform{
		lineage:     p.Lineage,
		fittedAt:    p.FittedAt,
		numerical:   p.Columns.Numerical,
		categorical: p.Columns.Categorical,
		imputer:     p.Imputer,
		scaler:      p.Scaler,
		encoder:     p.Encoder,
	}, nil
}
