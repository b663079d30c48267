package recognizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ehr/phivault/internal/platform/phi"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// DefaultModelName is the token classification model used when none is
// configured.
const DefaultModelName = "KnightsAnalytics/distilbert-NER"

// labelTypes maps NER labels to vault entity types. Labels not listed are
// ignored.
var labelTypes = map[string]string{
	"PER":          phi.EntityPerson,
	"PERSON":       phi.EntityPerson,
	"LOC":          phi.EntityLocation,
	"LOCATION":     phi.EntityLocation,
	"GPE":          phi.EntityLocation,
	"ORG":          "ORGANIZATION",
	"ORGANIZATION": "ORGANIZATION",
	"DATE":         phi.EntityDateTime,
	"TIME":         phi.EntityDateTime,
}

// HugotRecognizer runs a token classification model in process.
type HugotRecognizer struct {
	mu             sync.Mutex
	session        *hugot.Session
	pipeline       *pipelines.TokenClassificationPipeline
	scoreThreshold float64
}

// NewHugotRecognizer loads the model at modelPath into a pure Go session.
func NewHugotRecognizer(modelPath string, scoreThreshold float64) (*HugotRecognizer, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "phi-ner",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create NER pipeline: %w", err)
	}

	return &HugotRecognizer{session: session, pipeline: pipeline, scoreThreshold: scoreThreshold}, nil
}

// Analyze implements Recognizer. The language is ignored; the loaded model
// decides what it understands.
func (h *HugotRecognizer) Analyze(ctx context.Context, text, _ string) ([]phi.Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pipeline == nil {
		return nil, fmt.Errorf("%w: recognizer closed", ErrUnavailable)
	}
	result, err := h.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: run NER: %v", ErrUnavailable, err)
	}
	if len(result.Entities) == 0 {
		return nil, nil
	}
	return convertEntities(text, result.Entities[0], h.scoreThreshold), nil
}

// Close releases the session.
func (h *HugotRecognizer) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil
	}
	err := h.session.Destroy()
	h.session = nil
	h.pipeline = nil
	return err
}

func convertEntities(text string, entities []pipelines.Entity, threshold float64) []phi.Span {
	var spans []phi.Span
	for _, e := range entities {
		entityType, ok := labelTypes[normalizeLabel(e.Entity)]
		if !ok {
			continue
		}
		score := float64(e.Score)
		if score < threshold {
			continue
		}
		start, end := int(e.Start), int(e.End)
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		spans = append(spans, phi.Span{
			Start:      utf8.RuneCountInString(text[:start]),
			End:        utf8.RuneCountInString(text[:end]),
			EntityType: entityType,
			Score:      score,
		})
	}
	return spans
}

// normalizeLabel strips BIO prefixes.
func normalizeLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	if strings.HasPrefix(label, "B-") || strings.HasPrefix(label, "I-") {
		return label[2:]
	}
	return label
}

// PrepareModel downloads modelName into dir unless it is already there and
// returns the model path.
func PrepareModel(modelName, dir string) (string, error) {
	modelPath := filepath.Join(dir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat model %s: %w", modelPath, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	downloadOptions := hugot.NewDownloadOptions()
	downloadOptions.OnnxFilePath = "model.onnx"
	downloadedPath, err := hugot.DownloadModel(modelName, dir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return downloadedPath, nil
}
