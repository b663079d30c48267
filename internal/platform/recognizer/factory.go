package recognizer

import (
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by New.
const (
	BackendHTTP  = "http"
	BackendHugot = "hugot"
	BackendNone  = "none"
)

// Options selects and configures a backend.
type Options struct {
	Backend        string
	URL            string
	Timeout        time.Duration
	ScoreThreshold float64
	ModelPath      string
	ModelName      string
}

// New builds the backend named by opts.Backend. A hugot model missing from
// ModelPath is downloaded first.
func New(opts Options) (Recognizer, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendHTTP, "":
		if opts.URL == "" {
			return nil, fmt.Errorf("recognizer url is required for the http backend")
		}
		return NewHTTPClient(opts.URL,
			WithTimeout(opts.Timeout),
			WithScoreThreshold(opts.ScoreThreshold),
		), nil
	case BackendHugot:
		name := opts.ModelName
		if name == "" {
			name = DefaultModelName
		}
		path, err := PrepareModel(name, opts.ModelPath)
		if err != nil {
			return nil, err
		}
		return NewHugotRecognizer(path, opts.ScoreThreshold)
	case BackendNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend %q", opts.Backend)
	}
}
