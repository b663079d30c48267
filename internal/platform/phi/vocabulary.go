package phi

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabularyYAML []byte

// Vocabulary holds the curated word lists used by the clinical filter.
// Words are matched lower-cased against whitespace/hyphen separated tokens.
type Vocabulary struct {
	MedicalTerms    []string `yaml:"medical_terms"`
	FrequencyTokens []string `yaml:"frequency_tokens"`
}

// DefaultVocabulary returns the vocabulary compiled into the binary.
func DefaultVocabulary() (*Vocabulary, error) {
	v, err := ParseVocabulary(defaultVocabularyYAML)
	if err != nil {
		return nil, fmt.Errorf("default vocabulary: %w", err)
	}
	return v, nil
}

// LoadVocabulary reads a vocabulary file. An empty path yields the default
// vocabulary.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	v, err := ParseVocabulary(data)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	return v, nil
}

// ParseVocabulary decodes a YAML vocabulary document.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	return &v, nil
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
