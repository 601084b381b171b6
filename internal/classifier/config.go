package classifier

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/iamwavecut/ngtrust/internal/policy/violation"
	"gopkg.in/yaml.v2"
)

// PatternsConfig holds operator-defined patterns on top of the built-in rules.
type PatternsConfig struct {
	ExtraPatterns []ExtraPatternDef `yaml:"extra_patterns"`
}

type ExtraPatternDef struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Regex    string `yaml:"regex"`
}

type ExtraPattern struct {
	Name     string
	Category violation.Type
	Regex    *regexp.Regexp
}

// LoadPatterns reads the pattern file at path. An empty path or a missing file is not an
// error and yields a nil config.
func LoadPatterns(path string) (*PatternsConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read patterns file: %w", err)
	}
	var cfg PatternsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse patterns file: %w", err)
	}
	return &cfg, nil
}

// CompilePatterns validates definitions. Patterns match against normalized (lower-cased)
// text; categories this build does not know are kept under the unknown arm.
func CompilePatterns(cfg *PatternsConfig) ([]ExtraPattern, error) {
	if cfg == nil {
		return nil, nil
	}
	patterns := make([]ExtraPattern, 0, len(cfg.ExtraPatterns))
	for i, def := range cfg.ExtraPatterns {
		if strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: name is required", i)
		}
		if def.Regex == "" {
			return nil, fmt.Errorf("extra_patterns[%d] %q: regex is required", i, def.Name)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("extra_patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		patterns = append(patterns, ExtraPattern{
			Name:     def.Name,
			Category: violation.ParseType(def.Category),
			Regex:    re,
		})
	}
	return patterns, nil
}
