package geo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 4 * time.Second

// ChainConfig describes the resolution chain. It is loaded from YAML:
//
//	timeout: 3s
//	sentinels:
//	  - {country: United States, city: Ashburn}
//	steps:
//	  - {source: platform}
//	  - {source: ip-api, candidate: primary}
type ChainConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Sentinels []Location    `yaml:"sentinels"`
	Steps     []Step        `yaml:"steps"`
}

// DefaultChainConfig tries edge headers, then ip-api.com with both
// candidates, then ipwho.is.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		Timeout:   DefaultTimeout,
		Sentinels: []Location{{Country: "US", City: "Ashburn"}},
		Steps: []Step{
			{Source: SourcePlatform},
			{Source: IPAPIName, Candidate: CandidatePrimary},
			{Source: IPAPIName, Candidate: CandidateSecondary},
			{Source: IPWhoName, Candidate: CandidatePrimary},
			{Source: IPWhoName, Candidate: CandidateSecondary},
		},
	}
}

// LoadChainConfig reads path, or returns the default chain when path is
// empty. Keys present in the file replace the defaults wholesale.
func LoadChainConfig(path string) (ChainConfig, error) {
	cfg := DefaultChainConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read geo chain: %w", err)
	}
	return ParseChainConfig(b)
}

// ParseChainConfig decodes YAML over the defaults, rejecting unknown keys.
func ParseChainConfig(b []byte) (ChainConfig, error) {
	cfg := DefaultChainConfig()
	var file ChainConfig
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse geo chain: %w", err)
	}
	if file.Timeout > 0 {
		cfg.Timeout = file.Timeout
	}
	if file.Sentinels != nil {
		cfg.Sentinels = file.Sentinels
	}
	if file.Steps != nil {
		cfg.Steps = file.Steps
	}
	for i := range cfg.Steps {
		if cfg.Steps[i].Source != SourcePlatform && cfg.Steps[i].Candidate == "" {
			cfg.Steps[i].Candidate = CandidatePrimary
		}
	}
	return cfg, nil
}
