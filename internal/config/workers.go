package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkerSpec is a statically configured worker registration
type WorkerSpec struct {
	ID           string   `yaml:"id"`
	Capabilities []string `yaml:"capabilities"`
	Endpoint     string   `yaml:"endpoint"`
}

type workersFile struct {
	Workers []WorkerSpec `yaml:"workers"`
}

// LoadWorkers reads worker registrations from a YAML file.
// An empty path yields no workers.
func LoadWorkers(path string) ([]WorkerSpec, error) {
	if path == "" {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workers file: %w", err)
	}

	return ParseWorkers(content)
}

// ParseWorkers decodes worker registrations from YAML
func ParseWorkers(content []byte) ([]WorkerSpec, error) {
	var file workersFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse workers file: %w", err)
	}

	for i, w := range file.Workers {
		if w.ID == "" {
			return nil, fmt.Errorf("worker %d: missing id", i)
		}
		if len(w.Capabilities) == 0 {
			return nil, fmt.Errorf("worker %s: no capabilities declared", w.ID)
		}
	}

	return file.Workers, nil
}
