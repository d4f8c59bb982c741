package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// LoadFeedsFile reads and validates a YAML endpoint list:
//
//	feeds:
//	  - name: ace
//	    url: https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-ace
func LoadFeedsFile(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds file: %w", err)
	}

	var file feedsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feeds file %s: %w", path, err)
	}

	v := validator.New()
	seen := make(map[string]bool, len(file.Feeds))
	for i, f := range file.Feeds {
		if err := v.Struct(f); err != nil {
			return nil, fmt.Errorf("feeds[%d]: %w", i, err)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("feeds[%d]: duplicate feed name %q", i, f.Name)
		}
		seen[f.Name] = true
	}

	return file.Feeds, nil
}
