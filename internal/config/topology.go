package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/FairForge/continuity/internal/ha"
)

// Format is the text encoding of a topology document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the encoding from a file extension. Anything that is
// not .toml is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// LoadCluster reads and validates a cluster document
func LoadCluster(path string) (ha.Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ha.Cluster{}, fmt.Errorf("read cluster: %w", err)
	}
	return ParseCluster(data, FormatFor(path))
}

// LoadPolicy reads and validates a policy document
func LoadPolicy(path string) (ha.FailoverPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ha.FailoverPolicy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data, FormatFor(path))
}

// ParseCluster decodes, schema-checks and validates a cluster document.
// Nodes without a status are taken as healthy.
func ParseCluster(data []byte, format Format) (ha.Cluster, error) {
	if err := validateDocument(data, format, clusterSchema); err != nil {
		return ha.Cluster{}, err
	}
	var c ha.Cluster
	if err := decode(data, format, &c); err != nil {
		return ha.Cluster{}, err
	}
	for i := range c.Nodes {
		if c.Nodes[i].Status == "" {
			c.Nodes[i].Status = ha.StatusHealthy
		}
	}
	return ha.NewCluster(c)
}

// ParsePolicy decodes, schema-checks and validates a policy document
func ParsePolicy(data []byte, format Format) (ha.FailoverPolicy, error) {
	if err := validateDocument(data, format, policySchema); err != nil {
		return ha.FailoverPolicy{}, err
	}
	var p ha.FailoverPolicy
	if err := decode(data, format, &p); err != nil {
		return ha.FailoverPolicy{}, err
	}
	return ha.NewFailoverPolicy(p)
}

// MarshalCluster encodes c in the given format
func MarshalCluster(c ha.Cluster, format Format) ([]byte, error) {
	return encode(c, format)
}

// MarshalPolicy encodes p in the given format
func MarshalPolicy(p ha.FailoverPolicy, format Format) ([]byte, error) {
	return encode(p, format)
}

func decode(data []byte, format Format, out any) error {
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), out); err != nil {
			return &ha.ConfigError{Field: "document", Msg: err.Error()}
		}
	default:
		if err := yaml.Unmarshal(data, out); err != nil {
			return &ha.ConfigError{Field: "document", Msg: err.Error()}
		}
	}
	return nil
}

// decodeGeneric returns the document as plain maps for schema validation
func decodeGeneric(data []byte, format Format) (map[string]any, error) {
	doc := map[string]any{}
	if err := decode(data, format, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func encode(v any, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	}
}
