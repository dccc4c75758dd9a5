package config

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/FairForge/continuity/internal/ha"
)

const clusterSchema = `{
  "type": "object",
  "required": ["cluster_id", "nodes"],
  "additionalProperties": false,
  "properties": {
    "cluster_id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "quorum_size": {"type": "integer", "minimum": 0},
    "regions": {"type": "array", "items": {"type": "string"}},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["node_id", "role"],
        "additionalProperties": false,
        "properties": {
          "node_id": {"type": "string", "minLength": 1},
          "hostname": {"type": "string"},
          "role": {"enum": ["primary", "secondary", "witness"]},
          "region": {"type": "string"},
          "site": {"type": "string"},
          "status": {"enum": ["healthy", "degraded", "failed", "unknown"]},
          "priority": {"type": "integer", "minimum": 0, "maximum": 1000},
          "capacity": {"type": "number", "minimum": 0, "maximum": 100}
        }
      }
    }
  }
}`

const policySchema = `{
  "type": "object",
  "required": ["policy_id", "strategy", "max_failover_time_s", "min_healthy_nodes"],
  "additionalProperties": false,
  "properties": {
    "policy_id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "strategy": {"enum": ["automatic", "manual", "quorum_based"]},
    "max_failover_time_s": {"type": "integer", "minimum": 1},
    "require_quorum": {"type": "boolean"},
    "region_priority": {"type": "array", "items": {"type": "string"}},
    "site_priority": {"type": "array", "items": {"type": "string"}},
    "min_healthy_nodes": {"type": "integer", "minimum": 1},
    "max_heartbeat_staleness_s": {"type": "number", "minimum": 0}
  }
}`

// validateDocument checks a decoded document against a JSON schema
func validateDocument(data []byte, format Format, schema string) error {
	doc, err := decodeGeneric(data, format)
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return &ha.ConfigError{Field: "document", Msg: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	var errs []string
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return &ha.ConfigError{Field: "document", Msg: strings.Join(errs, "; ")}
}
