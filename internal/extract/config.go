// Package extract turns parsed pricelist tables into tabular output: anchor
// resolution, row emission with fill-down and melt expansion, anomaly
// flagging, and CSV encoding.
package extract

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

// Config describes what to pull out of an upload's tables.
type Config struct {
	RowAnchor      string   `json:"row_anchor"`
	ValueAnchor    string   `json:"value_anchor"`
	MatchChild     string   `json:"match_child,omitempty"`
	Melt           bool     `json:"melt,omitempty"`
	Extras         []string `json:"extras,omitempty"`
	IncludePage    bool     `json:"include_page,omitempty"`
	IncludeHeading bool     `json:"include_heading,omitempty"`
	FillDownValue  bool     `json:"fill_down_value,omitempty"`
}

// configSchema is the closed record definition: both anchors required and
// non-empty, extras an ordered string list, unknown fields rejected.
const configSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["row_anchor", "value_anchor"],
	"properties": {
		"row_anchor":      {"type": "string", "minLength": 1},
		"value_anchor":    {"type": "string", "minLength": 1},
		"match_child":     {"type": "string"},
		"melt":            {"type": "boolean"},
		"extras":          {"type": "array", "items": {"type": "string"}},
		"include_page":    {"type": "boolean"},
		"include_heading": {"type": "boolean"},
		"fill_down_value": {"type": "boolean"}
	}
}`

var compiledConfigSchema = jsonschema.MustCompileString("extraction-config.json", configSchema)

// ParseConfig validates raw JSON against the config schema and decodes it.
func ParseConfig(raw []byte) (*Config, error) {
	var loose any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "config is not valid JSON")
	}
	if err := compiledConfigSchema.Validate(loose); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "invalid extraction config")
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "decoding extraction config")
	}
	cfg.RowAnchor = strings.TrimSpace(cfg.RowAnchor)
	cfg.ValueAnchor = strings.TrimSpace(cfg.ValueAnchor)
	if cfg.RowAnchor == "" || cfg.ValueAnchor == "" {
		return nil, apperr.New(apperr.Validation, "row_anchor and value_anchor must be non-empty")
	}
	return &cfg, nil
}
