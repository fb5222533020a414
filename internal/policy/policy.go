// Package policy loads operator overlays for the trust topology:
// replacement weight rows, replacement threshold sets, and gating
// engine knobs. An overlay is a YAML or JSON document validated twice,
// first against the embedded JSON schema and then with typed checks,
// before the registry merges it over the compiled-in defaults. Any
// validation failure rejects the whole overlay so a bad file can never
// half-apply.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trustplane/trustplane/pkg/models"
)

// overlayVersion is the only document version this build understands.
const overlayVersion = 1

// Overlay is a parsed, validated policy document. Weight rows and
// threshold sets replace the built-in row for their tier wholesale: a
// partial row would silently skew the remaining weights, so the
// registry rejects rows that do not cover the full catalog.
type Overlay struct {
	Version int `json:"version" yaml:"version"`

	// Weights holds replacement per-mille weight rows keyed by tier.
	// Each row must sum to exactly 1000.
	Weights map[models.TierName]map[models.Dimension]int `json:"weights,omitempty" yaml:"weights,omitempty"`

	// Thresholds holds replacement gating sets keyed by the tier an
	// agent is promoting out of.
	Thresholds map[models.TierName]map[models.Dimension]int `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Gating *GatingOverlay `json:"gating,omitempty" yaml:"gating,omitempty"`
}

// GatingOverlay carries optional gating engine knobs. Pointers so an
// absent field leaves the engine default untouched.
type GatingOverlay struct {
	DemotionFraction *float64 `json:"demotion_fraction,omitempty" yaml:"demotion_fraction,omitempty"`
	AutoPromote      *bool    `json:"auto_promote,omitempty" yaml:"auto_promote,omitempty"`
	AuditRetention   *int     `json:"audit_retention,omitempty" yaml:"audit_retention,omitempty"`
}

// Load reads and validates an overlay file. The format is chosen by
// extension: .json is parsed directly, anything else is treated as
// YAML.
func Load(path string) (*Overlay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read overlay: %w", err)
	}
	isJSON := strings.EqualFold(filepath.Ext(path), ".json")
	o, err := Parse(raw, isJSON)
	if err != nil {
		return nil, fmt.Errorf("policy: overlay %s: %w", path, err)
	}
	return o, nil
}

// Parse validates and decodes a raw overlay document.
func Parse(raw []byte, isJSON bool) (*Overlay, error) {
	doc := raw
	if !isJSON {
		var err error
		doc, err = yamlToJSON(raw)
		if err != nil {
			return nil, err
		}
	}

	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	var o Overlay
	if err := strictUnmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("decode overlay: %w", err)
	}
	if err := o.check(); err != nil {
		return nil, err
	}
	return &o, nil
}

// check runs the typed validations the schema cannot express.
func (o *Overlay) check() error {
	if o.Version != overlayVersion {
		return fmt.Errorf("unsupported overlay version %d, want %d", o.Version, overlayVersion)
	}
	for tier, row := range o.Weights {
		sum := 0
		for _, m := range row {
			sum += m
		}
		if sum != 1000 {
			return fmt.Errorf("weight row for %s sums to %d per mille, want 1000", tier, sum)
		}
	}
	return nil
}

// yamlToJSON reencodes the document so the schema validator and the
// strict decoder both see canonical JSON value types.
func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("reencode yaml document: %w", err)
	}
	return out, nil
}

// strictUnmarshal decodes JSON rejecting unknown fields and trailing
// content.
func strictUnmarshal(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	if err := dec.Decode(new(any)); err != io.EOF {
		return fmt.Errorf("unexpected trailing content")
	}
	return nil
}
