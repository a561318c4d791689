// Package scenario reads optimization scenarios: a schedule, explicit
// connection opportunities, domain timetables to generate more of them and
// optional constraint overrides.
package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/window"
)

// Format is the encoding of a scenario document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Document is a scenario as written on disk.
type Document struct {
	Name        string                        `json:"name" yaml:"name"`
	Schedule    *model.Schedule               `json:"schedule" yaml:"schedule"`
	Connections []model.ConnectionOpportunity `json:"connections" yaml:"connections"`
	Domains     window.DomainConfigs          `json:"domains" yaml:"domains"`
	// Day restricts the opportunities to those operating on that weekday.
	Day string `json:"day,omitempty" yaml:"day,omitempty"`
	// Constraints holds per-scenario overrides of the configured
	// constraints, using the same keys as the optimization section.
	Constraints map[string]any `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Scenario is a document ready for the engine.
type Scenario struct {
	Name        string
	Schedule    *model.Schedule
	Connections []model.ConnectionOpportunity
	Constraints model.OptimizationConstraints
}

// FormatFromPath infers the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported scenario format: %s", filepath.Ext(path))
	}
}

// Load reads and decodes the document at path.
func Load(path string) (*Document, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()
	doc, err := Decode(fh, f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// Decode reads one document from r.
func Decode(r io.Reader, f Format) (*Document, error) {
	var doc Document
	switch f {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported scenario format: %s", f)
	}
	if doc.Schedule == nil {
		return nil, fmt.Errorf("scenario has no schedule")
	}
	return &doc, nil
}

// Build validates the schedule, generates the domain opportunities, merges
// them with the explicit ones and overlays the constraint overrides on
// base. Explicit opportunities win over generated ones with the same id.
func (d *Document) Build(svc *window.Service, base model.OptimizationConstraints) (*Scenario, error) {
	if err := model.ValidateSchedule(d.Schedule); err != nil {
		return nil, err
	}
	generated, err := svc.GenerateAll(d.Schedule, d.Domains)
	if err != nil {
		return nil, fmt.Errorf("generate opportunities: %w", err)
	}
	conns := make([]model.ConnectionOpportunity, 0, len(d.Connections)+len(generated))
	explicit := make(map[string]struct{}, len(d.Connections))
	for _, c := range d.Connections {
		explicit[c.ID] = struct{}{}
		conns = append(conns, c)
	}
	for _, c := range generated {
		if _, ok := explicit[c.ID]; !ok {
			conns = append(conns, c)
		}
	}
	if d.Day != "" {
		day, err := ParseWeekday(d.Day)
		if err != nil {
			return nil, err
		}
		kept := conns[:0]
		for _, c := range conns {
			if c.OperatesOn(day) {
				kept = append(kept, c)
			}
		}
		conns = kept
	}
	cons, err := d.ApplyConstraints(base)
	if err != nil {
		return nil, err
	}
	name := d.Name
	if name == "" {
		name = d.Schedule.ID
	}
	return &Scenario{Name: name, Schedule: d.Schedule, Connections: conns, Constraints: cons}, nil
}

// ApplyConstraints returns base with the document overrides applied. base
// is left untouched.
func (d *Document) ApplyConstraints(base model.OptimizationConstraints) (model.OptimizationConstraints, error) {
	out := base
	out.TypeWeights = make(map[string]float64, len(base.TypeWeights))
	for k, v := range base.TypeWeights {
		out.TypeWeights[k] = v
	}
	out.StopOverrides = append([]model.StopOverride(nil), base.StopOverrides...)
	if len(d.Constraints) == 0 {
		return out, nil
	}
	raw, err := yaml.Marshal(d.Constraints)
	if err != nil {
		return base, fmt.Errorf("encode constraint overrides: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return base, fmt.Errorf("constraint overrides: %w", err)
	}
	if err := model.ValidateConstraints(out); err != nil {
		return base, err
	}
	return out, nil
}

// ParseWeekday accepts full or three letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) == 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
