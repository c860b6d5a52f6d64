package report

import (
	"bytes"
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// document is the shared shape of the JSON and YAML output.
type document struct {
	Site        string         `json:"site,omitempty" yaml:"site,omitempty"`
	GeneratedAt string         `json:"generated_at,omitempty" yaml:"generated_at,omitempty"`
	ThresholdGB int64          `json:"threshold_gb" yaml:"threshold_gb"`
	Disks       []documentDisk `json:"disks" yaml:"disks"`
	Summary     summary        `json:"summary" yaml:"summary"`
	Warnings    []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

type documentDisk struct {
	Path        string `json:"path" yaml:"path"`
	Name        string `json:"name" yaml:"name"`
	TotalGB     int64  `json:"total_gb" yaml:"total_gb"`
	UsedGB      int64  `json:"used_gb" yaml:"used_gb"`
	AvailableGB int64  `json:"available_gb" yaml:"available_gb"`
	Low         bool   `json:"low" yaml:"low"`
}

type summary struct {
	Disks       int   `json:"disks" yaml:"disks"`
	Low         int   `json:"low" yaml:"low"`
	TotalGB     int64 `json:"total_gb" yaml:"total_gb"`
	UsedGB      int64 `json:"used_gb" yaml:"used_gb"`
	AvailableGB int64 `json:"available_gb" yaml:"available_gb"`
}

func buildDocument(r *Result) document {
	disks := make([]documentDisk, len(r.Disks))
	low := 0
	for i, d := range r.Disks {
		isLow := d.IsLow(r.ThresholdGB)
		if isLow {
			low++
		}
		disks[i] = documentDisk{
			Path:        d.Path,
			Name:        d.Name(),
			TotalGB:     d.TotalGB,
			UsedGB:      d.UsedGB,
			AvailableGB: d.AvailableGB,
			Low:         isLow,
		}
	}

	total, used, available := r.Totals()
	doc := document{
		Site:        r.Site,
		ThresholdGB: r.ThresholdGB,
		Disks:       disks,
		Summary: summary{
			Disks:       len(r.Disks),
			Low:         low,
			TotalGB:     total,
			UsedGB:      used,
			AvailableGB: available,
		},
		Warnings: r.Warnings,
	}
	if !r.GeneratedAt.IsZero() {
		doc.GeneratedAt = r.GeneratedAt.Format(time.RFC3339)
	}
	return doc
}

// JSONFormatter formats output as a single indented JSON object.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildDocument(r))
}

// YAMLFormatter formats output as YAML with the same structure as JSON.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(buildDocument(r)); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
)
