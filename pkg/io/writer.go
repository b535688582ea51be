package io

import (
	"encoding/json"
	"errors"
	"fmt"
	goio "io"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
)

// Format names an output encoding.
type Format string

// Supported output formats.
const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

// Report is the evaluation of one named series.
type Report struct {
	Source   string                   `json:"source" yaml:"source"`
	Results  []ensemble.AnomalyResult `json:"results" yaml:"results"`
	Degraded []ensemble.Degradation   `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// Anomalies returns the number of flagged observations.
func (r Report) Anomalies() int {
	return ensemble.Evaluation{Results: r.Results}.Anomalies()
}

// Writer is the interface for writing detection reports.
type Writer interface {
	// Write outputs a single report.
	Write(report Report) error

	// WriteAll outputs multiple reports.
	WriteAll(reports []Report) error

	// Close flushes anything buffered.
	Close() error
}

// NewWriter returns a Writer encoding reports as format onto w.
func NewWriter(w goio.Writer, format Format) (Writer, error) {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return &jsonWriter{enc: enc}, nil
	case FormatYAML:
		return &yamlWriter{enc: yaml.NewEncoder(w)}, nil
	case FormatTable:
		return &tableWriter{out: w}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

type jsonWriter struct {
	enc *json.Encoder
}

func (w *jsonWriter) Write(report Report) error {
	return w.enc.Encode(report)
}

func (w *jsonWriter) WriteAll(reports []Report) error {
	return w.enc.Encode(reports)
}

func (w *jsonWriter) Close() error { return nil }

type yamlWriter struct {
	enc *yaml.Encoder
}

func (w *yamlWriter) Write(report Report) error {
	return w.enc.Encode(report)
}

func (w *yamlWriter) WriteAll(reports []Report) error {
	for _, r := range reports {
		if err := w.enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *yamlWriter) Close() error {
	return w.enc.Close()
}

// tableWriter renders one table per report. Each detector column shows the
// raw score, suffixed with "*" when that detector flagged the observation.
type tableWriter struct {
	out goio.Writer
}

var anomalyMark = color.New(color.FgRed, color.Bold).SprintFunc()

func (w *tableWriter) Write(report Report) error {
	names := detectorNames(report.Results)

	t := table.NewWriter()
	t.SetOutputMirror(w.out)
	t.SetTitle(report.Source)
	t.SetStyle(table.StyleLight)

	header := table.Row{"#", "time bucket", "count", "anomalous"}
	for _, n := range names {
		header = append(header, n)
	}
	t.AppendHeader(header)

	for i, r := range report.Results {
		bucket := "-"
		if r.TimeBucket != nil {
			bucket = strconv.FormatInt(*r.TimeBucket, 10)
		}

		verdict := "no"
		if r.IsAnomalous {
			verdict = anomalyMark("YES")
		}

		row := table.Row{i, bucket, humanize.Comma(int64(r.Count)), verdict}
		for _, n := range names {
			v, ok := r.Details[n]
			if !ok {
				row = append(row, "-")
				continue
			}
			cell := strconv.FormatFloat(v.Score(), 'f', 3, 64)
			if v.Anomalous() {
				cell += "*"
			}
			row = append(row, cell)
		}
		t.AppendRow(row)
	}

	footer := fmt.Sprintf("%s of %s observations anomalous",
		humanize.Comma(int64(report.Anomalies())), humanize.Comma(int64(len(report.Results))))
	t.AppendFooter(table.Row{footer})

	t.Render()

	for _, d := range report.Degraded {
		if _, err := fmt.Fprintf(w.out, "skipped %s: %s\n", d.Detector, d.Reason); err != nil {
			return err
		}
	}

	return nil
}

func (w *tableWriter) WriteAll(reports []Report) error {
	for _, r := range reports {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *tableWriter) Close() error { return nil }

func detectorNames(results []ensemble.AnomalyResult) []string {
	var names []string
	for _, r := range results {
		for n := range r.Details {
			if !slices.Contains(names, n) {
				names = append(names, n)
			}
		}
	}
	slices.Sort(names)
	return names
}
