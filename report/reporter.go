package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"clickup-metrics/metrics"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Format names an output encoding for a metrics tree.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// ParseFormat parses a format name; empty means FormatText.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML, FormatCSV:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Document is the structured form of a report used by the JSON and YAML
// exporters.
type Document struct {
	GeneratedAt time.Time       `json:"generated_at" yaml:"generated_at"`
	Policy      metrics.Policy  `json:"policy" yaml:"policy"`
	Summary     metrics.Summary `json:"summary" yaml:"summary"`
	Tree        *metrics.Node   `json:"tree" yaml:"tree"`
}

// NewDocument wraps a metrics tree with its summary.
func NewDocument(root *metrics.Node, opts metrics.Options) Document {
	return Document{
		GeneratedAt: time.Now().UTC(),
		Policy:      opts.Policy,
		Summary:     metrics.Summarize(root),
		Tree:        root,
	}
}

// Render lists the tree in pre-order, one line per task, indented with one
// tab per level:
//
//	<identifier> <name> - points: <points> (<total>), time_spent: <days> (<total>)
//
// Lines are joined by newlines with no trailing newline.
func Render(root *metrics.Node) string {
	if root == nil {
		return ""
	}
	var lines []string
	var visit func(n *metrics.Node, depth int)
	visit = func(n *metrics.Node, depth int) {
		lines = append(lines, renderLine(n, depth))
		for _, child := range n.Children {
			visit(child, depth+1)
		}
	}
	visit(root, 0)
	return strings.Join(lines, "\n")
}

func renderLine(n *metrics.Node, depth int) string {
	return fmt.Sprintf("%s%s %s - points: %s (%s), time_spent: %d (%d)",
		strings.Repeat("\t", depth), n.Identifier, n.Name,
		formatPoints(n.Points), formatPoints(n.TotalPoints),
		n.DevDays, n.TotalDevDays)
}

// formatPoints prints the shortest decimal that reads back as p: 3, 2.5.
func formatPoints(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// WriteSummary writes a console report: a header, the settings used, the
// whole-tree figures and the rendered tree.
func WriteSummary(w io.Writer, root *metrics.Node, opts metrics.Options) {
	s := metrics.Summarize(root)

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(w, "CLICKUP TASK METRICS REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 60))

	fmt.Fprintln(w, "\n⚙️  SETTINGS")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "Aggregation Policy: %s\n", opts.Policy)
	fmt.Fprintf(w, "Dev Status Order Index: >= %d\n", opts.DevOrderIndex)
	if opts.ExcludeWeekends {
		fmt.Fprintf(w, "Weekends: excluded (%s)\n", opts.WeekendMode)
	} else {
		fmt.Fprintln(w, "Weekends: included")
	}

	fmt.Fprintln(w, "\n📊 SUMMARY")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "Tasks: %d (Leaves: %d, Depth: %d)\n", s.Tasks, s.Leaves, s.Depth)
	fmt.Fprintf(w, "Story Points: %s\n", formatPoints(s.Points))
	fmt.Fprintf(w, "Dev Days: %d\n", s.DevDays)
	fmt.Fprintf(w, "Dev Days per Point: %.2f\n", s.DaysPerPoint)

	fmt.Fprintln(w, "\n📋 TASK TREE")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintln(w, Render(root))

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
}

// Write encodes the tree to w in the given format. FormatText writes the
// plain rendered tree.
func Write(w io.Writer, root *metrics.Node, opts metrics.Options, format Format) error {
	switch format {
	case FormatText, "":
		_, err := io.WriteString(w, Render(root)+"\n")
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewDocument(root, opts))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewDocument(root, opts)); err != nil {
			return err
		}
		return enc.Close()
	case FormatCSV:
		return writeCSV(w, root)
	}
	return fmt.Errorf("unknown report format %q", format)
}

// Export writes the tree to filename on fs in the given format.
func Export(fs afero.Fs, root *metrics.Node, opts metrics.Options, format Format, filename string) error {
	file, err := fs.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	if err := Write(file, root, opts, format); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return file.Close()
}

// ExportToJSON saves the report to a JSON file.
func ExportToJSON(fs afero.Fs, root *metrics.Node, opts metrics.Options, filename string) error {
	return Export(fs, root, opts, FormatJSON, filename)
}

// ExportToYAML saves the report to a YAML file.
func ExportToYAML(fs afero.Fs, root *metrics.Node, opts metrics.Options, filename string) error {
	return Export(fs, root, opts, FormatYAML, filename)
}

// ExportToCSV saves one row per task to a CSV file.
func ExportToCSV(fs afero.Fs, root *metrics.Node, filename string) error {
	return Export(fs, root, metrics.Options{}, FormatCSV, filename)
}

var csvHeader = []string{"Depth", "Identifier", "Name", "Points", "Total Points", "Dev Days", "Total Dev Days"}

func writeCSV(w io.Writer, root *metrics.Node) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	var visit func(n *metrics.Node, depth int) error
	visit = func(n *metrics.Node, depth int) error {
		row := []string{
			strconv.Itoa(depth),
			n.Identifier,
			n.Name,
			formatPoints(n.Points),
			formatPoints(n.TotalPoints),
			strconv.Itoa(n.DevDays),
			strconv.Itoa(n.TotalDevDays),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
		for _, child := range n.Children {
			if err := visit(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if root != nil {
		if err := visit(root, 0); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
