// Package report generates the static HTML run report. The report is
// composed as markdown from the on-disk ledgers and ranking files,
// converted to HTML, and wrapped in a minimal page shell.
package report

import (
	"bufio"
	"bytes"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"dockflow/internal/errors"
	"dockflow/internal/layout"
	"dockflow/internal/ledger"
)

// topRows caps how many rows of each ranking appear in the report.
const topRows = 20

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 60em; margin: 2em auto; padding: 0 1em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.25em 0.75em; text-align: left; }
code { background: #f4f4f4; padding: 0.1em 0.3em; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`

type pageData struct {
	Title string
	Body  template.HTML
}

// Input names everything the report draws on.
type Input struct {
	Layout     layout.Layout
	Ledger     ledger.ScoreLedger
	Targets    []string
	References []string
}

// Write renders the report and writes it to the canonical location,
// returning that path.
func Write(in Input) (string, error) {
	md, err := compose(in)
	if err != nil {
		return "", err
	}

	// Pipe tables need the GFM table extension.
	md2html := goldmark.New(goldmark.WithExtensions(extension.Table))

	var body bytes.Buffer
	if err := md2html.Convert([]byte(md), &body); err != nil {
		return "", errors.NewInternal(fmt.Errorf("markdown conversion failed: %w", err))
	}

	tmpl := template.Must(template.New("page").Parse(pageTemplate))
	var page bytes.Buffer
	if err := tmpl.Execute(&page, pageData{
		Title: "Docking Run Report",
		Body:  template.HTML(body.String()),
	}); err != nil {
		return "", errors.NewInternal(err)
	}

	path := in.Layout.ReportHTML()
	if err := os.WriteFile(path, page.Bytes(), 0644); err != nil {
		return "", errors.NewInternal(err)
	}
	return path, nil
}

// compose builds the report's markdown source.
func compose(in Input) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Docking Run Report\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", time.Now().UTC().Format("2006-01-02 15:04 UTC"))

	fmt.Fprintf(&b, "## Score ledgers\n\n")
	for _, target := range in.Targets {
		records, err := in.Ledger.Records(target)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "### %s\n\n", target)
		if len(records) == 0 {
			fmt.Fprintf(&b, "No scores recorded.\n\n")
			continue
		}
		fmt.Fprintf(&b, "%d scores recorded. Best %d:\n\n", len(records), min(topRows, len(records)))
		b.WriteString("| Score | Name |\n|---|---|\n")
		for i, r := range records {
			if i >= topRows {
				break
			}
			fmt.Fprintf(&b, "| %s | `%s` |\n", ledger.FormatScore(r.Score), r.Name)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Substitutability rankings\n\n")
	for _, ref := range in.References {
		rows, err := readRankedFile(in.Layout.RMSFile(ref))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "### Reference %s\n\n", ref)
		if len(rows) == 0 {
			fmt.Fprintf(&b, "No ranking available.\n\n")
			continue
		}
		b.WriteString("| RMS | Name |\n|---|---|\n")
		for i, row := range rows {
			if i >= topRows {
				break
			}
			fmt.Fprintf(&b, "| %s | `%s` |\n", row[0], row[1])
		}
		b.WriteString("\n")
	}

	failures, err := readRankedFile(in.Layout.FailedAttempts())
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "## Failed score extractions\n\n")
	if len(failures) == 0 {
		fmt.Fprintf(&b, "None.\n")
	} else {
		b.WriteString("| Name | Target |\n|---|---|\n")
		for _, row := range failures {
			fmt.Fprintf(&b, "| `%s` | %s |\n", row[0], row[1])
		}
	}

	return b.String(), nil
}

// readRankedFile reads a two-column value/name file, skipping the
// header. A missing file reads as empty.
func readRankedFile(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewInternal(err)
	}
	defer f.Close()

	var rows [][2]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		first, rest, found := strings.Cut(line, " ")
		if !found {
			continue
		}
		rows = append(rows, [2]string{first, strings.TrimSpace(rest)})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}
