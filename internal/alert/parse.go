package alert

import (
	"strings"
)

// Delimiter is the line that separates alert sections.
const Delimiter = "---"

var labels = [...]string{"title:", "snippet:", "source:", "link:"}

// SkippedSection describes a section that produced no record.
type SkippedSection struct {
	Index   int      `json:"index"` // zero-based among non-empty sections
	Missing []string `json:"missing"`
}

// Report is the outcome of a parse with diagnostics.
type Report struct {
	Alerts  []Fields
	Skipped []SkippedSection
}

// Parse splits content into delimited sections and returns one Fields
// per section that carries all four labels, in section order. Sections
// missing a label are dropped silently.
func Parse(content string) []Fields {
	return ParseReport(content).Alerts
}

// ParseReport is Parse plus the list of sections that were dropped and why.
func ParseReport(content string) Report {
	var rep Report
	for i, section := range splitSections(content) {
		f, missing := parseSection(section)
		if len(missing) > 0 {
			rep.Skipped = append(rep.Skipped, SkippedSection{Index: i, Missing: missing})
			continue
		}
		rep.Alerts = append(rep.Alerts, f)
	}
	return rep
}

// splitSections returns the non-blank sections of content, each as its lines.
func splitSections(content string) [][]string {
	var (
		sections [][]string
		current  []string
	)
	flush := func() {
		if strings.TrimSpace(strings.Join(current, "")) != "" {
			sections = append(sections, current)
		}
		current = nil
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == Delimiter {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return sections
}

func parseSection(lines []string) (Fields, []string) {
	var (
		values [len(labels)]string
		found  [len(labels)]bool
	)
	// Only the section as a whole is trimmed, so an indented label line
	// after the first is not a label.
	lines = strings.Split(strings.TrimSpace(strings.Join(lines, "\n")), "\n")
	for _, line := range lines {
		lower := strings.ToLower(line)
		for i, label := range labels {
			if found[i] || !strings.HasPrefix(lower, label) {
				continue
			}
			_, value, _ := strings.Cut(line, ":")
			values[i] = strings.TrimSpace(value)
			found[i] = true
		}
	}

	var missing []string
	for i, ok := range found {
		if !ok {
			missing = append(missing, strings.TrimSuffix(labels[i], ":"))
		}
	}
	if len(missing) > 0 {
		return Fields{}, missing
	}
	return Fields{Title: values[0], Snippet: values[1], Source: values[2], Link: values[3]}, nil
}

// SampleContent is a well-formed three-section example of the import format.
const SampleContent = `Title: AI startups raise $50B in 2023
Snippet: A new report shows that investment in artificial intelligence startups has reached a new peak, with a focus on generative AI and large language models.
Source: TechCrunch
Link: https://techcrunch.com/example-ai-funding
---
Title: Google announces new 'Roboto' font update
Snippet: The popular font 'Roboto' has received an update, improving readability across devices and adding new variable font axes for developers.
Source: Google Fonts Blog
Link: https://fonts.google.com/example-roboto-update
---
Title: Local bakery wins national pie contest
Snippet: "The Sweet Slice" bakery on Main Street has been awarded the "Best Apple Pie" in the country, drawing praise from judges for its flaky crust and unique spice blend.
Source: Anytown Gazette
Link: https://anytowngazette.com/example-pie
`
