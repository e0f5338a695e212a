package search

import "strings"

// FormatContext renders results as one text block, each result under a
// "### {document} > {breadcrumb}" header, separated by blank lines. The
// breadcrumb part is omitted when a result has none. Empty input gives "".
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("### ")
		b.WriteString(Header(r))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(r.Content))
	}
	return b.String()
}

// Header is the document id followed by the breadcrumb, if any.
func Header(r Result) string {
	if len(r.Breadcrumb) == 0 {
		return r.DocumentID
	}
	return r.DocumentID + " > " + strings.Join(r.Breadcrumb, " > ")
}
