// Package corpus supplies the documents that get indexed.
//
// The retrieval core only sees the Source and Document interfaces. FSSource
// is the shipped implementation: it walks a vault of markdown notes,
// honouring .gitignore files, and reads YAML frontmatter tags and inline
// #tags alongside the heading outline.
package corpus
