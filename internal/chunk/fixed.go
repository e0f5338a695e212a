package chunk

// fixed slides a window over lines. Each window grows until the next line
// would exceed MaxTokens; the following window starts far enough back to
// repeat about OverlapTokens of the previous one.
func (c *MarkdownChunker) fixed(d *document) []*Chunk {
	var out []*Chunk
	n := len(d.lines)

	for start := d.body; start < n; {
		chars := 0
		end := start
		for end < n {
			lc := d.chars(end)
			if end > start && charsToTokens(chars+lc) > c.cfg.MaxTokens {
				break
			}
			chars += lc
			end++
		}

		if p := d.piece(start, end, d.breadcrumbAt(start)); p != nil {
			out = append(out, p)
		}
		if end >= n {
			break
		}

		next := end
		overlap := 0
		for next-1 > start {
			lc := d.chars(next - 1)
			if charsToTokens(overlap+lc) > c.cfg.OverlapTokens {
				break
			}
			overlap += lc
			next--
		}
		start = next
	}
	return out
}
