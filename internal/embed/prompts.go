package embed

import "strings"

// prompts holds the prefixes a model expects in front of each side of a
// retrieval pair.
type prompts struct {
	document string
	query    string
}

// qwen3QueryInstruct is the instruction qwen3-embedding models are trained with.
const qwen3QueryInstruct = "Instruct: Given a search query, retrieve relevant passages from personal notes\nQuery: "

// promptsFor returns the prefixes for a model. Unknown models get none.
func promptsFor(model string) prompts {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "nomic-embed"):
		return prompts{document: "search_document: ", query: "search_query: "}
	case strings.Contains(m, "qwen3-embedding"):
		return prompts{query: qwen3QueryInstruct}
	case strings.Contains(m, "mxbai-embed"):
		return prompts{query: "Represent this sentence for searching relevant passages: "}
	default:
		return prompts{}
	}
}

func (p prompts) forDocument(text string) string { return p.document + text }

func (p prompts) forQuery(text string) string { return p.query + text }
