package client

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/llmc-dev/llmc/internal/llm"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoder lazily loads the cl100k_base encoding. Loading is not free,
// so it happens at most once per process and only when a provider
// omits usage counts.
func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})

	return enc
}

func countTokens(text string) int {
	e := encoder()
	if e == nil {
		// Rough fallback when the encoding cannot load offline.
		return len(text) / 4
	}

	return len(e.Encode(text, nil, nil))
}

// estimateUsage approximates token counts locally when the upstream
// response carried none.
func estimateUsage(req *llm.ChatRequest, resp *llm.ChatResponse) llm.Usage {
	var in int
	for _, msg := range req.Messages {
		in += countTokens(msg.Content.PlainText())
	}

	out := countTokens(resp.Content)

	return llm.Usage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
	}
}
