package providers

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/refrag/pkg/engine"
)

// RenderSystemPrompt flattens a context pack into the grounding prompt:
// hard requirements first, Band A verbatim, Band B verbatim, Band C as a
// compact fact digest. Numbered source tags give the model citeable
// anchors.
func RenderSystemPrompt(pack engine.ContextPack) string {
	var b strings.Builder
	b.WriteString("You are a grounded research assistant. Answer strictly from the provided context.\n")

	if len(pack.QueryGuard.HardRequirements) > 0 {
		b.WriteString("\n## Mandatory answer requirements\n")
		for _, req := range pack.QueryGuard.HardRequirements {
			b.WriteString("- ")
			b.WriteString(req)
			b.WriteString("\n")
		}
	}

	ref := 1
	if len(pack.BandA) > 0 {
		b.WriteString("\n## Primary context\n")
		ref = writeChunks(&b, pack.BandA, ref)
	}
	if len(pack.BandB) > 0 {
		b.WriteString("\n## Supporting context\n")
		ref = writeChunks(&b, pack.BandB, ref)
	}
	if len(pack.BandC) > 0 {
		b.WriteString("\n## Background facts\n")
		for _, entry := range pack.BandC {
			for _, fact := range entry.Facts {
				b.WriteString(fmt.Sprintf("- (%s) %s\n", fact.Type, factLine(fact)))
			}
		}
	}

	b.WriteString("\nCite sources with their [n] tags. If the context is insufficient, say so explicitly.\n")
	return b.String()
}

func writeChunks(b *strings.Builder, chunks []engine.Chunk, ref int) int {
	for _, chunk := range chunks {
		source := chunk.Source
		if source == "" {
			source = chunk.ID
		}
		fmt.Fprintf(b, "[%d] %s\n%s\n\n", ref, source, strings.TrimSpace(chunk.Text))
		ref++
	}
	return ref
}

func factLine(fact engine.Fact) string {
	if v, ok := fact.NumberValue(); ok {
		if unit := fact.Metadata["unit"]; unit != "" {
			return fmt.Sprintf("%g %s: %s", v, unit, fact.Context)
		}
		return fmt.Sprintf("%g: %s", v, fact.Context)
	}
	if v, ok := fact.StringValue(); ok {
		return v
	}
	return fact.Context
}
