package codec

import (
	"bufio"
	"io"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// encodeTriG writes one block per graph, default graph first, subjects grouped with ';'
func encodeTriG(w io.Writer, quads []*rdf.Quad) error {
	sorted := dedupe(quads)
	rdf.SortQuads(sorted)

	var graphOrder []string
	byGraph := make(map[string][]*rdf.Quad)
	for _, q := range sorted {
		g := rdf.SerializeTermCanonical(q.Graph)
		if _, ok := byGraph[g]; !ok {
			graphOrder = append(graphOrder, g)
		}
		byGraph[g] = append(byGraph[g], q)
	}

	bw := bufio.NewWriter(w)
	if quadsInDefault, ok := byGraph[""]; ok {
		writeTriGBlock(bw, quadsInDefault, "")
	}
	for _, g := range graphOrder {
		if g == "" {
			continue
		}
		bw.WriteString(g)
		bw.WriteString(" {\n")
		writeTriGBlock(bw, byGraph[g], "  ")
		bw.WriteString("}\n")
	}
	return bw.Flush()
}

func writeTriGBlock(bw *bufio.Writer, quads []*rdf.Quad, indent string) {
	var prevSubject string
	for i, q := range quads {
		subject := rdf.SerializeTermCanonical(q.Subject)
		if i > 0 && subject == prevSubject {
			bw.WriteString(" ;\n")
			bw.WriteString(indent)
			bw.WriteString("    ")
		} else {
			if i > 0 {
				bw.WriteString(" .\n")
			}
			bw.WriteString(indent)
			bw.WriteString(subject)
			bw.WriteByte(' ')
		}
		bw.WriteString(rdf.SerializeTermCanonical(q.Predicate))
		bw.WriteByte(' ')
		bw.WriteString(rdf.SerializeTermCanonical(q.Object))
		prevSubject = subject
	}
	if len(quads) > 0 {
		bw.WriteString(" .\n")
	}
}
