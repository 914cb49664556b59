package codec

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
)

// encodeRDFXML writes the merged triple set as flat rdf:Description elements
func encodeRDFXML(w io.Writer, quads []*rdf.Quad) error {
	triples := mergeGraphs(quads)

	namespaces := map[string]string{rdf.RDFNamespace: "rdf"}
	type qname struct{ prefix, local string }
	predicates := make(map[string]qname)
	for _, q := range triples {
		iri := q.Predicate.(*rdf.NamedNode).IRI
		if _, ok := predicates[iri]; ok {
			continue
		}
		ns, local, ok := splitIRI(iri)
		if !ok {
			return fmt.Errorf("predicate %s cannot be written as an XML qualified name", iri)
		}
		prefix, ok := namespaces[ns]
		if !ok {
			prefix = fmt.Sprintf("ns%d", len(namespaces))
			namespaces[ns] = prefix
		}
		predicates[iri] = qname{prefix: prefix, local: local}
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(xml.Header)
	bw.WriteString("<rdf:RDF")
	nsList := make([]string, 0, len(namespaces))
	for ns := range namespaces {
		nsList = append(nsList, ns)
	}
	sort.Slice(nsList, func(i, j int) bool { return namespaces[nsList[i]] < namespaces[nsList[j]] })
	for _, ns := range nsList {
		fmt.Fprintf(bw, "\n    xmlns:%s=\"%s\"", namespaces[ns], escapeXML(ns))
	}
	bw.WriteString(">\n")

	for _, q := range triples {
		bw.WriteString("  <rdf:Description ")
		switch s := q.Subject.(type) {
		case *rdf.NamedNode:
			fmt.Fprintf(bw, "rdf:about=\"%s\">\n", escapeXML(s.IRI))
		case *rdf.BlankNode:
			fmt.Fprintf(bw, "rdf:nodeID=\"%s\">\n", escapeXML(nodeID(s.ID)))
		}

		name := predicates[q.Predicate.(*rdf.NamedNode).IRI]
		tag := name.prefix + ":" + name.local
		switch o := q.Object.(type) {
		case *rdf.NamedNode:
			fmt.Fprintf(bw, "    <%s rdf:resource=\"%s\"/>\n", tag, escapeXML(o.IRI))
		case *rdf.BlankNode:
			fmt.Fprintf(bw, "    <%s rdf:nodeID=\"%s\"/>\n", tag, escapeXML(nodeID(o.ID)))
		case *rdf.Literal:
			switch {
			case o.Language != "":
				fmt.Fprintf(bw, "    <%s xml:lang=\"%s\">%s</%s>\n", tag, escapeXML(o.Language), escapeXML(o.Value), tag)
			case o.Datatype != nil:
				fmt.Fprintf(bw, "    <%s rdf:datatype=\"%s\">%s</%s>\n", tag, escapeXML(o.Datatype.IRI), escapeXML(o.Value), tag)
			default:
				fmt.Fprintf(bw, "    <%s>%s</%s>\n", tag, escapeXML(o.Value), tag)
			}
		}
		bw.WriteString("  </rdf:Description>\n")
	}
	bw.WriteString("</rdf:RDF>\n")
	return bw.Flush()
}

// splitIRI splits an IRI into namespace and a local part that is a valid XML name
func splitIRI(iri string) (string, string, bool) {
	idx := strings.LastIndexAny(iri, "#/:")
	if idx < 0 || idx == len(iri)-1 {
		return "", "", false
	}
	local := iri[idx+1:]
	for i, r := range local {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.') {
			continue
		}
		return "", "", false
	}
	return iri[:idx+1], local, true
}

// nodeID maps a blank node label onto the XML NCName production
func nodeID(id string) string {
	var b strings.Builder
	b.WriteString("b")
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			fmt.Fprintf(&b, "_%x_", r)
		}
	}
	return b.String()
}

func escapeXML(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
