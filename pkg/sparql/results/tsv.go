package results

import (
	"bufio"
	"io"
	"strconv"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
)

// SPARQL 1.1 Query Results TSV Format
// https://www.w3.org/TR/sparql11-results-csv-tsv/

// TSVWriter writes text/tab-separated-values with terms in their Turtle
// form. Integers, decimals, doubles and booleans are written bare.
type TSVWriter struct{}

func (TSVWriter) ContentType() string {
	return ContentTypeTSV
}

func (TSVWriter) Write(w io.Writer, result *sparql.Result) error {
	bw := bufio.NewWriter(w)

	if result.Kind == sparql.KindBoolean {
		bw.WriteString("?_askResult\n")
		bw.WriteString(strconv.FormatBool(result.Value))
		bw.WriteString("\n")
		return bw.Flush()
	}

	vars := variables(result)
	for i, name := range vars {
		if i > 0 {
			bw.WriteByte('\t')
		}
		bw.WriteString("?" + name)
	}
	bw.WriteByte('\n')

	for _, row := range rows(result) {
		for i, name := range vars {
			if i > 0 {
				bw.WriteByte('\t')
			}
			if term, ok := row.Vars[name]; ok && term != nil {
				bw.WriteString(tsvValue(term))
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func tsvValue(term rdf.Term) string {
	lit, ok := term.(*rdf.Literal)
	if !ok {
		return rdf.SerializeTermCanonical(term)
	}
	if lit.Datatype != nil {
		switch lit.Datatype.IRI {
		case rdf.XSDInteger.IRI, rdf.XSDDecimal.IRI, rdf.XSDDouble.IRI, rdf.XSDBoolean.IRI:
			return lit.Value
		}
	}
	// canonical escapes cover \t \n \r \" and \\
	return rdf.SerializeTermCanonical(lit)
}
