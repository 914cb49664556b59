package results

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
)

// SPARQL 1.1 Query Results CSV Format
// https://www.w3.org/TR/sparql11-results-csv-tsv/

// CSVWriter writes text/csv. Values lose their type: IRIs are bare, blank
// nodes keep their _: label and literals are reduced to their lexical form.
type CSVWriter struct{}

func (CSVWriter) ContentType() string {
	return ContentTypeCSV
}

func (CSVWriter) Write(w io.Writer, result *sparql.Result) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if result.Kind == sparql.KindBoolean {
		if err := cw.Write([]string{"_askResult"}); err != nil {
			return err
		}
		if err := cw.Write([]string{strconv.FormatBool(result.Value)}); err != nil {
			return err
		}
	} else {
		vars := variables(result)
		if err := cw.Write(vars); err != nil {
			return err
		}
		for _, row := range rows(result) {
			record := make([]string, len(vars))
			for i, name := range vars {
				if term, ok := row.Vars[name]; ok && term != nil {
					record[i] = csvValue(term)
				}
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func csvValue(term rdf.Term) string {
	switch t := term.(type) {
	case *rdf.NamedNode:
		return t.IRI
	case *rdf.BlankNode:
		return "_:" + t.ID
	case *rdf.Literal:
		return t.Value
	}
	return term.String()
}
