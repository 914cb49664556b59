package results

import (
	"encoding/json"
	"io"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
)

// SPARQL 1.1 Query Results JSON Format
// https://www.w3.org/TR/sparql11-results-json/

type jsonDocument struct {
	Head    jsonHead     `json:"head"`
	Results *jsonResults `json:"results,omitempty"`
	Boolean *bool        `json:"boolean,omitempty"`
}

// Vars is nil for boolean results only, which have an empty head
type jsonHead struct {
	Vars *[]string `json:"vars,omitempty"`
}

type jsonResults struct {
	Bindings []map[string]jsonValue `json:"bindings"`
}

type jsonValue struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// JSONWriter writes application/sparql-results+json. Unbound variables are
// omitted from their solution.
type JSONWriter struct{}

func (JSONWriter) ContentType() string {
	return ContentTypeJSON
}

func (JSONWriter) Write(w io.Writer, result *sparql.Result) error {
	var doc jsonDocument
	if result.Kind == sparql.KindBoolean {
		value := result.Value
		doc.Boolean = &value
	} else {
		vars := variables(result)
		doc.Head.Vars = &vars
		solutions := rows(result)
		bindings := make([]map[string]jsonValue, 0, len(solutions))
		for _, row := range solutions {
			binding := make(map[string]jsonValue, len(row.Vars))
			for _, name := range vars {
				if term, ok := row.Vars[name]; ok && term != nil {
					binding[name] = toJSONValue(term)
				}
			}
			bindings = append(bindings, binding)
		}
		doc.Results = &jsonResults{Bindings: bindings}
	}
	return json.NewEncoder(w).Encode(doc)
}

func toJSONValue(term rdf.Term) jsonValue {
	switch t := term.(type) {
	case *rdf.NamedNode:
		return jsonValue{Type: "uri", Value: t.IRI}
	case *rdf.BlankNode:
		return jsonValue{Type: "bnode", Value: t.ID}
	case *rdf.Literal:
		v := jsonValue{Type: "literal", Value: t.Value}
		if t.Language != "" {
			v.Lang = t.Language
		} else if t.Datatype != nil {
			v.Datatype = t.Datatype.IRI
		}
		return v
	}
	return jsonValue{Type: "literal", Value: term.String()}
}
