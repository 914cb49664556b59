package results

import (
	"encoding/xml"
	"io"

	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
)

// SPARQL Query Results XML Format
// https://www.w3.org/TR/rdf-sparql-XMLres/

const xmlNamespace = "http://www.w3.org/2005/sparql-results#"

type xmlDocument struct {
	XMLName xml.Name    `xml:"sparql"`
	Xmlns   string      `xml:"xmlns,attr"`
	Head    xmlHead     `xml:"head"`
	Results *xmlResults `xml:"results,omitempty"`
	Boolean *bool       `xml:"boolean,omitempty"`
}

type xmlHead struct {
	Variables []xmlVariable `xml:"variable"`
}

type xmlVariable struct {
	Name string `xml:"name,attr"`
}

type xmlResults struct {
	Results []xmlResult `xml:"result"`
}

type xmlResult struct {
	Bindings []xmlBinding `xml:"binding"`
}

type xmlBinding struct {
	Name    string      `xml:"name,attr"`
	URI     *string     `xml:"uri,omitempty"`
	BNode   *string     `xml:"bnode,omitempty"`
	Literal *xmlLiteral `xml:"literal,omitempty"`
}

type xmlLiteral struct {
	Value    string `xml:",chardata"`
	Lang     string `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Datatype string `xml:"datatype,attr,omitempty"`
}

// XMLWriter writes application/sparql-results+xml
type XMLWriter struct{}

func (XMLWriter) ContentType() string {
	return ContentTypeXML
}

func (XMLWriter) Write(w io.Writer, result *sparql.Result) error {
	doc := xmlDocument{Xmlns: xmlNamespace}
	if result.Kind == sparql.KindBoolean {
		value := result.Value
		doc.Boolean = &value
	} else {
		vars := variables(result)
		for _, name := range vars {
			doc.Head.Variables = append(doc.Head.Variables, xmlVariable{Name: name})
		}
		doc.Results = &xmlResults{}
		for _, row := range rows(result) {
			var r xmlResult
			for _, name := range vars {
				if term, ok := row.Vars[name]; ok && term != nil {
					r.Bindings = append(r.Bindings, toXMLBinding(name, term))
				}
			}
			doc.Results.Results = append(doc.Results.Results, r)
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func toXMLBinding(name string, term rdf.Term) xmlBinding {
	b := xmlBinding{Name: name}
	switch t := term.(type) {
	case *rdf.NamedNode:
		b.URI = &t.IRI
	case *rdf.BlankNode:
		b.BNode = &t.ID
	case *rdf.Literal:
		lit := &xmlLiteral{Value: t.Value, Lang: t.Language}
		if t.Language == "" && t.Datatype != nil {
			lit.Datatype = t.Datatype.IRI
		}
		b.Literal = lit
	default:
		b.Literal = &xmlLiteral{Value: term.String()}
	}
	return b
}
