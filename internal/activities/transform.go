package activities

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/flowforge/engine/internal/execctx"
)

// TransformActivity implements the `transform` node type: reshaping data
// between CSV, JSON, and XML representations.
//
// config fields:
//
//	transform_type: "json2csv" | "xml2json" | "json2xml" (required)
//	data:           fallback payload when input["data"] is absent
//
// data is read from input["data"] first (so it can be wired via
// input_mapping to an upstream node's output) and falls back to
// config["data"] for a static payload, the same input-then-config
// precedence the log activity uses for its message field.
type TransformActivity struct{}

// Name returns the DSL type identifier for this activity.
func (a *TransformActivity) Name() string { return "transform" }

// Execute dispatches to the handler for the configured transform_type.
func (a *TransformActivity) Execute(input map[string]interface{}, config map[string]interface{}, ctx *execctx.Context) (map[string]interface{}, error) {
	transformType, ok := config["transform_type"].(string)
	if !ok || transformType == "" {
		return nil, fmt.Errorf("transform activity: missing required config field 'transform_type'")
	}

	data, ok := input["data"]
	if !ok {
		data = config["data"]
	}

	var result string
	var err error
	switch transformType {
	case "json2csv":
		result, err = rowsToCSV(data)
	case "xml2json":
		result, err = xmlDocToJSON(data)
	case "json2xml":
		result, err = jsonDocToXML(data)
	default:
		return nil, fmt.Errorf("transform activity: unknown transform_type %q", transformType)
	}
	if err != nil {
		return nil, fmt.Errorf("transform activity: %s: %w", transformType, err)
	}
	return map[string]interface{}{"result": result}, nil
}

// rowsToCSV renders a []interface{} of row objects as CSV text. Header
// order is sorted so the same row shape always produces byte-identical
// output regardless of Go's randomized map iteration order.
func rowsToCSV(data interface{}) (string, error) {
	rows, ok := data.([]interface{})
	if !ok {
		return "", fmt.Errorf("data must be an array of objects")
	}
	if len(rows) == 0 {
		return "", nil
	}

	firstRow, ok := rows[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("each row must be an object")
	}
	headers := sortedKeys(firstRow)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return "", err
	}
	for _, rowRaw := range rows {
		row, ok := rowRaw.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("each row must be an object")
		}
		record := make([]string, len(headers))
		for i, h := range headers {
			record[i] = cellString(row[h])
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// xmlDocToJSON parses an XML document string into a JSON object string.
// Sibling elements sharing a tag name are grouped into a JSON array, and
// attributes are exposed under an "@"-prefixed key.
func xmlDocToJSON(data interface{}) (string, error) {
	xmlStr, ok := data.(string)
	if !ok {
		return "", fmt.Errorf("data must be an XML string")
	}
	root, err := parseXMLElement(xml.NewDecoder(strings.NewReader(xmlStr)))
	if err != nil {
		return "", err
	}
	jsonBytes, err := json.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// parseXMLElement reads tokens from dec until it has assembled exactly one
// top-level element (attributes, text, and nested/repeated children) as a
// map[string]interface{}, or returns an empty map for an empty document.
func parseXMLElement(dec *xml.Decoder) (map[string]interface{}, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return map[string]interface{}{}, nil //nolint:nilerr // EOF before any element: empty document
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		node, err := decodeXMLNode(dec, start)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{start.Name.Local: node}, nil
	}
}

// decodeXMLNode decodes the children of start (already consumed) up to its
// matching EndElement, returning the element's JSON-shaped representation.
func decodeXMLNode(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	node := make(map[string]interface{}, len(start.Attr))
	for _, attr := range start.Attr {
		node["@"+attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("unexpected end of document inside <%s>: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLNode(dec, t)
			if err != nil {
				return nil, err
			}
			addXMLChild(node, t.Name.Local, child)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
					node["#text"] = trimmed
				}
				return node, nil
			}
		case xml.CharData:
			text.Write(t)
		}
	}
}

// addXMLChild inserts child under key, promoting the value to a slice the
// second time the same tag name appears among siblings.
func addXMLChild(node map[string]interface{}, key string, child interface{}) {
	existing, ok := node[key]
	if !ok {
		node[key] = child
		return
	}
	if list, ok := existing.([]interface{}); ok {
		node[key] = append(list, child)
		return
	}
	node[key] = []interface{}{existing, child}
}

// jsonDocToXML parses a JSON document string and renders it as an XML
// document wrapped in a <root> element, with object keys sorted for
// deterministic output and arrays rendered as repeated <item> elements.
func jsonDocToXML(data interface{}) (string, error) {
	jsonStr, ok := data.(string)
	if !ok {
		return "", fmt.Errorf("data must be a JSON string")
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	if err := writeXMLElement(&buf, "root", parsed); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeXMLElement(buf *bytes.Buffer, tag string, v interface{}) error {
	buf.WriteString("<" + tag + ">")
	defer buf.WriteString("</" + tag + ">")

	switch val := v.(type) {
	case map[string]interface{}:
		for _, k := range sortedKeys(val) {
			if err := writeXMLElement(buf, k, val[k]); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range val {
			if err := writeXMLElement(buf, "item", item); err != nil {
				return err
			}
		}
	case nil:
		// empty element
	default:
		var esc bytes.Buffer
		if err := xml.EscapeText(&esc, []byte(cellString(val))); err != nil {
			return err
		}
		buf.Write(esc.Bytes())
	}
	return nil
}
