// Package products defines the product record submitted for classification.
// Fields the orchestrator inspects are typed; every other field is carried
// verbatim so products round-trip without loss.
package products

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attribute is a single name/value characteristic of a product.
type Attribute struct {
	Name  string `json:"attr_name"`
	Value string `json:"attr_value"`
}

// Product is a retail item to classify.
// ID is resolved from "id", "mongo_id.$oid", or "_id.$oid", in that order.
type Product struct {
	ID          string
	Title       string
	Description string
	Category    string
	Brand       string
	Attributes  []Attribute

	// Extra holds all remaining fields, including the original identifier fields.
	Extra map[string]json.RawMessage
}

// Enriched is a product re-emitted with its KTRU code. A nil KtruCode
// encodes as null.
type Enriched struct {
	Product
	KtruCode *string
}

var typedFields = []string{"title", "description", "category", "brand", "attributes", "ktru_code"}

// UnmarshalJSON decodes a flat product object.
func (p *Product) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out Product
	if err := decodeString(fields, "title", &out.Title); err != nil {
		return err
	}
	if err := decodeString(fields, "description", &out.Description); err != nil {
		return err
	}
	if err := decodeString(fields, "category", &out.Category); err != nil {
		return err
	}
	if err := decodeString(fields, "brand", &out.Brand); err != nil {
		return err
	}
	if raw, ok := fields["attributes"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.Attributes); err != nil {
			return fmt.Errorf("attributes: %w", err)
		}
	}

	out.ID = resolveID(fields)

	for _, name := range typedFields {
		delete(fields, name)
	}
	out.Extra = fields

	*p = out
	return nil
}

// MarshalJSON encodes the product as a flat object.
func (p Product) MarshalJSON() ([]byte, error) {
	return encode(p.fields())
}

// MarshalJSON encodes the product with a ktru_code field.
func (e Enriched) MarshalJSON() ([]byte, error) {
	m := e.Product.fields()
	if e.KtruCode != nil {
		m["ktru_code"] = *e.KtruCode
	} else {
		m["ktru_code"] = nil
	}
	return encode(m)
}

// UnmarshalJSON decodes an enriched product, reading ktru_code alongside
// the product fields.
func (e *Enriched) UnmarshalJSON(data []byte) error {
	if err := e.Product.UnmarshalJSON(data); err != nil {
		return err
	}

	var code struct {
		KtruCode *string `json:"ktru_code"`
	}
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	e.KtruCode = code.KtruCode
	return nil
}

// encode writes m without HTML escaping.
func encode(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (p Product) fields() map[string]any {
	m := make(map[string]any, len(p.Extra)+6)
	for k, v := range p.Extra {
		m[k] = v
	}

	if p.ID != "" && !hasIdentifier(p.Extra) {
		m["id"] = p.ID
	}

	m["title"] = p.Title
	if p.Description != "" {
		m["description"] = p.Description
	}
	if p.Category != "" {
		m["category"] = p.Category
	}
	if p.Brand != "" {
		m["brand"] = p.Brand
	}
	if p.Attributes != nil {
		m["attributes"] = p.Attributes
	}
	return m
}

func resolveID(fields map[string]json.RawMessage) string {
	if raw, ok := fields["id"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		var n json.Number
		if json.Unmarshal(raw, &n) == nil && n != "" {
			return n.String()
		}
	}

	for _, key := range []string{"mongo_id", "_id"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var oid struct {
			OID string `json:"$oid"`
		}
		if json.Unmarshal(raw, &oid) == nil && oid.OID != "" {
			return oid.OID
		}
	}

	return ""
}

func hasIdentifier(extra map[string]json.RawMessage) bool {
	for _, key := range []string{"id", "mongo_id", "_id"} {
		if _, ok := extra[key]; ok {
			return true
		}
	}
	return false
}

func decodeString(fields map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
