package products

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

// Load decodes products from a JSON array, an object with a "products" or
// "items" array, or JSON Lines.
func Load(data []byte) ([]Product, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmpty
	}

	switch trimmed[0] {
	case '[':
		var list []Product
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode product array: %w", err)
		}
		return list, nil
	case '{':
		var wrapper struct {
			Products []Product `json:"products"`
			Items    []Product `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err == nil {
			if len(wrapper.Products) > 0 {
				return wrapper.Products, nil
			}
			if len(wrapper.Items) > 0 {
				return wrapper.Items, nil
			}
		}
		return loadLines(trimmed)
	}

	return nil, fmt.Errorf("unrecognized product document")
}

func loadLines(data []byte) ([]Product, error) {
	var list []Product
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var p Product
		if err := json.Unmarshal(text, &p); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}
		list = append(list, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	if len(list) == 0 {
		return nil, ErrEmpty
	}
	return list, nil
}
