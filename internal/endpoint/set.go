package endpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSet is used when no endpoint definition is configured or the
// configured one cannot be parsed.
func DefaultSet() []Endpoint {
	return []Endpoint{
		{ID: "a", Address: "ws://localhost:9223"},
		{ID: "b", Address: "ws://localhost:9224"},
		{ID: "c", Address: "ws://localhost:9225"},
	}
}

// ParseJSON decodes a JSON object of id -> address. Keys keep their document
// order so that rotation follows the order the operator wrote them in.
func ParseJSON(raw string) ([]Endpoint, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode endpoints: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("decode endpoints: expected a JSON object")
	}

	var out []Endpoint
	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode endpoints: %w", err)
		}
		key, _ := keyTok.(string)
		var addr string
		if err := dec.Decode(&addr); err != nil {
			return nil, fmt.Errorf("decode endpoints: value for %q must be a string", key)
		}
		if seen[key] {
			return nil, fmt.Errorf("decode endpoints: duplicate id %q", key)
		}
		seen[key] = true
		out = append(out, Endpoint{ID: key, Address: addr})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode endpoints: %w", err)
	}
	return out, nil
}

type fileSet struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// ParseYAML decodes either a top-level list of {id, address} or a document
// with an "endpoints" key holding that list.
func ParseYAML(data []byte) ([]Endpoint, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("decode endpoints file: empty document")
	}
	if trimmed[0] == '-' {
		var list []Endpoint
		if err := yaml.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode endpoints file: %w", err)
		}
		return list, nil
	}
	var doc fileSet
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode endpoints file: %w", err)
	}
	return doc.Endpoints, nil
}

// LoadSet resolves the endpoint set at process start. A file wins over the
// inline JSON definition. Anything unusable, including blank or duplicate
// entries, falls back to DefaultSet.
func LoadSet(rawJSON, path string) []Endpoint {
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("endpoints: read %s failed, using defaults: %v", path, err)
			return DefaultSet()
		}
		set, err := ParseYAML(data)
		if err == nil {
			set, err = usable(set)
		}
		if err != nil {
			log.Printf("endpoints: %s unusable, using defaults: %v", path, err)
			return DefaultSet()
		}
		return set
	}

	if rawJSON = strings.TrimSpace(rawJSON); rawJSON == "" {
		return DefaultSet()
	}
	set, err := ParseJSON(rawJSON)
	if err == nil {
		set, err = usable(set)
	}
	if err != nil {
		log.Printf("endpoints: BROWSER_ENDPOINTS_JSON unusable, using defaults: %v", err)
		return DefaultSet()
	}
	return set
}

func usable(set []Endpoint) ([]Endpoint, error) {
	if len(set) == 0 {
		return nil, errors.New("no endpoints defined")
	}
	return normalize(set)
}
