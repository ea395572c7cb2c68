package lang

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var builtin []byte

var (
	mu       sync.RWMutex
	messages map[string]string
)

func init() {
	m, _, err := parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("lang: built-in catalog is invalid: %v", err))
	}
	messages = m
}

// Load overlays the catalog at path on top of the built-in English messages
// and returns the active language. Keys missing from the file keep their
// built-in text. On error the current catalog is left untouched.
func Load(path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}

	m, active, err := parse(data)
	if err != nil {
		return "", 0, fmt.Errorf("parse %s: %w", path, err)
	}

	mu.Lock()
	merged := make(map[string]string, len(messages)+len(m))
	for k, v := range messages {
		merged[k] = v
	}
	for k, v := range m {
		merged[k] = v
	}
	messages = merged
	mu.Unlock()

	return active, len(m), nil
}

func parse(data []byte) (map[string]string, string, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, "", err
	}

	activeLang := "en"
	if v, ok := raw["active_language"]; ok {
		if s, ok := v.(string); ok && s != "" {
			activeLang = s
		}
	}

	block, ok := raw[activeLang]
	if !ok {
		activeLang = "en"
		block, ok = raw[activeLang]
		if !ok {
			return map[string]string{}, activeLang, nil
		}
	}

	blockMap, ok := block.(map[string]interface{})
	if !ok {
		return map[string]string{}, activeLang, nil
	}

	m := make(map[string]string, len(blockMap))
	for k, v := range blockMap {
		if s, ok := v.(string); ok {
			m[k] = strings.TrimRight(s, "\n")
		}
	}
	return m, activeLang, nil
}

// T returns the message for key with {placeholder} pairs substituted.
func T(key string, pairs ...string) string {
	mu.RLock()
	s, ok := messages[key]
	mu.RUnlock()

	if !ok {
		return "{" + key + "}"
	}

	if len(pairs) == 0 {
		return s
	}

	for j := 0; j+1 < len(pairs); j += 2 {
		s = strings.ReplaceAll(s, "{"+pairs[j]+"}", pairs[j+1])
	}
	return s
}

