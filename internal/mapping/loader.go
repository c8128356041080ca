package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// mappingFile mirrors the on-disk YAML document.
type mappingFile struct {
	Name     string               `yaml:"name"`
	Messages map[string]yaml.Node `yaml:"messages"`
	Actions  []actionEntry        `yaml:"actions"`
}

type actionEntry struct {
	Message string  `yaml:"message"`
	Action  string  `yaml:"action"`
	Wait    float64 `yaml:"wait"`
}

// Load reads, decodes and validates the mapping file at path. The script
// name defaults to the file name without its extension.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	base := filepath.Base(path)
	return Parse(data, strings.TrimSuffix(base, filepath.Ext(base)))
}

// Parse decodes a mapping document. defaultName is used when the document
// carries no name of its own.
func Parse(data []byte, defaultName string) (*Script, error) {
	var doc mappingFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("error parsing the mapping file: document is empty")
		}
		return nil, fmt.Errorf("error parsing the mapping file: %w", err)
	}

	script := &Script{
		Name:     doc.Name,
		Messages: make(map[string][]byte, len(doc.Messages)),
		Actions:  make([]Action, 0, len(doc.Actions)),
	}
	if script.Name == "" {
		script.Name = defaultName
	}

	for name, node := range doc.Messages {
		if name == "" {
			return nil, errors.New("message names must not be empty")
		}
		payload, err := decodeMessage(&node)
		if err != nil {
			return nil, fmt.Errorf("message %q: %w", name, err)
		}
		script.Messages[name] = payload
		slog.Debug("mapping_message_loaded", "message", name, "bytes", len(payload))
	}

	for i, entry := range doc.Actions {
		if math.IsNaN(entry.Wait) || math.IsInf(entry.Wait, 0) {
			return nil, fmt.Errorf("action %d: wait must be a finite number of seconds", i)
		}
		// float64(MaxInt64) rounds up to 2^63, so >= rejects every overflow
		nanos := math.Round(entry.Wait * float64(time.Second))
		if nanos >= float64(math.MaxInt64) {
			return nil, fmt.Errorf("action %d: wait too large: %g seconds", i, entry.Wait)
		}
		script.Actions = append(script.Actions, Action{
			Message: entry.Message,
			Kind:    ParseActionKind(entry.Action),
			Wait:    time.Duration(nanos),
		})
	}

	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	return script, nil
}

// decodeMessage converts a message node to raw bytes. !!binary scalars are
// base64 payloads and double-quoted scalars were already unescaped by YAML,
// so both bypass escape decoding.
func decodeMessage(node *yaml.Node) ([]byte, error) {
	if node.Kind != yaml.ScalarNode {
		return nil, errors.New("message value must be a scalar")
	}
	var raw string
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	if node.Tag == "!!binary" || node.Style&yaml.DoubleQuotedStyle != 0 {
		return []byte(raw), nil
	}
	return DecodeEscapes(raw)
}
