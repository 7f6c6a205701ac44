// Package loader reads a pipeline document from disk and normalizes it
// into the canonical model.Document, merging hyphen-case and camelCase
// key variants and lifting the "step"/"parallel" wrapper keys used by the
// source YAML shape.
//
// This generalizes the teacher's internal/core/parser.go (a bare
// yaml.Unmarshal) into a two-pass load: normalize the raw yaml.Node tree,
// then decode the normalized tree into the typed model.
package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"blockci-q/internal/model"
)

// keyAliases maps a hyphen-case key to its canonical camelCase form.
// When both forms appear in the same mapping, camel wins (spec §4.1).
var keyAliases = map[string]string{
	"max-time":        "maxTime",
	"after-script":    "afterScript",
	"run-as-user":     "runAsUser",
	"pull-requests":   "pullrequests",
	"fail-fast":       "failFast",
	"include-paths":   "includePaths",
	"exclude-paths":   "excludePaths",
	"skip-ssl-verify": "skipSslVerify",
}

// Load reads path from disk and returns the normalized document.
func Load(path string) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.Wrapf(model.KindNotFound, "pipeline document not found: %s", path)
		}
		return nil, model.Wrap(model.KindIO, err)
	}
	return Parse(data)
}

// Parse normalizes and decodes raw pipeline document bytes.
func Parse(data []byte) (*model.Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, model.Wrapf(model.KindParse, "invalid YAML: %v", err)
	}
	if len(root.Content) == 0 {
		return nil, model.Wrapf(model.KindParse, "pipeline document is empty")
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, model.Wrapf(model.KindParse, "pipeline document must be a mapping")
	}

	normalize(doc)

	if getKey(doc, "pipelines") == nil {
		return nil, model.Wrapf(model.KindValidation, "pipelines is required")
	}

	var out model.Document
	if err := doc.Decode(&out); err != nil {
		return nil, model.Wrap(model.KindValidation, err)
	}
	return &out, nil
}

// normalize mutates node in place: renames hyphen-case keys to camelCase,
// unwraps "step"/"parallel" pipeline-item wrappers, promotes a bare
// script string to a one-element sequence, promotes a bare artifacts
// list to {paths, download: true}, and fills the documented defaults
// (clone.enabled, parallel.failFast, artifacts.download).
func normalize(node *yaml.Node) {
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			normalize(item)
		}
		return
	case yaml.MappingNode:
		for i := 1; i < len(node.Content); i += 2 {
			normalize(node.Content[i])
		}
	default:
		return
	}

	renameKeys(node)

	if stepNode := getKey(node, "step"); stepNode != nil {
		replaceNode(node, stepNode)
		return
	}
	if parallelNode := getKey(node, "parallel"); parallelNode != nil {
		replaceNode(node, parallelNode)
		ensureDefaultBool(node, "failFast", true)
		return
	}
	if scriptNode := getKey(node, "script"); scriptNode != nil && scriptNode.Kind == yaml.ScalarNode {
		wrapAsSequence(scriptNode)
	}
	if artNode := getKey(node, "artifacts"); artNode != nil {
		switch artNode.Kind {
		case yaml.SequenceNode:
			promoteArtifacts(artNode)
		case yaml.MappingNode:
			ensureDefaultBool(artNode, "download", true)
		}
	}
	if cloneNode := getKey(node, "clone"); cloneNode != nil && cloneNode.Kind == yaml.MappingNode {
		ensureDefaultBool(cloneNode, "enabled", true)
	}
}

func renameKeys(node *yaml.Node) {
	present := make(map[string]bool, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		present[node.Content[i].Value] = true
	}

	var newContent []*yaml.Node
	for i := 0; i < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		if canonical, ok := keyAliases[keyNode.Value]; ok {
			if present[canonical] {
				// camel form also present elsewhere in this mapping: drop
				// the hyphen-case duplicate, camel wins.
				continue
			}
			keyNode.Value = canonical
		}
		newContent = append(newContent, keyNode, valNode)
	}
	node.Content = newContent
}

func getKey(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// replaceNode overwrites dst so it becomes a copy of src's shape,
// discarding dst's other sibling keys (used to unwrap a single-key
// wrapper mapping like {step: {...}} or {parallel: {...}}).
func replaceNode(dst, src *yaml.Node) {
	dst.Kind = src.Kind
	dst.Tag = src.Tag
	dst.Value = src.Value
	dst.Content = src.Content
	dst.Style = src.Style
}

func wrapAsSequence(scalar *yaml.Node) {
	item := &yaml.Node{Kind: yaml.ScalarNode, Tag: scalar.Tag, Value: scalar.Value, Style: scalar.Style}
	scalar.Kind = yaml.SequenceNode
	scalar.Tag = "!!seq"
	scalar.Value = ""
	scalar.Content = []*yaml.Node{item}
}

func promoteArtifacts(seq *yaml.Node) {
	paths := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: seq.Content}
	pathsKey := &yaml.Node{Kind: yaml.ScalarNode, Value: "paths"}
	downloadKey := &yaml.Node{Kind: yaml.ScalarNode, Value: "download"}
	downloadVal := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"}
	seq.Kind = yaml.MappingNode
	seq.Tag = "!!map"
	seq.Value = ""
	seq.Content = []*yaml.Node{pathsKey, paths, downloadKey, downloadVal}
}

func ensureDefaultBool(mapping *yaml.Node, key string, value bool) {
	if getKey(mapping, key) != nil {
		return
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
	valNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%v", value)}
	mapping.Content = append(mapping.Content, keyNode, valNode)
}

// Dump re-serializes a document as YAML.
func Dump(doc *model.Document) (string, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	defer enc.Close()
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return b.String(), nil
}
