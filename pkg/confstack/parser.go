package confstack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const mergeTag = "!!merge"

// Alias expansion limits, following yaml.v3's decoder.
const (
	aliasRatioRangeLow  = 400000
	aliasRatioRangeHigh = 4000000
	aliasRatioRange     = float64(aliasRatioRangeHigh - aliasRatioRangeLow)
)

// allowedAliasRatio returns the share of constructed nodes that may come
// from alias expansion once constructed nodes reach constructed.
func allowedAliasRatio(constructed int) float64 {
	switch {
	case constructed <= aliasRatioRangeLow:
		return 0.99
	case constructed >= aliasRatioRangeHigh:
		return 0.10
	default:
		return 0.99 - 0.89*(float64(constructed-aliasRatioRangeLow)/aliasRatioRange)
	}
}

// ReadDocument reads and strictly parses the YAML file at path.
// A missing file is not an error: it yields an empty mapping.
func ReadDocument(path string) (map[string]any, error) {
	doc, _, err := readLayer(path)
	return doc, err
}

// ParseDocument strictly parses a single YAML document into a mapping.
// path is only used to label errors and may be empty.
//
// Unlike yaml.Unmarshal, a key repeated inside one mapping node is always an
// error, and the error carries the marks of both occurrences. Keys are
// compared by their literal text after alias resolution: `1:` and `"1":`
// collide, while `~:` and `null:` are two distinct keys.
//
// Aliases expand into independent copies. A document whose construction is
// dominated by alias expansion fails with ErrSyntax.
func ParseDocument(path string, data []byte) (map[string]any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, &ParseError{Path: path, Kind: ErrSyntax, Err: err}
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			err = fmt.Errorf("expected a single document in the stream, found another at line %d", extra.Line)
		}
		return nil, &ParseError{Path: path, Kind: ErrSyntax, Err: err}
	}

	c := &constructor{path: path, active: make(map[*yaml.Node]bool)}
	value, err := c.construct(&root)
	if err != nil {
		return nil, err
	}

	switch doc := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return doc, nil
	default:
		return nil, &ParseError{
			Path: path,
			Kind: ErrNotMapping,
			Err:  fmt.Errorf("found %T", value),
		}
	}
}

// readLayer reports whether the file existed alongside the parsed document.
func readLayer(path string) (map[string]any, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	doc, err := ParseDocument(path, data)
	if err != nil {
		return nil, true, err
	}
	return doc, true, nil
}

// constructor turns a yaml.Node tree into plain Go values. Every alias is
// expanded into a fresh value, so the result never shares structure.
type constructor struct {
	path   string
	active map[*yaml.Node]bool

	aliasDepth  int
	constructed int
	aliased     int
}

func (c *constructor) construct(n *yaml.Node) (any, error) {
	c.constructed++
	if c.aliasDepth > 0 {
		c.aliased++
	}
	if c.excessiveAliasing() {
		return nil, c.syntaxError(n, errors.New("document contains excessive aliasing"))
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return c.construct(n.Content[0])
	case yaml.AliasNode:
		return c.alias(n)
	case yaml.MappingNode:
		return c.mapping(n)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			value, err := c.construct(item)
			if err != nil {
				return nil, err
			}
			out = append(out, value)
		}
		return out, nil
	case yaml.ScalarNode:
		var value any
		if err := n.Decode(&value); err != nil {
			return nil, c.syntaxError(n, err)
		}
		return value, nil
	default:
		return nil, c.syntaxError(n, fmt.Errorf("unsupported node kind %d", n.Kind))
	}
}

func (c *constructor) alias(n *yaml.Node) (any, error) {
	target := n.Alias
	if target == nil {
		return nil, c.syntaxError(n, fmt.Errorf("unknown anchor %q referenced", n.Value))
	}
	if c.active[target] {
		return nil, c.syntaxError(n, fmt.Errorf("anchor %q value contains itself", n.Value))
	}

	c.active[target] = true
	c.aliasDepth++
	defer func() {
		delete(c.active, target)
		c.aliasDepth--
	}()

	return c.construct(target)
}

func (c *constructor) excessiveAliasing() bool {
	return c.aliased > 100 &&
		c.constructed > 1000 &&
		float64(c.aliased)/float64(c.constructed) > allowedAliasRatio(c.constructed)
}

func (c *constructor) mapping(n *yaml.Node) (map[string]any, error) {
	out := make(map[string]any, len(n.Content)/2)
	seen := make(map[string]*yaml.Node, len(n.Content)/2)
	var inherited []map[string]any

	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valueNode := n.Content[i], n.Content[i+1]

		if keyNode.Kind == yaml.ScalarNode && keyNode.ShortTag() == mergeTag {
			sources, err := c.mergeSources(valueNode)
			if err != nil {
				return nil, err
			}
			inherited = append(inherited, sources...)
			continue
		}

		key, err := c.key(keyNode)
		if err != nil {
			return nil, err
		}
		if first, ok := seen[key]; ok {
			return nil, &ParseError{
				Path:      c.path,
				Kind:      ErrDuplicateKey,
				Key:       key,
				Mapping:   markOf(n),
				First:     markOf(first),
				Duplicate: markOf(keyNode),
			}
		}
		seen[key] = keyNode

		value, err := c.construct(valueNode)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}

	// Explicit keys win over merged ones; earlier merge sources win over later ones.
	for _, src := range inherited {
		for key, value := range src {
			if _, ok := out[key]; !ok {
				out[key] = value
			}
		}
	}

	return out, nil
}

func (c *constructor) key(n *yaml.Node) (string, error) {
	resolved := n
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		resolved = n.Alias
	}
	if resolved.Kind != yaml.ScalarNode {
		return "", c.syntaxError(n, errors.New("mapping keys must be scalars"))
	}
	return resolved.Value, nil
}

func (c *constructor) mergeSources(n *yaml.Node) ([]map[string]any, error) {
	value, err := c.construct(n)
	if err != nil {
		return nil, err
	}

	invalid := c.syntaxError(n, errors.New("map merge requires a mapping or a sequence of mappings"))
	switch v := value.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		sources := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, invalid
			}
			sources = append(sources, m)
		}
		return sources, nil
	default:
		return nil, invalid
	}
}

func (c *constructor) syntaxError(n *yaml.Node, err error) error {
	return &ParseError{
		Path: c.path,
		Kind: ErrSyntax,
		Err:  fmt.Errorf("line %d: %w", n.Line, err),
	}
}

func markOf(n *yaml.Node) Mark {
	return Mark{Line: n.Line, Column: n.Column}
}
