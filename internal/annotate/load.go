package annotate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// entityDoc is the on-disk form of an entity. Aliases may be a comma
// separated string or a list.
type entityDoc struct {
	ID            string    `yaml:"id"`
	Type          string    `yaml:"type"`
	Name          string    `yaml:"name"`
	Aliases       yaml.Node `yaml:"aliases"`
	CaseSensitive bool      `yaml:"case_sensitive"`
}

// LoadEntities reads an entity list from a YAML or JSON file.
//
// The file is either a sequence of entities or a mapping with an "entities"
// sequence. Entries that do not decode are skipped with a warning.
func LoadEntities(path string, logger *slog.Logger) ([]Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities: %w", err)
	}
	entities, err := ParseEntities(data, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entities, nil
}

// ParseEntities decodes an entity list. See LoadEntities.
func ParseEntities(data []byte, logger *slog.Logger) ([]Entity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var root yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse entities: %w", err)
	}

	list := &root
	if list.Kind == yaml.DocumentNode && len(list.Content) > 0 {
		list = list.Content[0]
	}
	if list.Kind == yaml.MappingNode {
		var found *yaml.Node
		for i := 0; i+1 < len(list.Content); i += 2 {
			if list.Content[i].Value == "entities" {
				found = list.Content[i+1]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("parse entities: mapping has no entities key")
		}
		list = found
	}
	if list.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("parse entities: expected a list, got %s", kindName(list.Kind))
	}

	entities := make([]Entity, 0, len(list.Content))
	for i, item := range list.Content {
		e, err := decodeEntity(item)
		if err != nil {
			logger.Warn("skipping undecodable entity", "index", i, "line", item.Line, "error", err)
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func decodeEntity(n *yaml.Node) (Entity, error) {
	var doc entityDoc
	if err := n.Decode(&doc); err != nil {
		return Entity{}, err
	}

	e := Entity{ID: doc.ID, Type: doc.Type, Name: doc.Name, CaseSensitive: doc.CaseSensitive}
	switch doc.Aliases.Kind {
	case 0:
	case yaml.ScalarNode:
		e.Aliases = doc.Aliases.Value
	case yaml.SequenceNode:
		var list []string
		if err := doc.Aliases.Decode(&list); err != nil {
			return Entity{}, fmt.Errorf("aliases: %w", err)
		}
		e.Aliases = strings.Join(list, ",")
	default:
		return Entity{}, fmt.Errorf("aliases: expected string or list, got %s", kindName(doc.Aliases.Kind))
	}
	if e.ID == "" {
		return Entity{}, errors.New("missing id")
	}
	return e, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "empty"
	}
}
