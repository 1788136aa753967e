package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danmuck/tidectl/internal/state"
)

var (
	ErrSourceUnreachable = errors.New("source: unreachable")
	ErrRevisionNotFound  = errors.New("source: revision not found")
	ErrInvalidDocument   = errors.New("source: invalid document")
)

// Store is the state-store client contract. Fetch returns the snapshot named
// by ref.Revision, or the repository head when the revision is empty.
type Store interface {
	Fetch(ctx context.Context, ref state.SourceRef) (state.Revision, *state.Tree, error)
}

// ParseDocuments decodes one multi-document YAML stream into descriptors.
// Identity fields (kind, namespace, name) live at the document top level;
// everything else is descriptor content.
func ParseDocuments(raw []byte) ([]state.Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	var out []state.Descriptor
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if len(doc) == 0 {
			continue
		}
		d, err := descriptorFromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func descriptorFromDocument(doc map[string]any) (state.Descriptor, error) {
	id := state.ResourceID{
		Kind:      stringField(doc, "kind"),
		Namespace: stringField(doc, "namespace"),
		Name:      stringField(doc, "name"),
	}
	if err := id.Validate(); err != nil {
		return state.Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	content := make(map[string]any, len(doc))
	for k, v := range doc {
		switch k {
		case "kind", "namespace", "name":
			continue
		}
		content[k] = v
	}
	return state.Descriptor{ID: id, Content: content}, nil
}

func stringField(doc map[string]any, key string) string {
	v, ok := doc[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
