package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"

	"github.com/moolen/voldiag/internal/kgraph"
	"github.com/moolen/voldiag/internal/logging"
)

// Manifests is a set of decoded Kubernetes objects.
type Manifests struct {
	Objects []*unstructured.Unstructured
}

// LoadManifests reads a YAML/JSON manifest file, or every *.yaml, *.yml and
// *.json file in a directory. Multi-document streams and List kinds are
// flattened.
func LoadManifests(path string) (*Manifests, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifests %s: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest dir %s: %w", path, err)
		}
		files = files[:0]
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".yaml", ".yml", ".json":
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
	}

	m := &Manifests{}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", f, err)
		}
		objs, err := DecodeManifests(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		m.Objects = append(m.Objects, objs...)
	}
	return m, nil
}

// DecodeManifests decodes a YAML or JSON stream into unstructured objects.
func DecodeManifests(data []byte) ([]*unstructured.Unstructured, error) {
	dec := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)

	var objs []*unstructured.Unstructured
	for {
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode manifest: %w", err)
		}
		if len(raw) == 0 {
			continue
		}

		u := &unstructured.Unstructured{Object: raw}
		if u.IsList() {
			err := u.EachListItem(func(o runtime.Object) error {
				item, ok := o.(*unstructured.Unstructured)
				if !ok {
					return fmt.Errorf("unexpected list item %T", o)
				}
				objs = append(objs, item)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to expand %s: %w", u.GetKind(), err)
			}
			continue
		}
		objs = append(objs, u)
	}
	return objs, nil
}

// Apply adds the manifests to g. Entities from every object are added
// before any relationship so references resolve regardless of document
// order. Objects of kinds without a handler are counted as skipped.
func (m *Manifests) Apply(g *kgraph.Graph) Result {
	b := &builder{g: g, logger: logging.GetLogger("ingest.manifests")}

	type bound struct {
		h   *kindHandler
		obj *unstructured.Unstructured
	}
	var matched []bound
	for _, obj := range m.Objects {
		h := handlerFor(obj)
		if h == nil {
			b.logger.Debug("no handler for %s %s", obj.GetKind(), obj.GetName())
			b.res.Skipped++
			continue
		}
		matched = append(matched, bound{h: h, obj: obj})
	}

	for _, pass := range []func(*kindHandler) handlerFunc{
		func(h *kindHandler) handlerFunc { return h.entity },
		func(h *kindHandler) handlerFunc { return h.relate },
	} {
		for _, mb := range matched {
			fn := pass(mb.h)
			if fn == nil {
				continue
			}
			if err := fn(b, mb.obj); err != nil {
				b.logger.Warn("skipping %s %s: %v", mb.obj.GetKind(), mb.obj.GetName(), err)
				b.res.Skipped++
			}
		}
	}

	b.logger.InfoWithFields("manifests applied",
		logging.Field("objects", len(m.Objects)),
		logging.Field("entities", b.res.Entities),
		logging.Field("issues", b.res.Issues),
		logging.Field("relationships", b.res.Relationships),
		logging.Field("skipped", b.res.Skipped),
	)
	return b.res
}

// builder wraps the graph with counters used by the kind handlers.
type builder struct {
	g      *kgraph.Graph
	logger *logging.Logger
	res    Result
}

func (b *builder) entity(typ kgraph.EntityType, id, name, namespace string, attrs map[string]any) {
	b.g.AddEntity(typ, id, name, namespace, attrs)
	b.res.Entities++
}

func (b *builder) relate(source, target, relType string) {
	if b.g.AddRelationship(source, target, relType, 1) {
		b.res.Relationships++
		return
	}
	b.res.Skipped++
}

func (b *builder) issue(entityID, layer, component, severity, message, evidence string) {
	_, err := b.g.AddIssue(entityID, kgraph.IssueInput{
		Layer:     layer,
		Component: component,
		Severity:  severity,
		Message:   message,
		Evidence:  evidence,
	})
	if err != nil {
		b.res.Skipped++
		return
	}
	b.res.Issues++
}

// resolve finds an entity id by reference, returning "" when unknown.
func (b *builder) resolve(typ kgraph.EntityType, ref string) string {
	if ref == "" {
		return ""
	}
	if e, ok := b.g.ResolveEntity(typ, ref); ok {
		return e.ID
	}
	return ""
}
