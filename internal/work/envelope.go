package work

import (
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/registry"
	"github.com/kfc-tools/kfc/internal/value"
)

var envelopeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	envelopeResourceID = "resourceId"
	envelopeType       = "type"
)

// RenderJSON decodes a resource's raw descriptor bytes and renders them as
// JSON with "resourceId" and "type" stamped ahead of the descriptor's own
// fields — the unpacked file shape of spec.md §6 end-to-end scenario 2
// ("three JSON files whose $.resourceId fields are the canonical
// hex-group forms of the inserted ids").
func RenderJSON(reg *registry.Registry, id ident.ResourceId, raw []byte, opts value.ConvertOptions) ([]byte, error) {
	idx, ok := reg.GetByHash(registry.LookupQualifiedHash, id.Type)
	if !ok {
		return nil, xerrors.Errorf("work: resource %s: unknown type hash %#x", id, id.Type)
	}
	v, err := value.Read(reg, idx, raw, opts)
	if err != nil {
		return nil, xerrors.Errorf("work: resource %s: %w", id, err)
	}
	return value.MarshalWithPrefix(reg, v, []value.KV{
		{Key: envelopeResourceID, Value: id.Id.String()},
		{Key: envelopeType, Value: reg.Get(idx).QualifiedName},
	})
}

// ParseJSON is RenderJSON's inverse: it reads back the "resourceId"/"type"
// envelope, resolves the type by qualified_name, and writes the remaining
// fields through the descriptor codec to produce raw bytes for
// container.Writer.WriteResource.
func ParseJSON(reg *registry.Registry, raw []byte) (ident.ResourceId, []byte, error) {
	var tree map[string]interface{}
	if err := envelopeJSON.Unmarshal(raw, &tree); err != nil {
		return ident.ResourceId{}, nil, xerrors.Errorf("work: %w", err)
	}
	rawID, _ := tree[envelopeResourceID].(string)
	guid, err := ident.ParseGuid(rawID)
	if err != nil {
		return ident.ResourceId{}, nil, xerrors.Errorf("work: %s: %w", envelopeResourceID, err)
	}
	typeName, _ := tree[envelopeType].(string)
	idx, ok := reg.GetByName(registry.LookupQualifiedName, typeName)
	if !ok {
		return ident.ResourceId{}, nil, xerrors.Errorf("work: resource %s: unknown type %q", rawID, typeName)
	}
	delete(tree, envelopeResourceID)
	delete(tree, envelopeType)

	v := value.FromJSON(reg, tree)
	data, err := value.Write(reg, idx, v)
	if err != nil {
		return ident.ResourceId{}, nil, xerrors.Errorf("work: resource %s: %w", rawID, err)
	}
	id := ident.ResourceId{Id: guid, Type: reg.Get(idx).QualifiedHash}
	return id, data, nil
}
