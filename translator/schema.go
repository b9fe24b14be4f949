package translator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/gitter-badger/ressor/source"
)

// JSONSchema decodes the resource as JSON into a T after validating
// the payload against schemaJSON. The schema is resolved once here;
// validation failures keep bad payloads from ever reaching a reload.
func JSONSchema[T any](schemaJSON []byte) (Translator[T], error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}

	return Func[T](func(_ context.Context, res *source.LoadedResource) (T, error) {
		var out T
		data, err := readAll(res)
		if err != nil {
			return out, err
		}

		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return out, fmt.Errorf("parse json from %s: %w", res.ResourceID, err)
		}
		if err := resolved.Validate(decoded); err != nil {
			return out, fmt.Errorf("validate %s: %w", res.ResourceID, err)
		}

		if err := json.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("decode json from %s: %w", res.ResourceID, err)
		}
		return out, nil
	}), nil
}
