package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gitter-badger/ressor/source"
)

// JSON decodes the resource as JSON into a T.
func JSON[T any]() Translator[T] {
	return Func[T](func(_ context.Context, res *source.LoadedResource) (T, error) {
		var out T
		data, err := readAll(res)
		if err != nil {
			return out, err
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("parse json from %s: %w", res.ResourceID, err)
		}
		return out, nil
	})
}

// YAML decodes the resource as YAML into a T.
func YAML[T any]() Translator[T] {
	return Func[T](func(_ context.Context, res *source.LoadedResource) (T, error) {
		var out T
		data, err := readAll(res)
		if err != nil {
			return out, err
		}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("parse yaml from %s: %w", res.ResourceID, err)
		}
		return out, nil
	})
}

// TOML decodes the resource as TOML into a T.
func TOML[T any]() Translator[T] {
	return Func[T](func(_ context.Context, res *source.LoadedResource) (T, error) {
		var out T
		data, err := readAll(res)
		if err != nil {
			return out, err
		}
		if err := toml.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("parse toml from %s: %w", res.ResourceID, err)
		}
		return out, nil
	})
}

// Viper parses the resource with viper and returns the settings map.
// configType names any format viper recognizes ("yaml", "json",
// "toml", "ini", …).
func Viper(configType string) Translator[map[string]any] {
	return Func[map[string]any](func(_ context.Context, res *source.LoadedResource) (map[string]any, error) {
		v, err := readViper(configType, res)
		if err != nil {
			return nil, err
		}
		return v.AllSettings(), nil
	})
}

// ViperConfig parses the resource with viper and unmarshals it into a
// T honoring mapstructure tags.
func ViperConfig[T any](configType string) Translator[T] {
	return Func[T](func(_ context.Context, res *source.LoadedResource) (T, error) {
		var out T
		v, err := readViper(configType, res)
		if err != nil {
			return out, err
		}
		if err := v.Unmarshal(&out); err != nil {
			return out, fmt.Errorf("decode config from %s: %w", res.ResourceID, err)
		}
		return out, nil
	})
}

func readViper(configType string, res *source.LoadedResource) (*viper.Viper, error) {
	data, err := readAll(res)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parse config from %s: %w", res.ResourceID, err)
	}
	return v, nil
}
