// Package translator turns fetched resource bytes into typed values.
// A Translator owns the resource body it is handed: every
// implementation drains and closes it, success or failure.
package translator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gitter-badger/ressor/source"
)

// Translator converts one fetched resource into a T.
type Translator[T any] interface {
	Translate(ctx context.Context, res *source.LoadedResource) (T, error)
}

// Func adapts a function to the Translator interface.
type Func[T any] func(ctx context.Context, res *source.LoadedResource) (T, error)

func (f Func[T]) Translate(ctx context.Context, res *source.LoadedResource) (T, error) {
	return f(ctx, res)
}

// Bytes returns the raw resource content.
func Bytes() Translator[[]byte] {
	return Func[[]byte](func(_ context.Context, res *source.LoadedResource) ([]byte, error) {
		return readAll(res)
	})
}

// String returns the resource content as a string.
func String() Translator[string] {
	return Func[string](func(_ context.Context, res *source.LoadedResource) (string, error) {
		data, err := readAll(res)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}

// Map composes a factory onto a translator, adapting the translated
// value into the service's public type before installation.
func Map[A, B any](t Translator[A], factory func(A) (B, error)) Translator[B] {
	return Func[B](func(ctx context.Context, res *source.LoadedResource) (B, error) {
		value, err := t.Translate(ctx, res)
		if err != nil {
			var zero B
			return zero, err
		}
		out, err := factory(value)
		if err != nil {
			var zero B
			return zero, fmt.Errorf("build instance from %s: %w", res.ResourceID, err)
		}
		return out, nil
	})
}

// readAll drains and closes the body, transferring full ownership of
// the stream to the translator.
func readAll(res *source.LoadedResource) ([]byte, error) {
	if res == nil || res.Body == nil {
		return nil, errors.New("resource has no body")
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", res.ResourceID, err)
	}
	return data, nil
}
