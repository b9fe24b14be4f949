package translator

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/gitter-badger/ressor/source"
)

// Gzipped decompresses the resource transparently before handing it to
// inner. The version and resource ID pass through untouched.
func Gzipped[T any](inner Translator[T]) Translator[T] {
	return Func[T](func(ctx context.Context, res *source.LoadedResource) (T, error) {
		var zero T
		if res == nil || res.Body == nil {
			return inner.Translate(ctx, res)
		}

		gz, err := gzip.NewReader(res.Body)
		if err != nil {
			_ = res.Body.Close()
			return zero, fmt.Errorf("open gzip from %s: %w", res.ResourceID, err)
		}

		unwrapped := &source.LoadedResource{
			Body:       &gzipBody{Reader: gz, raw: res.Body},
			Version:    res.Version,
			ResourceID: res.ResourceID,
		}
		return inner.Translate(ctx, unwrapped)
	})
}

// gzipBody closes both the decompressor and the underlying stream.
type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b *gzipBody) Close() error {
	err := b.Reader.Close()
	if rawErr := b.raw.Close(); err == nil {
		err = rawErr
	}
	return err
}
