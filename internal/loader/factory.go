package loader

import (
	"fmt"

	"kisync/internal/kis"
	"kisync/internal/model"
)

// NewFactory returns a LoaderFactory that builds the right loader for a
// source's type, sharing one retry policy across all loaders.
func NewFactory(retry kis.RetryPolicy) kis.LoaderFactory {
	return func(source *model.Source) (kis.ContentLoader, error) {
		switch source.Type {
		case model.SourceRepository:
			return NewRepositoryLoader(source, retry), nil
		case model.SourceWiki:
			return NewWikiLoader(source, retry), nil
		default:
			return nil, fmt.Errorf("unknown source type: %s", source.Type)
		}
	}
}
