package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-intel/internal/artifact"
	"github.com/sells-group/invoice-intel/internal/store"
)

// initStore opens the configured invoice data store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initRegistry opens the configured artifact store. Callers should defer
// Close on the returned registry.
func initRegistry(ctx context.Context, opts ...artifact.OpenOption) (*artifact.Registry, error) {
	blobs, err := artifact.Open(ctx, cfg.Artifacts, cfg.Store, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "open artifact store")
	}
	return artifact.NewRegistry(blobs), nil
}
