// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelProcess runs fn once per item concurrently, short-circuiting on
// the first error (spec.md §5: "independent archives may be processed in
// parallel; a single archive's own stream must be read/written strictly
// sequentially"). All fn calls share one context derived from ctx, which is
// canceled as soon as any call fails, so the others' in-flight work sees the
// cancellation.
//
// This mirrors the goroutine-per-unit-of-work plus shared-error-channel
// shape used for per-entry unpacking, but at archive granularity: one
// archive's Reader/Writer is never touched from more than one goroutine,
// since entry and solid-block framing is a strictly ordered chunk stream.
func ParallelProcess(ctx context.Context, items []string, limit int, fn func(ctx context.Context, item string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
