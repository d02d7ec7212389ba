package cloud

import (
	"context"
	"fmt"

	"vaultsync/internal/queue"

	"golang.org/x/sync/errgroup"
)

// RangeFetcher reads length bytes at off. A negative length reads to the end.
type RangeFetcher func(ctx context.Context, off, length int64) ([]byte, error)

// ChunkedDownload splits a file of known size into chunk-sized ranges, each
// queued as a download task. Unknown or small sizes use a single request.
func ChunkedDownload(ctx context.Context, q *queue.TaskQueue, path string, size, chunk int64, fetch RangeFetcher) ([]byte, error) {
	if size <= 0 || chunk <= 0 || size <= chunk {
		return queue.Do(ctx, q, queue.TaskDownload, "download:"+path, func(ctx context.Context) ([]byte, error) {
			return fetch(ctx, 0, -1)
		})
	}

	n := (size + chunk - 1) / chunk
	parts := make([][]byte, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		off := i * chunk
		length := min(chunk, size-off)
		id := fmt.Sprintf("download:%s#%d", path, i)

		g.Go(func() error {
			data, err := queue.Do(gctx, q, queue.TaskDownload, id, func(ctx context.Context) ([]byte, error) {
				return fetch(ctx, off, length)
			})
			if err != nil {
				return err
			}
			if int64(len(data)) != length {
				return fmt.Errorf("short read for %s at %d: got %d of %d bytes", path, off, len(data), length)
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}

	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}
