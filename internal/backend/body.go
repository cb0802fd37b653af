package backend

import (
	"context"
	"io"

	"github.com/tierstore/tierstore/pkg/errors"
)

// BoundedBody ties a request-scoped deadline to an object read stream. The
// adapter opens the call under a context carrying its timeout and hands the
// context and its cancel here, so the deadline covers the read phase too and
// is released when the caller closes the body. Reads cut off by the
// deadline surface as timeouts instead of raw transport errors.
func BoundedBody(ctx context.Context, rc io.ReadCloser, cancel context.CancelFunc) io.ReadCloser {
	return &boundedBody{ctx: ctx, rc: rc, cancel: cancel}
}

type boundedBody struct {
	ctx    context.Context
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (b *boundedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF && b.ctx.Err() == context.DeadlineExceeded {
		return n, errors.Wrap(errors.KindTimeout, err, "object read exceeded the request timeout").
			WithComponent("backend").WithOperation("get")
	}
	return n, err
}

func (b *boundedBody) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}
