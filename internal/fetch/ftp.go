// Package fetch downloads source PDF scans from the archive FTP server into
// the external cache namespace. Downloads are idempotent: a scan already in
// the cache is never transferred again.
package fetch

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zecchin-leonardo/archeo-extract/internal/cache"
	"github.com/zecchin-leonardo/archeo-extract/internal/model"
)

// Options configures the FTP fetcher.
type Options struct {
	Host        string // host or host:port; port 21 assumed when absent
	User        string
	Password    string
	Timeout     time.Duration
	Concurrency int
}

// Fetcher downloads intervention scans over FTP into the external cache.
type Fetcher struct {
	part *cache.Part
	opts Options
}

// New creates a Fetcher writing into part, which must be the external
// pdf_scans cache part.
func New(part *cache.Part, opts Options) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &Fetcher{part: part, opts: opts}
}

// hostPort normalizes a host to host:port with the default FTP port.
func hostPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, "21")
	}
	return host
}

// Fetch downloads one document, doc.Path being the remote path on the
// server. It returns the local cache path and whether the scan was already
// present.
func (f *Fetcher) Fetch(ctx context.Context, doc model.SourceDocument) (string, bool, error) {
	key := doc.Intervention.String() + "/" + doc.Filename()

	if _, state, err := f.part.Lookup(key); err != nil {
		return "", false, err
	} else if state != cache.Miss {
		return f.part.Path(key), true, nil
	}

	zap.L().Debug("fetch: downloading scan",
		zap.String("host", f.opts.Host),
		zap.String("remote", doc.Path),
		zap.String("key", key),
	)

	data, err := f.download(ctx, doc.Path)
	if err != nil {
		return "", false, err
	}
	if len(data) == 0 {
		return "", false, eris.Errorf("fetch: empty file %s", doc.Path)
	}
	if err := f.part.Put(key, data); err != nil {
		return "", false, err
	}
	return f.part.Path(key), false, nil
}

// FetchAll downloads every document, bounded-concurrently, and returns the
// local cache paths in input order. The first failure cancels the rest.
func (f *Fetcher) FetchAll(ctx context.Context, docs []model.SourceDocument) ([]string, error) {
	paths := make([]string, len(docs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			path, _, err := f.Fetch(gCtx, doc)
			if err != nil {
				return eris.Wrapf(err, "fetch: %s", doc.Key())
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (f *Fetcher) download(ctx context.Context, remotePath string) ([]byte, error) {
	conn, err := ftp.Dial(hostPort(f.opts.Host),
		ftp.DialWithTimeout(f.opts.Timeout),
		ftp.DialWithContext(ctx),
	)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		return nil, eris.Wrap(err, "fetch: ftp login")
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: ftp retrieve")
	}
	defer resp.Close() //nolint:errcheck

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: ftp read")
	}
	return data, nil
}
