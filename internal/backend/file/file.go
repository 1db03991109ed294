// Package file keeps the schedule collection as a JSON document addressed by
// an afs URL (file://, mem://, or any scheme afs has registered).
package file

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/viant/afs"
	afsfile "github.com/viant/afs/file"
	afsurl "github.com/viant/afs/url"

	"roastline/internal/schedule"
)

var _ schedule.Backend = (*Backend)(nil)

type Backend struct {
	fs  afs.Service
	URL string
}

// New accepts a URL or a plain local path.
func New(location string) *Backend {
	return &Backend{fs: afs.New(), URL: normalize(location)}
}

func normalize(location string) string {
	if afsurl.Scheme(location, "") != "" {
		return location
	}
	if abs, err := filepath.Abs(location); err == nil {
		location = abs
	}
	return "file://" + filepath.ToSlash(location)
}

func (b *Backend) Load(ctx context.Context) (schedule.Envelope, error) {
	ok, err := b.fs.Exists(ctx, b.URL)
	if err != nil {
		return schedule.Envelope{}, fmt.Errorf("stat %s: %w", b.URL, err)
	}
	if !ok {
		return schedule.Envelope{Version: schedule.EnvelopeVersion}, nil
	}
	data, err := b.fs.DownloadWithURL(ctx, b.URL)
	if err != nil {
		return schedule.Envelope{}, fmt.Errorf("download %s: %w", b.URL, err)
	}
	return schedule.Decode(data)
}

// Save writes a sibling temp document and moves it over the target so a
// failed write never leaves a truncated collection behind.
func (b *Backend) Save(ctx context.Context, env schedule.Envelope) error {
	data, err := schedule.Encode(env)
	if err != nil {
		return err
	}
	tmp := b.URL + ".tmp"
	if err := b.fs.Upload(ctx, tmp, afsfile.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s: %w", tmp, err)
	}
	if err := b.fs.Move(ctx, tmp, b.URL); err != nil {
		return fmt.Errorf("move %s: %w", b.URL, err)
	}
	return nil
}
