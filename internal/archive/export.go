package archive

import (
	"context"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"golang.org/x/sync/errgroup"
)

// ProduceFunc writes an archive to w and returns its file name.
type ProduceFunc func(w io.Writer) (string, error)

// Exporter spools archives to a temp file and hands them to a Sink,
// encrypting on the way when recipients are set.
type Exporter struct {
	sink       Sink
	recipients []age.Recipient
}

// NewExporter creates an Exporter. With no recipients exports are stored in
// the clear.
func NewExporter(sink Sink, recipients ...age.Recipient) *Exporter {
	return &Exporter{sink: sink, recipients: recipients}
}

// Export runs produce and delivers its output. It returns the stored name and
// the sink's location for it.
func (e *Exporter) Export(ctx context.Context, produce ProduceFunc) (name, location string, err error) {
	spool, err := os.CreateTemp("", "vaultedge-export-*")
	if err != nil {
		return "", "", fmt.Errorf("creating spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	name, err = produce(spool)
	if err != nil {
		return "", "", err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("rewinding spool file: %w", err)
	}

	if len(e.recipients) == 0 {
		location, err = e.sink.Put(ctx, name, spool)
		return name, location, err
	}

	name += AgeSuffix
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		enc, err := Encrypt(pw, e.recipients...)
		if err != nil {
			pw.CloseWithError(err)
			return err
		}
		if _, err := io.Copy(enc, spool); err != nil {
			pw.CloseWithError(err)
			return fmt.Errorf("encrypting export: %w", err)
		}
		if err := enc.Close(); err != nil {
			pw.CloseWithError(err)
			return fmt.Errorf("finishing encryption: %w", err)
		}
		return pw.Close()
	})
	g.Go(func() error {
		loc, err := e.sink.Put(gctx, name, pr)
		// Unblock the encryptor if the sink stopped reading early.
		pr.CloseWithError(err)
		location = loc
		return err
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return name, location, nil
}
