package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// Archiver uploads original receipt images to a GCS bucket for audit and
// replay, keyed by purchase id. Uploads run on a background worker so the
// HTTP response is never blocked on object storage; a full queue drops the
// image with a warning rather than stalling the request.
type Archiver struct {
	bucket string
	log    zerolog.Logger

	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type job struct {
	purchaseID string
	image      []byte
}

// NewArchiver creates an archiver for the given bucket. bufferSize
// determines how many pending uploads may queue before new ones are dropped.
func NewArchiver(bucket string, bufferSize int, log zerolog.Logger) *Archiver {
	return &Archiver{
		bucket: bucket,
		log:    log,
		jobs:   make(chan job, bufferSize),
	}
}

// Start runs the upload worker until ctx is cancelled or Stop is called.
func (a *Archiver) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-a.jobs:
				if !ok {
					return
				}
				uri, err := a.upload(ctx, j.purchaseID, j.image)
				if err != nil {
					a.log.Error().Err(err).Str("purchase_id", j.purchaseID).Msg("Receipt image archive failed")
					continue
				}
				a.log.Info().Str("purchase_id", j.purchaseID).Str("gcs_uri", uri).Msg("Receipt image archived")
			}
		}
	}()
}

// Enqueue schedules an image upload. Never blocks the caller.
func (a *Archiver) Enqueue(purchaseID string, image []byte) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.jobs <- job{purchaseID: purchaseID, image: image}:
	default:
		a.log.Warn().Str("purchase_id", purchaseID).Msg("Archive queue full, dropping receipt image")
	}
}

// Stop closes the queue and waits for in-flight uploads, bounded by ctx.
func (a *Archiver) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archive: shutdown timed out: %w", ctx.Err())
	}
}

// upload writes the image bytes to the bucket and returns the object URI.
func (a *Archiver) upload(ctx context.Context, purchaseID string, image []byte) (string, error) {
	objectName := fmt.Sprintf("receipts/%s/%s.jpg", time.Now().Format("2006/01/02"), purchaseID)

	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("archive: create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "image/jpeg"

	if _, err := w.Write(image); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: write object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: finalize object %s: %w", objectName, err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}
