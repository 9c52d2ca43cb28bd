package imgdex

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
)

// Put stores an image and indexes it. Re-putting an ID replaces its tags,
// team and bytes.
//
// A transient embedding or index failure leaves the image queued; the error
// is returned and RetryPending picks it up later. A permanent failure
// quarantines the image (errors.Is(err, ErrQuarantined)).
func (c *Client) Put(ctx context.Context, img Image) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("image.put", start, err) }()

	if len(img.Data) == 0 {
		return fmt.Errorf("%w: image data is required", domain.ErrInvalidInput)
	}
	rec, err := image.New(img.ID, img.TeamID, img.Tags, c.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	kind := image.Created
	if prev, perr := c.corpus.Record(ctx, img.ID); perr == nil {
		kind = image.Updated
		if prev.TeamID != rec.TeamID {
			kind = image.TeamChanged
		}
	}

	if err = c.corpus.Put(ctx, rec, img.Data); err != nil {
		return fmt.Errorf("put image %s: %w", img.ID, err)
	}
	if err = c.tracker.Apply(ctx, image.Change{ImageID: img.ID, Kind: kind}); err != nil {
		return fmt.Errorf("index image %s: %w", img.ID, err)
	}
	return nil
}

// Remove deletes an image from the corpus and every index generation.
// Removing an unknown ID is not an error.
func (c *Client) Remove(ctx context.Context, imageID string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("image.remove", start, err) }()

	if err = image.ValidateID(imageID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err = c.corpus.Remove(ctx, imageID); err != nil {
		return fmt.Errorf("remove image %s: %w", imageID, err)
	}
	if err = c.tracker.Apply(ctx, image.Change{ImageID: imageID, Kind: image.Deleted}); err != nil {
		return fmt.Errorf("unindex image %s: %w", imageID, err)
	}
	return nil
}

// RetryPending retries queued images whose backoff elapsed.
// It returns how many were attempted. Pending reports what is still queued.
func (c *Client) RetryPending(ctx context.Context) int {
	return c.tracker.RetryDue(ctx)
}

// Pending returns the number of images waiting for a retry.
func (c *Client) Pending() int {
	return c.tracker.Pending()
}

// Quarantined lists the team's images that failed indexing permanently.
func (c *Client) Quarantined(teamID string) []Quarantined {
	items := c.tracker.Quarantined(teamID)
	out := make([]Quarantined, len(items))
	for i, q := range items {
		out[i] = Quarantined{ImageID: q.ImageID, Attempts: q.Attempts, Cause: q.Cause, At: q.At}
	}
	return out
}

// Retrigger clears the quarantine of a team's image and indexes it again.
// ErrQueued means another reconciliation of the image was running; it is retried next.
func (c *Client) Retrigger(ctx context.Context, teamID, imageID string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("image.retrigger", start, err) }()

	if err = c.tracker.Retrigger(ctx, imageID, teamID); err != nil {
		return fmt.Errorf("retrigger %s: %w", imageID, err)
	}
	return nil
}
