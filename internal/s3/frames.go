package s3

import (
	"context"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/rs/zerolog"
)

// ObjectLister is the subset of Client a FrameSource needs.
type ObjectLister interface {
	ListFrameKeys(ctx context.Context, bucket, folder, after string) ([]string, error)
	GetFrame(ctx context.Context, bucket, key string) ([]byte, error)
}

// FrameSource delivers frames stored as objects under bucket/folder in key
// order, polling for objects uploaded later.
type FrameSource struct {
	objects   ObjectLister
	sessionID string
	bucket    string
	folder    string
	interval  time.Duration
	logger    zerolog.Logger
}

func NewFrameSource(objects ObjectLister, sessionID, source string, interval time.Duration, logger zerolog.Logger) (*FrameSource, error) {
	bucket, folder, err := ParseSource(source)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &FrameSource{
		objects:   objects,
		sessionID: sessionID,
		bucket:    bucket,
		folder:    folder,
		interval:  interval,
		logger:    logger.With().Str("component", "frame-source").Str("session_id", sessionID).Logger(),
	}, nil
}

// Frames starts polling and returns the channel frames are delivered on. The
// channel is closed when ctx is done.
func (s *FrameSource) Frames(ctx context.Context) <-chan models.Frame {
	out := make(chan models.Frame)

	go func() {
		defer close(out)

		var (
			last string
			seq  uint64
		)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			keys, err := s.objects.ListFrameKeys(ctx, s.bucket, s.folder, last)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to list frames")
			}

			for _, key := range keys {
				data, err := s.objects.GetFrame(ctx, s.bucket, key)
				if err != nil {
					s.logger.Error().Err(err).Str("key", key).Msg("failed to download frame")
					break
				}
				last = key
				seq++

				select {
				case out <- models.Frame{SessionID: s.sessionID, Seq: seq, Data: data, Timestamp: time.Now()}:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}
