package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/rs/zerolog"
)

const defaultTimeout = 10 * time.Second

// Error is returned by Detect for every failure. Callers decide whether the
// frame is skipped; the client itself never retries.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("detection %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("detection %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Options struct {
	Model      string
	Confidence float64
	Timeout    time.Duration
}

type Client struct {
	URL        string
	model      string
	confidence float64
	http       *http.Client
	logger     zerolog.Logger
}

type predictResponse struct {
	Detections []models.Detection `json:"detections"`
}

func NewClient(baseURL string, opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}

	return &Client{
		URL:        baseURL,
		model:      opts.Model,
		confidence: opts.Confidence,
		http:       &http.Client{Timeout: opts.Timeout},
		logger:     logger.With().Str("component", "detection").Logger(),
	}
}

// Detect отправляет изображение JPEG байтами на /predict и возвращает найденные объекты
func (c *Client) Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Создаем form field с правильным Content-Type
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, &Error{Op: "encode", Err: fmt.Errorf("create form part: %w", err)}
	}

	if _, err := part.Write(frame.Data); err != nil {
		return nil, &Error{Op: "encode", Err: fmt.Errorf("write image data: %w", err)}
	}

	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return nil, &Error{Op: "encode", Err: fmt.Errorf("write model field: %w", err)}
		}
	}
	if c.confidence > 0 {
		if err := writer.WriteField("confidence", strconv.FormatFloat(c.confidence, 'f', -1, 64)); err != nil {
			return nil, &Error{Op: "encode", Err: fmt.Errorf("write confidence field: %w", err)}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, &Error{Op: "encode", Err: fmt.Errorf("close writer: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/predict", &buf)
	if err != nil {
		return nil, &Error{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &Error{
			Op:         "predict",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("bad status: %s, error: %s", resp.Status, bodyBytes),
		}
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}

	c.logger.Debug().
		Str("session_id", frame.SessionID).
		Uint64("seq", frame.Seq).
		Int("detections", len(out.Detections)).
		Msg("frame inferred")

	return out.Detections, nil
}
