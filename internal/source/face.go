package source

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// FaceRecognitionAdapter uploads the query image to a face-matching service.
type FaceRecognitionAdapter struct {
	*httpSource
	config FaceConfig
}

// FaceConfig holds face-matcher settings.
type FaceConfig struct {
	ProviderConfig `yaml:",inline"`
	Threshold      float64 `yaml:"threshold"`
	MaxMatches     int     `yaml:"max_matches"`
}

// DefaultFaceConfig returns sensible defaults. Matching is compute bound, so
// the deadline is longer than for network lookups.
func DefaultFaceConfig() FaceConfig {
	return FaceConfig{
		ProviderConfig: ProviderConfig{
			APIKey:    "FACE_MATCH_API_KEY",
			Timeout:   30 * time.Second,
			RateLimit: 20,
		},
		Threshold:  0.5,
		MaxMatches: 10,
	}
}

// NewFaceRecognitionAdapter creates the adapter.
func NewFaceRecognitionAdapter(config FaceConfig) (*FaceRecognitionAdapter, error) {
	src, err := newHTTPSource("face-recognition", config.ProviderConfig, "X-API-Key")
	if err != nil {
		return nil, err
	}
	return &FaceRecognitionAdapter{httpSource: src, config: config}, nil
}

func (a *FaceRecognitionAdapter) Name() string { return "face-recognition" }
func (a *FaceRecognitionAdapter) Kind() investigation.SourceKind {
	return investigation.SourceFaceRecognition
}
func (a *FaceRecognitionAdapter) Requires() Requirement { return Requires(investigation.FieldImage) }

// HealthCheck verifies connectivity.
func (a *FaceRecognitionAdapter) HealthCheck(ctx context.Context) error {
	return a.healthCheck(ctx, "/v1/status")
}

// Invoke submits the image as multipart/form-data.
func (a *FaceRecognitionAdapter) Invoke(ctx context.Context, q investigation.Query) (investigation.RawResult, error) {
	if len(q.Image) == 0 {
		return investigation.RawResult{}, fmt.Errorf("no image supplied: %w", ErrInvalidQuery)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "query-image")
	if err != nil {
		return investigation.RawResult{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(q.Image); err != nil {
		return investigation.RawResult{}, fmt.Errorf("building upload: %w", err)
	}
	_ = mw.WriteField("threshold", strconv.FormatFloat(a.config.Threshold, 'f', -1, 64))
	_ = mw.WriteField("max_matches", strconv.Itoa(a.config.MaxMatches))
	if err := mw.Close(); err != nil {
		return investigation.RawResult{}, fmt.Errorf("building upload: %w", err)
	}

	req, err := a.newRequest(ctx, http.MethodPost, "/v1/match", &buf)
	if err != nil {
		return investigation.RawResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, status, err := a.do(req)
	if err != nil {
		return investigation.RawResult{}, err
	}
	if status == http.StatusNotFound {
		body = []byte(`{"matches":[]}`)
	}

	return investigation.RawResult{
		Kind:       a.Kind(),
		Adapter:    a.Name(),
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
