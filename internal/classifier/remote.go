package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/pkg/log"
)

const (
	DefaultEndpoint = "http://localhost:8501"
	DefaultTimeout  = 300 * time.Second
)

// Remote classifies files by posting them to a model server that hosts the
// trained networks. One Remote serves exactly one model.
//
// Thread-safe for concurrent use.
type Remote struct {
	cfg        ModelConfig
	endpoint   string
	httpClient *http.Client
}

type RemoteOption func(*Remote)

func WithEndpoint(endpoint string) RemoteOption {
	return func(r *Remote) {
		if endpoint != "" {
			r.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.httpClient.Timeout = d
		}
	}
}

func withHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// Load reads the options of model name below modelsRoot and returns a client
// bound to that model.
//
// Example:
//
//	c, err := classifier.Load("tf_models", classifier.Biotic,
//		classifier.WithEndpoint("http://localhost:8501"))
//	if err != nil {
//		return err
//	}
//	seq, err := c.Classify(ctx, "site1/rec.wav")
func Load(modelsRoot, name string, opts ...RemoteOption) (*Remote, error) {
	cfg, err := LoadModelConfig(modelsRoot, name)
	if err != nil {
		return nil, err
	}
	return NewRemote(cfg, opts...), nil
}

func NewRemote(cfg ModelConfig, opts ...RemoteOption) *Remote {
	r := &Remote{
		cfg:        cfg,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) Name() string    { return r.cfg.Name }
func (r *Remote) SampleRate() int { return r.cfg.SampleRate }
func (r *Remote) HopLength() int  { return r.cfg.HopLength }

type classifyResponse struct {
	Predictions []float64 `json:"predictions"`
	SampleRate  int       `json:"sample_rate"`
	HopLength   int       `json:"hop_length"`
	Error       string    `json:"error,omitempty"`
}

// Classify returns one confidence per frame of path. Unreadable audio, a
// failed request and malformed predictions are all ErrInference errors.
func (r *Remote) Classify(ctx context.Context, path string) ([]float32, error) {
	fail := func(err error, msg string) error {
		return errs.Wrap(err, errs.ErrInference, msg).
			WithContext("model", r.cfg.Name).
			WithContext("path", path)
	}

	info, err := ReadWAVInfo(path)
	if err != nil {
		return nil, fail(err, "unreadable audio")
	}
	log.Debug("%s: %s has %d samples at %d Hz", r.cfg.Name, filepath.Base(path), info.Samples, info.SampleRate)

	body, contentType, err := r.buildRequestBody(path)
	if err != nil {
		return nil, fail(err, "build classify request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/classify", body)
	if err != nil {
		return nil, fail(err, "build classify request")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fail(err, "classify request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fail(fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg))), "model server rejected request")
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fail(err, "decode classify response")
	}
	if out.Error != "" {
		return nil, fail(fmt.Errorf("%s", out.Error), "model server error")
	}
	if out.SampleRate != 0 && out.SampleRate != r.cfg.SampleRate {
		return nil, fail(fmt.Errorf("sample rate %d, expected %d", out.SampleRate, r.cfg.SampleRate), "model server timing mismatch")
	}
	if out.HopLength != 0 && out.HopLength != r.cfg.HopLength {
		return nil, fail(fmt.Errorf("hop length %d, expected %d", out.HopLength, r.cfg.HopLength), "model server timing mismatch")
	}

	seq := make([]float32, len(out.Predictions))
	for i, v := range out.Predictions {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return nil, fail(fmt.Errorf("frame %d has confidence %v", i, v), "prediction out of range")
		}
		seq[i] = float32(v)
	}
	return seq, nil
}

func (r *Remote) buildRequestBody(path string) (io.Reader, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	options, err := json.Marshal(r.cfg.Options)
	if err != nil {
		return nil, "", fmt.Errorf("encode model options: %w", err)
	}
	fields := [][2]string{
		{"model", r.cfg.Name},
		{"weights", r.cfg.WeightsPath()},
		{"sample_rate", fmt.Sprint(r.cfg.SampleRate)},
		{"hop_length", fmt.Sprint(r.cfg.HopLength)},
		{"options", string(options)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	fw, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	fd, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer fd.Close()

	if _, err = io.Copy(fw, fd); err != nil {
		return nil, "", err
	}
	if err = w.Close(); err != nil {
		return nil, "", err
	}
	return &b, w.FormDataContentType(), nil
}
