package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cryptix/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundscape-lab/soundscape/internal/errs"
)

func writeWav(t *testing.T, path string, sampleRate uint32, samples int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := wav.File{Channels: 1, SampleRate: sampleRate, SignificantBits: 16}.NewWriter(f)
	require.NoError(t, err)
	for i := 0; i < samples; i++ {
		require.NoError(t, w.WriteSample([]byte{byte(i & 0xff), byte(i >> 8 & 0xff)}))
	}
	require.NoError(t, w.Close())
}

func writeModel(t *testing.T, root, name, opts string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, OptionsFileName), []byte(opts), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultWeightFile), []byte("weights"), 0o644))
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "Biotic sound", Description(Biotic))
	assert.Equal(t, "Anthropogenic sound", Description(Anthrop))
	assert.Equal(t, []string{Biotic, Anthrop}, Models)
	assert.False(t, Valid("birds"))
}

func TestLoadModelConfig(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, Biotic, "sample_rate: 22050\nhop_length: 512\nn_mels: 128\nfmin: 50.5\n")

	cfg, err := LoadModelConfig(root, Biotic)
	require.NoError(t, err)
	assert.Equal(t, 22050, cfg.SampleRate)
	assert.Equal(t, HopLength, cfg.HopLength)
	assert.Equal(t, filepath.Join(root, Biotic, DefaultWeightFile), cfg.WeightsPath())
	assert.Equal(t, 128, cfg.Options["n_mels"])
	assert.Equal(t, 50.5, cfg.Options["fmin"])
	assert.NotContains(t, cfg.Options, "sample_rate")
}

func TestLoadModelConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		model string
		opts  string
	}{
		{name: "unknown model", model: "birds", opts: "sample_rate: 22050\n"},
		{name: "missing sample rate", model: Biotic, opts: "n_mels: 128\n"},
		{name: "wrong hop length", model: Biotic, opts: "sample_rate: 22050\nhop_length: 256\n"},
		{name: "malformed yaml", model: Anthrop, opts: "sample_rate: [\n"},
		{name: "missing weights", model: Anthrop, opts: "sample_rate: 22050\nweights_file: other.pkl\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if Valid(tt.model) {
				writeModel(t, root, tt.model, tt.opts)
			}
			_, err := LoadModelConfig(root, tt.model)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrModelLoad), "got %v", err)
		})
	}

	_, err := LoadModelConfig(t.TempDir(), Biotic)
	assert.True(t, errs.Is(err, errs.ErrModelLoad))
}

func TestReadWAVInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	writeWav(t, path, 8000, 1500)

	info, err := ReadWAVInfo(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 1500, info.Samples)

	bad := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(bad, []byte("not a wav"), 0o644))
	_, err = ReadWAVInfo(bad)
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.wav")
	writeWav(t, empty, 8000, 0)
	_, err = ReadWAVInfo(empty)
	assert.Error(t, err)
}

func newTestRemote(t *testing.T, handler http.HandlerFunc) *Remote {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	root := t.TempDir()
	writeModel(t, root, Biotic, "sample_rate: 8000\nn_mels: 64\n")
	r, err := Load(root, Biotic, WithEndpoint(srv.URL+"/"), withHTTPClient(srv.Client()))
	require.NoError(t, err)
	return r
}

func TestRemoteClassify(t *testing.T) {
	var gotModel, gotOptions, gotFile string
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/classify", req.URL.Path)
		require.NoError(t, req.ParseMultipartForm(1<<20))
		gotModel = req.FormValue("model")
		gotOptions = req.FormValue("options")
		_, fh, err := req.FormFile("file")
		require.NoError(t, err)
		gotFile = fh.Filename

		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []float64{0.1, 0.9, 0},
			"sample_rate": 8000,
			"hop_length":  512,
		})
	})
	assert.Equal(t, Biotic, r.Name())
	assert.Equal(t, 8000, r.SampleRate())
	assert.Equal(t, HopLength, r.HopLength())

	path := filepath.Join(t.TempDir(), "rec.wav")
	writeWav(t, path, 8000, 1500)

	seq, err := r.Classify(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.9, 0}, seq)
	assert.Equal(t, Biotic, gotModel)
	assert.JSONEq(t, `{"n_mels":64}`, gotOptions)
	assert.Equal(t, "rec.wav", gotFile)
}

func TestRemoteClassifyInferenceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `boom`},
		{name: "out of range", status: http.StatusOK, body: `{"predictions":[0.5,1.5]}`},
		{name: "negative", status: http.StatusOK, body: `{"predictions":[-0.1]}`},
		{name: "sample rate mismatch", status: http.StatusOK, body: `{"predictions":[0.5],"sample_rate":16000}`},
		{name: "hop mismatch", status: http.StatusOK, body: `{"predictions":[0.5],"hop_length":256}`},
		{name: "error field", status: http.StatusOK, body: `{"error":"decode failed"}`},
		{name: "garbage", status: http.StatusOK, body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			path := filepath.Join(t.TempDir(), "rec.wav")
			writeWav(t, path, 8000, 600)

			_, err := r.Classify(context.Background(), path)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrInference), "got %v", err)
		})
	}
}

func TestRemoteClassifyUnreadableAudio(t *testing.T) {
	called := false
	r := newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
		called = true
	})
	path := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))

	_, err := r.Classify(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrInference))
	assert.False(t, called)
}
