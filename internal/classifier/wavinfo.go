package classifier

import (
	"os"

	"github.com/cryptix/wav"
	"github.com/pkg/errors"
)

// AudioInfo is what the WAV header says about a recording.
type AudioInfo struct {
	SampleRate int
	Channels   int
	// Samples counts sample frames (one per channel group).
	Samples int
}

// ReadWAVInfo reads the WAV header of path. It does not decode samples. A
// recording without samples is an error.
func ReadWAVInfo(path string) (info AudioInfo, err error) {
	var fi os.FileInfo
	if fi, err = os.Stat(path); err != nil {
		return info, errors.Wrapf(err, "classifier: stating %s failed", path)
	}

	var f *os.File
	if f, err = os.Open(path); err != nil {
		return info, errors.Wrapf(err, "classifier: opening %s failed", path)
	}
	defer f.Close()

	var r *wav.Reader
	if r, err = wav.NewReader(f, fi.Size()); err != nil {
		return info, errors.Wrapf(err, "classifier: reading wav header of %s failed", path)
	}

	h := r.GetFile()
	if h.SampleRate == 0 {
		return info, errors.Errorf("classifier: %s declares a zero sample rate", path)
	}
	if h.Channels == 0 {
		return info, errors.Errorf("classifier: %s declares no channels", path)
	}
	blockAlign := int64(h.Channels) * int64(h.SignificantBits/8)
	if blockAlign == 0 {
		return info, errors.Errorf("classifier: %s declares no bits per sample", path)
	}

	// the declared data size is not trusted past the end of the file
	dataSize := int64(h.SoundSize)
	if avail := fi.Size() - int64(r.FirstSampleOffset()); avail < dataSize {
		dataSize = max(avail, 0)
	}
	info = AudioInfo{
		SampleRate: int(h.SampleRate),
		Channels:   int(h.Channels),
		Samples:    int(dataSize / blockAlign),
	}
	if info.Samples == 0 {
		return info, errors.Errorf("classifier: %s has no samples", path)
	}
	return info, nil
}
