// Package window turns per-frame classifier confidences into fixed-duration
// time windows.
package window

import (
	"fmt"
	"math"
)

// Window is one aggregated time span of a single model's confidence sequence.
// Frames [FirstFrame, EndFrame) were averaged into Confidence.
type Window struct {
	Index      int
	Start      float64
	End        float64
	Model      string
	Confidence float64
	FirstFrame int
	EndFrame   int
}

// Boundary selects how a frame that straddles a window boundary is assigned.
type Boundary int

const (
	// Inclusive rounds a window's end frame up, so a frame straddling a
	// boundary counts in both windows it touches. Windows only share no
	// frames when their boundaries fall on frame edges.
	Inclusive Boundary = iota
	// Partition assigns a straddling frame to the window its first sample
	// falls in, so consecutive windows never share a frame.
	Partition
)

func (b Boundary) String() string {
	switch b {
	case Partition:
		return "partition"
	default:
		return "inclusive"
	}
}

// ParseBoundary accepts "inclusive" or "partition". Empty means Inclusive.
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "", "inclusive":
		return Inclusive, nil
	case "partition":
		return Partition, nil
	default:
		return Inclusive, fmt.Errorf("unknown window boundary %q", s)
	}
}

// Params are the frame/time conversion constants and the window size.
type Params struct {
	SampleRate int
	HopLength  int
	Size       float64 // seconds
	Boundary   Boundary
}

func (p Params) validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.HopLength <= 0 {
		return fmt.Errorf("hop length must be positive, got %d", p.HopLength)
	}
	if math.IsNaN(p.Size) || math.IsInf(p.Size, 0) || p.Size <= 0 {
		return fmt.Errorf("window size must be a positive number of seconds, got %v", p.Size)
	}
	return nil
}

// framesPerSecond is sampleRate/hopLength.
func (p Params) framesPerSecond() float64 {
	return float64(p.SampleRate) / float64(p.HopLength)
}

// TotalDuration is the length in seconds covered by n frames.
func (p Params) TotalDuration(n int) float64 {
	return float64(n) * float64(p.HopLength) / float64(p.SampleRate)
}

// Aggregate splits seq into consecutive windows of p.Size seconds. The final
// window is truncated at the sequence's total duration. Windows whose frame
// range is empty are dropped.
func Aggregate(model string, seq []float32, p Params) ([]Window, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	n := len(seq)
	if n == 0 {
		return nil, nil
	}

	total := p.TotalDuration(n)
	count := int(math.Ceil(snap(total / p.Size)))
	fps := p.framesPerSecond()

	ret := make([]Window, 0, count)
	for i := range count {
		start := float64(i) * p.Size
		end := math.Min(float64(i+1)*p.Size, total)
		last := i == count-1

		first := clamp(int(math.Floor(snap(float64(i)*p.Size*fps))), n)
		var stop int
		switch {
		case last:
			// total*fps == n by construction; avoid re-deriving it through floats
			stop = n
		case p.Boundary == Partition:
			stop = clamp(int(math.Floor(snap(float64(i+1)*p.Size*fps))), n)
		default:
			stop = clamp(int(math.Ceil(snap(float64(i+1)*p.Size*fps))), n)
		}
		if stop <= first {
			continue
		}

		ret = append(ret, Window{
			Index:      i,
			Start:      start,
			End:        end,
			Model:      model,
			Confidence: Mean(seq[first:stop]),
			FirstFrame: first,
			EndFrame:   stop,
		})
	}
	return ret, nil
}

// Mean is the arithmetic mean of seq accumulated in float64; 0 for an empty slice.
func Mean(seq []float32) float64 {
	if len(seq) == 0 {
		return 0
	}
	var sum float64
	for _, v := range seq {
		sum += float64(v)
	}
	return sum / float64(len(seq))
}

// snap rounds x to the nearest integer when it is within floating-point noise
// of it, so 2.9999999999 frames floors to 3.
func snap(x float64) float64 {
	r := math.Round(x)
	if math.Abs(x-r) <= 1e-9*math.Max(1, math.Abs(x)) {
		return r
	}
	return x
}

func clamp(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx > n {
		return n
	}
	return idx
}
