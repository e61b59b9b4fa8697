package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/soundscape-lab/soundscape/internal/errs"
)

const (
	PartialFileName = "partial_predictions.json"
	FinalFileName   = "predictions.json"

	formatVersion = 1
)

// FileResult maps a model name to that model's full frame-confidence sequence
// for one file. A key is present iff the model classified the file.
type FileResult map[string][]float32

// State maps file IDs to their results. It is owned by the caller and passed
// explicitly through the pipeline; Store never keeps a copy.
type State map[string]FileResult

func NewState() State {
	return make(State)
}

// FileIDs returns the known file IDs in sorted order.
func (s State) FileIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasAll reports whether every model in models has a result.
func (r FileResult) HasAll(models ...string) bool {
	for _, m := range models {
		if _, ok := r[m]; !ok {
			return false
		}
	}
	return true
}

// HasAll reports whether every model in models has a result for fileID.
func (s State) HasAll(fileID string, models ...string) bool {
	res, ok := s[fileID]
	if !ok {
		return false
	}
	return res.HasAll(models...)
}

type envelope struct {
	Version int   `json:"version"`
	Files   State `json:"files"`
}

// Store persists State as JSON in two artifacts: the partial checkpoint,
// rewritten after every recorded result, and the final artifact written once
// a run completes.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) PartialPath() string {
	return filepath.Join(s.dir, PartialFileName)
}

func (s *Store) FinalPath() string {
	return filepath.Join(s.dir, FinalFileName)
}

// Load returns the persisted partial state, or an empty one if none exists.
// A malformed checkpoint is an ErrCorruption error.
func (s *Store) Load() (State, error) {
	return readState(s.PartialPath())
}

// LoadFinal reads the final artifact of a completed run.
func (s *Store) LoadFinal() (State, error) {
	return readState(s.FinalPath())
}

func readState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, errs.Wrap(err, errs.ErrCorruption, "read checkpoint").WithContext("path", path)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.Wrap(err, errs.ErrCorruption, "decode checkpoint").WithContext("path", path)
	}
	if env.Version != formatVersion {
		return nil, errs.New(errs.ErrCorruption, fmt.Sprintf("unsupported checkpoint version %d", env.Version)).
			WithContext("path", path)
	}
	if env.Files == nil {
		env.Files = NewState()
	}
	for id, res := range env.Files {
		if res == nil {
			return nil, errs.New(errs.ErrCorruption, "null result entry").
				WithContext("path", path).
				WithContext("file", id)
		}
	}
	return env.Files, nil
}

// Record stores seq as model's result for fileID and persists the whole state
// before returning. The sequence is copied.
func (s *Store) Record(state State, fileID, model string, seq []float32) error {
	if state == nil {
		return fmt.Errorf("checkpoint state is nil")
	}
	res, ok := state[fileID]
	if !ok {
		res = make(FileResult)
		state[fileID] = res
	}
	res[model] = slices.Clone(seq)
	if res[model] == nil {
		res[model] = []float32{}
	}

	if err := writeStateAtomic(s.PartialPath(), state); err != nil {
		return errs.Wrap(err, errs.ErrFileWrite, "save checkpoint").
			WithContext("path", s.PartialPath()).
			WithContext("file", fileID).
			WithContext("model", model)
	}
	return nil
}

// IsComplete reports whether model has already classified fileID.
func IsComplete(state State, fileID, model string) bool {
	res, ok := state[fileID]
	if !ok {
		return false
	}
	_, ok = res[model]
	return ok
}

// Finalize writes the completed state to the final artifact. The partial
// checkpoint is left in place so later runs over a grown corpus still resume.
func (s *Store) Finalize(state State) error {
	if state == nil {
		state = NewState()
	}
	if err := writeStateAtomic(s.FinalPath(), state); err != nil {
		return errs.Wrap(err, errs.ErrFileWrite, "write final predictions").WithContext("path", s.FinalPath())
	}
	return nil
}

// writeStateAtomic replaces path with the encoded state via a synced temp
// file in the same directory, so readers only ever see a whole checkpoint.
func writeStateAtomic(path string, state State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := json.NewEncoder(tmp).Encode(envelope{Version: formatVersion, Files: state}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp checkpoint: %w", err)
	}
	return nil
}
