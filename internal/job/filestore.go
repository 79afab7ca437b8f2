package job

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// FileStore persists each job in its own directory under baseDir:
// record.json holds the full record, and each completed trajectory is
// additionally written as trajectory_<i>.csv for external tooling.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (s *FileStore) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *FileStore) dir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *FileStore) Save(_ context.Context, rec *Record) error {
	dir := s.dir(rec.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, "record.json"))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return err
	}

	if rec.Result == nil {
		return nil
	}
	for i, traj := range rec.Result.Trajectories {
		if err := s.writeTrajectory(dir, i, rec.Vars, rec.Result.Times, traj); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) writeTrajectory(dir string, idx int, vars []string, times []float64, states [][]float64) error {
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("trajectory_%d.csv", idx)))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if len(states) == 0 {
		return nil
	}

	header := []string{"time"}
	for i := range states[0] {
		if i < len(vars) {
			header = append(header, vars[i])
		} else {
			header = append(header, fmt.Sprintf("x%d", i))
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, state := range states {
		row := make([]string, 0, len(state)+1)
		row = append(row, strconv.FormatFloat(times[i], 'g', -1, 64))
		for _, v := range state {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, id string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(id), "record.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) List(_ context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*Record
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := s.Load(context.Background(), e.Name())
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
