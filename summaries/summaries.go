// Package summaries writes the artifacts a run leaves in its summary
// directory: image grids, the graph dump and parameter statistics.
package summaries

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"github.com/tsawler/go-bicyclegan/layers"
	"github.com/tsawler/go-bicyclegan/tensor"
	"github.com/tsawler/go-bicyclegan/vision/preprocessing"
)

// DefaultMaxOutputs caps how many samples of a batch an image summary shows
const DefaultMaxOutputs = 10

// ImageSummary describes one image summary of the model
type ImageSummary struct {
	Name       string `json:"name"`
	Source     string `json:"source"` // graph stage or placeholder the images come from
	MaxOutputs int    `json:"max_outputs"`
}

// ParameterStats represents parameter distribution statistics
type ParameterStats struct {
	Graph     string    `json:"graph"`
	LayerName string    `json:"layer_name"`
	ParamType string    `json:"param_type"` // "weight", "bias"
	Count     int       `json:"count"`
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Histogram []float64 `json:"histogram"`
	Bins      []float64 `json:"bins"`
}

// ComputeParameterStats summarizes data with a histogram of the given number of bins
func ComputeParameterStats(graph, layer, paramType string, data []float32, bins int) ParameterStats {
	stats := ParameterStats{Graph: graph, LayerName: layer, ParamType: paramType, Count: len(data)}
	if len(data) == 0 {
		return stats
	}
	if bins <= 0 {
		bins = 10
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range data {
		f := float64(v)
		sum += f
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	mean := sum / float64(len(data))

	var sq float64
	for _, v := range data {
		d := float64(v) - mean
		sq += d * d
	}

	stats.Mean = mean
	stats.Std = math.Sqrt(sq / float64(len(data)))
	stats.Min = lo
	stats.Max = hi

	stats.Histogram = make([]float64, bins)
	stats.Bins = make([]float64, bins+1)
	width := (hi - lo) / float64(bins)
	for i := range stats.Bins {
		stats.Bins[i] = lo + float64(i)*width
	}
	for _, v := range data {
		idx := bins - 1
		if width > 0 {
			idx = min(int((float64(v)-lo)/width), bins-1)
		}
		stats.Histogram[idx]++
	}
	return stats
}

// Writer writes summaries into one directory. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	dir string
}

// NewWriter creates dir if needed and returns a Writer for it
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("summary directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the directory the writer writes to
func (w *Writer) Dir() string {
	return w.dir
}

// WriteImages writes up to s.MaxOutputs samples of an NHWC batch as one
// horizontal PNG strip named <name>_<step>.png
func (w *Writer) WriteImages(s ImageSummary, step int, batch *tensor.Tensor) (string, error) {
	if batch == nil || batch.Dim() != 4 {
		return "", fmt.Errorf("summary %s: expected an NHWC batch", s.Name)
	}
	n, h, wd := batch.Shape[0], batch.Shape[1], batch.Shape[2]
	if s.MaxOutputs > 0 {
		n = min(n, s.MaxOutputs)
	}

	grid := image.NewNRGBA(image.Rect(0, 0, n*wd, h))
	for i := 0; i < n; i++ {
		img, err := preprocessing.ToImage(batch, i)
		if err != nil {
			return "", fmt.Errorf("summary %s: %w", s.Name, err)
		}
		draw.Draw(grid, image.Rect(i*wd, 0, (i+1)*wd, h), img, image.Point{}, draw.Src)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_%d.png", s.Name, step))
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := preprocessing.SavePNG(path, grid); err != nil {
		return "", fmt.Errorf("summary %s: %w", s.Name, err)
	}
	return path, nil
}

// WriteGraph dumps graphs as graph.json and a readable graph.txt
func (w *Writer) WriteGraph(graphs ...*layers.GraphSpec) ([]string, error) {
	dump := make(map[string]*layers.GraphSpec, len(graphs))
	var text strings.Builder
	for _, g := range graphs {
		dump[g.Name] = g
		text.WriteString(g.Summary())
		text.WriteString("\n")
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}

	jsonPath := filepath.Join(w.dir, "graph.json")
	textPath := filepath.Join(w.dir, "graph.txt")

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(textPath, []byte(text.String()), 0o644); err != nil {
		return nil, err
	}
	return []string{jsonPath, textPath}, nil
}

// WriteParameterStats writes stats as params_<step>.json
func (w *Writer) WriteParameterStats(step int, stats []ParameterStats) (string, error) {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal parameter stats: %w", err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("params_%d.json", step))
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
