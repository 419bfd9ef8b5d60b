// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package monitor keeps the per-epoch history of training metrics: it saves them as JSON lines and
// draws them into a PNG figure after every epoch.
package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Point is one metric value measured at the end of an epoch.
type Point struct {
	// MetricName, e.g.: "train_loss", "val_accuracy".
	MetricName string

	// MetricType typically will be "loss" or "accuracy".
	MetricType string

	// Epoch (counting from 1) at which the metric was measured.
	Epoch int

	Value float64
}

// Points organizes a collection of Point by epoch.
type Points map[int][]Point

// NewPoints indexes rawPoints by epoch.
func NewPoints(rawPoints []Point) Points {
	points := make(Points)
	for _, p := range rawPoints {
		points[p.Epoch] = append(points[p.Epoch], p)
	}
	return points
}

// Epochs returns the epochs with points, sorted.
func (points Points) Epochs() []int {
	return slices.Sorted(maps.Keys(points))
}

// Extract converts the points back to a list, sorted by epoch.
func (points Points) Extract() (rawPoints []Point) {
	for _, epoch := range points.Epochs() {
		rawPoints = append(rawPoints, points[epoch]...)
	}
	return
}

// MetricsNames returns the names of the metrics, sorted by type and then by name.
func (points Points) MetricsNames() []string {
	nameToType := make(map[string]string)
	for _, pts := range points {
		for _, p := range pts {
			nameToType[p.MetricName] = p.MetricType
		}
	}
	names := slices.Sorted(maps.Keys(nameToType))
	sort.SliceStable(names, func(i, j int) bool {
		return nameToType[names[i]] < nameToType[names[j]]
	})
	return names
}

// Series returns the (epoch, value) pairs of one metric, sorted by epoch.
func (points Points) Series(metricName string) plotter.XYs {
	var xys plotter.XYs
	for _, epoch := range points.Epochs() {
		for _, p := range points[epoch] {
			if p.MetricName == metricName {
				xys = append(xys, plotter.XY{X: float64(epoch), Y: p.Value})
			}
		}
	}
	return xys
}

// Table renders the points with one row per epoch and one column per metric.
func (points Points) Table() string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	metrics := points.MetricsNames()
	table.Headers(append([]string{"Epoch"}, metrics...)...)
	for _, epoch := range points.Epochs() {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%d", epoch)
		for _, p := range points[epoch] {
			if idx := slices.Index(metrics, p.MetricName); idx != -1 {
				row[idx+1] = fmt.Sprintf("%.4f", p.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

// LoadPoints reads points saved as JSON lines.
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read training history %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding training history %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// SavePoints writes points as JSON lines, truncating the file.
func SavePoints(filePath string, points []Point) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create training history %q", filePath)
	}
	enc := json.NewEncoder(f)
	for _, p := range points {
		if err = enc.Encode(p); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "failed to encode point %v", p)
		}
	}
	return errors.Wrapf(f.Close(), "failed to write training history %q", filePath)
}

// Monitor records metrics at the end of each epoch, saves them to JSONPath and redraws the figure
// at FigurePath. Either path can be left empty to disable it.
type Monitor struct {
	FigurePath, JSONPath string
	points               Points
}

// New creates a Monitor. If startAt > 0 the training is being resumed: the existing history at jsonPath is
// loaded, and points from epoch startAt on are dropped, since they will be measured again.
func New(figurePath, jsonPath string, startAt int) (*Monitor, error) {
	m := &Monitor{FigurePath: figurePath, JSONPath: jsonPath, points: make(Points)}
	if startAt > 0 && jsonPath != "" {
		rawPoints, err := LoadPoints(jsonPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			klog.Warningf("no training history found in %q, starting a new one", jsonPath)
		}
		for _, p := range rawPoints {
			if p.Epoch < startAt {
				m.points[p.Epoch] = append(m.points[p.Epoch], p)
			}
		}
	}
	return m, nil
}

// Points recorded so far.
func (m *Monitor) Points() Points { return m.points }

// Add records the metrics of one epoch (values maps metric names to their values, types maps metric names
// to their types), then saves the history and the figure.
func (m *Monitor) Add(epoch int, values map[string]float64, types map[string]string) error {
	delete(m.points, epoch)
	for _, name := range slices.Sorted(maps.Keys(values)) {
		m.points[epoch] = append(m.points[epoch], Point{
			MetricName: name,
			MetricType: types[name],
			Epoch:      epoch,
			Value:      values[name],
		})
	}
	if m.JSONPath != "" {
		if err := SavePoints(m.JSONPath, m.points.Extract()); err != nil {
			return err
		}
	}
	if m.FigurePath != "" && len(m.points) > 1 {
		if err := m.SaveFigure(); err != nil {
			return err
		}
	}
	return nil
}

// SaveFigure draws every metric as a line over the epochs and saves it to FigurePath.
func (m *Monitor) SaveFigure() error {
	p := plot.New()
	epochs := m.points.Epochs()
	lastEpoch := 0
	if len(epochs) > 0 {
		lastEpoch = epochs[len(epochs)-1]
	}
	p.Title.Text = fmt.Sprintf("Training Loss and Accuracy [Epoch %d]", lastEpoch)
	p.X.Label.Text = "Epoch #"
	p.Y.Label.Text = "Loss/Accuracy"
	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	for ii, name := range m.points.MetricsNames() {
		line, err := plotter.NewLine(m.points.Series(name))
		if err != nil {
			return errors.Wrapf(err, "failed to plot metric %q", name)
		}
		line.Color = plotutil.Color(ii)
		line.Dashes = plotutil.Dashes(ii)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, m.FigurePath); err != nil {
		return errors.Wrapf(err, "failed to save training figure to %q", m.FigurePath)
	}
	return nil
}
