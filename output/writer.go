package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"goshawk/core"
)

// consoleSeparator joins columns on the console; the console variant
// of the CSV sink does not apply CSV escaping.
const consoleSeparator = " · "

// SinkConfig selects sinks for a run. CSV, JSON and JSONL are
// independent; when none is enabled records go to the console.
type SinkConfig struct {
	Path    string
	CSV     bool
	JSON    bool
	JSONL   bool
	Raw     bool
	NoColor bool
}

// Writers owns every active output sink. It is exclusively owned by
// the serialized reduction phase and the correlation-application pass;
// nothing writes to it concurrently.
type Writers struct {
	profile  Profile
	cfg      SinkConfig
	levelIdx int

	csvFile   *os.File
	csvW      *csv.Writer
	jsonFile  *os.File
	jsonW     *bufio.Writer
	jsonlFile *os.File
	jsonlW    *bufio.Writer
	console   bool

	paths []string
}

// NewWriters opens the configured sinks. Every returned writer must be
// finished with FlushAll, including on abort paths.
func NewWriters(cfg SinkConfig, profile Profile) (*Writers, error) {
	w := &Writers{profile: profile, cfg: cfg, levelIdx: -1}
	for i, col := range profile {
		if col.Name == "Level" {
			w.levelIdx = i
			break
		}
	}

	if !cfg.CSV && !cfg.JSON && !cfg.JSONL {
		w.console = true
		return w, nil
	}

	if cfg.CSV {
		f, err := os.Create(withExtension(cfg.Path, ".csv"))
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV output: %w", err)
		}
		w.csvFile = f
		w.csvW = csv.NewWriter(f)
		w.paths = append(w.paths, f.Name())
	}
	if cfg.JSON {
		f, err := os.Create(withExtension(cfg.Path, ".json"))
		if err != nil {
			w.FlushAll()
			return nil, fmt.Errorf("failed to create JSON output: %w", err)
		}
		w.jsonFile = f
		w.jsonW = bufio.NewWriter(f)
		w.paths = append(w.paths, f.Name())
	}
	if cfg.JSONL {
		f, err := os.Create(withExtension(cfg.Path, ".jsonl"))
		if err != nil {
			w.FlushAll()
			return nil, fmt.Errorf("failed to create JSONL output: %w", err)
		}
		w.jsonlFile = f
		w.jsonlW = bufio.NewWriter(f)
		w.paths = append(w.paths, f.Name())
	}
	return w, nil
}

func withExtension(path, ext string) string {
	if filepath.Ext(path) == ext {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// Paths lists the file sinks opened for this run.
func (w *Writers) Paths() []string {
	return w.paths
}

// WriteHeader emits the profile's column names to the header-bearing
// sinks.
func (w *Writers) WriteHeader() error {
	if w.console {
		fmt.Println(strings.Join(w.profile.Names(), consoleSeparator))
	}
	if w.csvW != nil {
		if err := w.csvW.Write(w.profile.Names()); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	return nil
}

// WriteRecord emits one projected record to every sink. rawDoc is the
// original input document (nil for correlation records); sigmaCols are
// the rule-metadata columns used to augment rawDoc in raw mode.
func (w *Writers) WriteRecord(values []string, rawDoc interface{}, sigmaCols map[string]string) error {
	if w.console {
		w.writeConsole(values)
	}
	if w.csvW != nil {
		if err := w.csvW.Write(values); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	if w.jsonW != nil {
		if err := w.writeJSON(w.jsonW, values, rawDoc, sigmaCols, true); err != nil {
			return err
		}
	}
	if w.jsonlW != nil {
		if err := w.writeJSON(w.jsonlW, values, rawDoc, sigmaCols, false); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writers) writeConsole(values []string) {
	level := "info"
	row := make([]string, len(values))
	copy(row, values)
	if w.levelIdx >= 0 && w.levelIdx < len(row) {
		level = core.AbbreviateLevel(row[w.levelIdx])
		row[w.levelIdx] = level
	}
	line := strings.Join(row, consoleSeparator)
	if w.cfg.NoColor {
		fmt.Println(line)
		fmt.Println()
		return
	}
	levelColor(level).Println(line)
	fmt.Println()
}

func (w *Writers) writeJSON(out *bufio.Writer, values []string, rawDoc interface{}, sigmaCols map[string]string, pretty bool) error {
	var doc interface{}
	if w.cfg.Raw {
		if m, ok := rawDoc.(map[string]interface{}); ok {
			augmented := make(map[string]interface{}, len(m)+len(sigmaCols))
			for k, v := range m {
				augmented[k] = v
			}
			for k, v := range sigmaCols {
				augmented[k] = v
			}
			doc = augmented
		}
	}
	if doc == nil {
		record := make(map[string]string, len(w.profile))
		for i, col := range w.profile {
			if i < len(values) {
				record[col.Name] = values[i]
			}
		}
		doc = record
	}

	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// FlushAll flushes and closes every open sink. Safe to call more than
// once; abort paths rely on that.
func (w *Writers) FlushAll() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.csvW != nil {
		w.csvW.Flush()
		keep(w.csvW.Error())
		keep(w.csvFile.Close())
		w.csvW, w.csvFile = nil, nil
	}
	if w.jsonW != nil {
		keep(w.jsonW.Flush())
		keep(w.jsonFile.Close())
		w.jsonW, w.jsonFile = nil, nil
	}
	if w.jsonlW != nil {
		keep(w.jsonlW.Flush())
		keep(w.jsonlFile.Close())
		w.jsonlW, w.jsonlFile = nil, nil
	}
	return firstErr
}

func levelColor(level string) *color.Color {
	switch level {
	case "crit":
		return color.New(color.FgHiRed)
	case "high":
		return color.New(color.FgRed)
	case "med":
		return color.New(color.FgYellow)
	case "low":
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgWhite)
	}
}
