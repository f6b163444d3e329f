package ingest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"goshawk/metrics"
)

// ChunkFunc receives one bounded chunk of raw decoded records. Chunks
// are delivered strictly in enumeration order.
type ChunkFunc func(records []interface{})

// Source feeds raw records into the scan pipeline in fixed-size
// chunks.
type Source interface {
	Walk(fn ChunkFunc) error
}

// FileSource reads audit log exports from a single file or a
// directory tree. Files with unknown extensions, undecodable content
// or an unexpected JSON shape are skipped without failing the walk: a
// single malformed file must not abort a multi-gigabyte scan.
type FileSource struct {
	Root      string
	ChunkSize int
	Progress  Progress
	Logger    *zap.SugaredLogger
}

// Walk enumerates, decodes and chunks every log file under Root.
func (s *FileSource) Walk(fn ChunkFunc) error {
	files, totalSize, err := enumerateLogFiles(s.Root)
	if err != nil {
		return fmt.Errorf("failed to enumerate log files under %s: %w", s.Root, err)
	}
	s.progress().Begin(len(files), totalSize)
	defer s.progress().End()

	for _, file := range files {
		s.progress().File(file.path, file.size)
		data, err := readLogFile(file.path)
		if err != nil {
			s.Logger.Warnf("skipping unreadable file %s: %v", file.path, err)
			metrics.FilesSkipped.WithLabelValues("unreadable").Inc()
			continue
		}
		records, err := DecodeRecords(data)
		if err != nil {
			s.Logger.Warnf("skipping undecodable file %s: %v", file.path, err)
			metrics.FilesSkipped.WithLabelValues("undecodable").Inc()
			continue
		}
		metrics.FilesScanned.Inc()
		metrics.BytesScanned.Add(float64(len(data)))
		emitChunks(records, s.ChunkSize, fn)
	}
	return nil
}

func (s *FileSource) progress() Progress {
	if s.Progress == nil {
		return NopProgress{}
	}
	return s.Progress
}

type logFile struct {
	path string
	size int64
}

// enumerateLogFiles collects candidate files in sorted order so record
// emission order is reproducible across platforms.
func enumerateLogFiles(root string) ([]logFile, int64, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, err
	}
	if !info.IsDir() {
		return []logFile{{path: root, size: info.Size()}}, info.Size(), nil
	}

	var files []logFile
	var totalSize int64
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsLogFile(p) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, logFile{path: p, size: fi.Size()})
		totalSize += fi.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, totalSize, nil
}

// IsLogFile reports whether a path looks like a plain or gzipped JSON
// export.
func IsLogFile(path string) bool {
	return strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".gz")
}

// readLogFile reads a log file, transparently decompressing gzip. The
// whole payload is held in memory; peak usage is bounded downstream by
// chunking, not here.
func readLogFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip open: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}

// gunzip decompresses an in-memory gzip payload.
func gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip open: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// DecodeRecords extracts the record list from a decoded export: either
// a top-level JSON array, or an object with the records under a
// "Records" key (the CloudTrail export shape).
func DecodeRecords(data []byte) ([]interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	switch t := doc.(type) {
	case []interface{}:
		return t, nil
	case map[string]interface{}:
		if records, ok := t["Records"].([]interface{}); ok {
			return records, nil
		}
		return nil, fmt.Errorf("object has no Records array")
	default:
		return nil, fmt.Errorf("unexpected top-level JSON shape %T", doc)
	}
}

func emitChunks(records []interface{}, chunkSize int, fn ChunkFunc) {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		fn(records[start:end])
	}
}
