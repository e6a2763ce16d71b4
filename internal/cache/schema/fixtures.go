package schema

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// IsFixtureFile reports whether path has an extension ReadRecordsFile understands.
func IsFixtureFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".yaml", ".yml":
		return true
	}
	return false
}

// ReadRecordsFile reads a fixture file of records.
//
// Supported formats, chosen by extension:
//   - .json: a JSON array of records
//   - .jsonl: one JSON record per line (blank lines are skipped)
//   - .yaml, .yml: a YAML list of records
//
// Every record is validated; the first invalid record fails the whole file.
func ReadRecordsFile(path string) ([]Record, error) {
	// #nosec G304 - controlled path from CLI or watched fixtures dir
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file %s: %w", path, err)
	}

	var records []Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse records file %s: %w", path, err)
		}
	case ".jsonl":
		records, err = decodeJSONL(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse records file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse records file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported records file extension: %s", path)
	}

	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid record %d in %s: %w", i, path, err)
		}
	}

	return records, nil
}

func decodeJSONL(data []byte) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// WriteRecordsFile writes records to path as pretty JSON, JSONL or YAML,
// chosen by extension. The write goes through a temp file and a rename.
func WriteRecordsFile(path string, records []Record) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("cannot write invalid record %d: %w", i, err)
		}
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(records, "", "  ")
	case ".jsonl":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, r := range records {
			if err = enc.Encode(r); err != nil {
				break
			}
		}
		data = buf.Bytes()
	case ".yaml", ".yml":
		data, err = yaml.Marshal(records)
	default:
		return fmt.Errorf("unsupported records file extension: %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create fixtures directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ReadAllRecordFiles reads every fixture file in dir, in directory order.
// A missing directory yields no records. Invalid files are skipped with a
// warning to stderr so one bad fixture does not hide the rest.
func ReadAllRecordFiles(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("failed to read fixtures directory: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !IsFixtureFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		fileRecords, err := ReadRecordsFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid fixture file %s: %v\n", entry.Name(), err)
			continue
		}

		records = append(records, fileRecords...)
	}

	return records, nil
}
