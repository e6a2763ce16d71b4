package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid root record",
			record: Record{
				ID:        "id1",
				ParentID:  RootParentID,
				Name:      "name1",
				UpdatedAt: "1970-01-01 00:00:03",
			},
		},
		{
			name: "valid child record",
			record: Record{
				ID:        "id9",
				ParentID:  "id1",
				UpdatedAt: "1970-01-01 00:00:09",
			},
		},
		{
			name:    "missing id",
			record:  Record{ParentID: RootParentID, UpdatedAt: "1970-01-01 00:00:03"},
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name:    "missing parent",
			record:  Record{ID: "id1", UpdatedAt: "1970-01-01 00:00:03"},
			wantErr: true,
			errMsg:  "parent_id is required",
		},
		{
			name:    "own parent",
			record:  Record{ID: "id1", ParentID: "id1", UpdatedAt: "1970-01-01 00:00:03"},
			wantErr: true,
			errMsg:  "cannot be its own parent",
		},
		{
			name:    "missing updated_at",
			record:  Record{ID: "id1", ParentID: RootParentID},
			wantErr: true,
			errMsg:  "updated_at is required",
		},
		{
			name:    "bad updated_at layout",
			record:  Record{ID: "id1", ParentID: RootParentID, UpdatedAt: "1970-01-01T00:00:03Z"},
			wantErr: true,
			errMsg:  "does not match layout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestRemoteRecord_ToRecord(t *testing.T) {
	remote := RemoteRecord{
		ID:        "id1",
		ParentID:  "0",
		Name:      "name1",
		ImageURL:  "image_url",
		Active:    "1",
		UpdatedAt: "1970-01-01 00:00:03",
	}

	got := remote.ToRecord()
	want := Record{
		ID:        "id1",
		ParentID:  "0",
		Name:      "name1",
		ImageURL:  "image_url",
		Active:    "1",
		UpdatedAt: "1970-01-01 00:00:03",
	}
	if got != want {
		t.Errorf("ToRecord() = %+v, want %+v", got, want)
	}
	if back := got.ToRemote(); back != remote {
		t.Errorf("ToRemote() = %+v, want %+v", back, remote)
	}
}

func TestTimestampLayout_SortsLikeTime(t *testing.T) {
	earlier := FormatTimestamp(time.Date(2023, 9, 30, 23, 59, 59, 0, time.UTC))
	later := FormatTimestamp(time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC))

	if !(earlier < later) {
		t.Errorf("expected %q < %q", earlier, later)
	}
	if Epoch >= earlier {
		t.Errorf("expected Epoch %q to sort first", Epoch)
	}
}

func TestReadRecordsFile_Formats(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"a.json": `[{"id":"id1","parent_id":"0","name":"name1","updated_at":"1970-01-01 00:00:03"}]`,
		"b.jsonl": `{"id":"id2","parent_id":"0","name":"name2","updated_at":"1970-01-01 00:00:04"}

{"id":"id3","parent_id":"id2","name":"name3","updated_at":"1970-01-01 00:00:05"}
`,
		"c.yaml": `- id: id4
  parent_id: "0"
  name: name4
  active: "1"
  updated_at: "1970-01-01 00:00:06"
`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	tests := []struct {
		file    string
		wantIDs []string
	}{
		{"a.json", []string{"id1"}},
		{"b.jsonl", []string{"id2", "id3"}},
		{"c.yaml", []string{"id4"}},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			records, err := ReadRecordsFile(filepath.Join(dir, tt.file))
			if err != nil {
				t.Fatalf("ReadRecordsFile() failed: %v", err)
			}
			if len(records) != len(tt.wantIDs) {
				t.Fatalf("got %d records, want %d", len(records), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if records[i].ID != id {
					t.Errorf("records[%d].ID = %q, want %q", i, records[i].ID, id)
				}
			}
		})
	}
}

func TestReadRecordsFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte(`[{"id":"","parent_id":"0","updated_at":"1970-01-01 00:00:03"}]`), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	if _, err := ReadRecordsFile(path); err == nil {
		t.Error("ReadRecordsFile() should fail for a record without id")
	}

	if _, err := ReadRecordsFile(filepath.Join(dir, "records.csv")); err == nil {
		t.Error("ReadRecordsFile() should fail for an unsupported extension")
	}
}

func TestWriteRecordsFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	records := []Record{
		{ID: "id1", ParentID: "0", Name: "name1", ImageURL: "image_url", Active: "1", UpdatedAt: "1970-01-01 00:00:03"},
		{ID: "id2", ParentID: "id1", Name: "name2", ImageURL: "image_url", Active: "0", UpdatedAt: "1970-01-01 00:00:04"},
	}

	for _, name := range []string{"out.json", "out.jsonl", "out.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "nested", name)
			if err := WriteRecordsFile(path, records); err != nil {
				t.Fatalf("WriteRecordsFile() failed: %v", err)
			}

			got, err := ReadRecordsFile(path)
			if err != nil {
				t.Fatalf("ReadRecordsFile() failed: %v", err)
			}
			if len(got) != len(records) {
				t.Fatalf("got %d records, want %d", len(got), len(records))
			}
			for i := range records {
				if got[i] != records[i] {
					t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
				}
			}
		})
	}
}

func TestReadAllRecordFiles(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		records, err := ReadAllRecordFiles(filepath.Join(t.TempDir(), "nope"))
		if err != nil {
			t.Fatalf("ReadAllRecordFiles() failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("got %d records, want 0", len(records))
		}
	})

	t.Run("skips invalid and foreign files", func(t *testing.T) {
		dir := t.TempDir()
		good := `[{"id":"id1","parent_id":"0","updated_at":"1970-01-01 00:00:03"}]`
		bad := `not json`
		if err := os.WriteFile(filepath.Join(dir, "good.json"), []byte(good), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte(bad), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
			t.Fatal(err)
		}

		records, err := ReadAllRecordFiles(dir)
		if err != nil {
			t.Fatalf("ReadAllRecordFiles() failed: %v", err)
		}
		if len(records) != 1 || records[0].ID != "id1" {
			t.Errorf("got %+v, want only id1", records)
		}
	})
}
