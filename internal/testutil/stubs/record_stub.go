// Package stubs builds records for tests.
package stubs

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/falcon/restaurants/internal/cache/schema"
)

type RecordStub struct {
	record schema.Record
}

// NewRecordStub returns a valid root record with fake display fields.
func NewRecordStub() RecordStub {
	updated := gofakeit.DateRange(
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	)

	record := schema.Record{
		ID:        gofakeit.UUID(),
		ParentID:  schema.RootParentID,
		Name:      gofakeit.Company(),
		ImageURL:  gofakeit.URL(),
		Active:    "1",
		UpdatedAt: schema.FormatTimestamp(updated),
	}

	return RecordStub{record: record}
}

func (rs RecordStub) WithID(id string) RecordStub {
	rs.record.ID = id
	return rs
}

func (rs RecordStub) WithParentID(parentID string) RecordStub {
	rs.record.ParentID = parentID
	return rs
}

func (rs RecordStub) WithName(name string) RecordStub {
	rs.record.Name = name
	return rs
}

func (rs RecordStub) WithUpdatedAt(updatedAt string) RecordStub {
	rs.record.UpdatedAt = updatedAt
	return rs
}

func (rs RecordStub) Get() schema.Record {
	return rs.record
}

func (rs RecordStub) GetRemote() schema.RemoteRecord {
	return rs.record.ToRemote()
}

// At returns "1970-01-01 00:00:0s" style timestamps for the fixed fixtures.
func At(second int) string {
	return schema.FormatTimestamp(time.Unix(int64(second), 0))
}

// Restaurants returns the three root restaurants id1..id3 stamped at
// seconds 3, 4 and 5.
func Restaurants() []schema.Record {
	records := make([]schema.Record, 0, 3)
	for i := 1; i <= 3; i++ {
		records = append(records, schema.Record{
			ID:        fmt.Sprintf("id%d", i),
			ParentID:  schema.RootParentID,
			Name:      fmt.Sprintf("name%d", i),
			ImageURL:  "image_url",
			Active:    "1",
			UpdatedAt: At(i + 2),
		})
	}
	return records
}

// Restaurant returns a single root restaurant with the fixture layout.
func Restaurant(id string, second int) schema.Record {
	return schema.Record{
		ID:        id,
		ParentID:  schema.RootParentID,
		Name:      "name" + id,
		ImageURL:  "image_url",
		Active:    "1",
		UpdatedAt: At(second),
	}
}
