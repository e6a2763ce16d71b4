// Package schema defines the records cached by rs and their fixture formats.
//
// # Overview
//
// The cache holds a single hierarchy of records. Restaurants at the top
// level carry ParentID "0"; branches and menu sections point at the id of
// the record that contains them. Ids are unique across the whole table,
// never per parent.
//
//	{
//	  "id": "id1",
//	  "parent_id": "0",
//	  "name": "name1",
//	  "image_url": "image_url",
//	  "active": "1",
//	  "updated_at": "1970-01-01 00:00:03"
//	}
//
// The remote endpoint sends the same fields in camelCase (RemoteRecord).
//
// # Fixtures
//
// Fixture files feed the file source and the seed command:
//
//	records, err := schema.ReadRecordsFile("fixtures/restaurants.yaml")
//	all, err := schema.ReadAllRecordFiles("fixtures")
//	err = schema.WriteRecordsFile("fixtures/dump.jsonl", records)
//
// # Versioning
//
// UpdatedAt uses TimestampLayout so that string comparison equals time
// comparison. The largest stored UpdatedAt is the sync watermark.
package schema
