// Package schema provides the record structures held by the restaurants cache.
package schema

import (
	"fmt"
	"time"
)

const (
	// RootParentID marks a record that sits at the top of the hierarchy.
	// No stored record carries this id.
	RootParentID = "0"

	// TimestampLayout is the layout of UpdatedAt. Values in this layout sort
	// lexicographically in time order, which is what the watermark relies on.
	TimestampLayout = "2006-01-02 15:04:05"

	// Epoch is the watermark used before anything has been synced.
	Epoch = "1970-01-01 00:00:00"
)

// Record is a node of the restaurant hierarchy as stored in the local cache.
// A record whose ParentID names another record is that record's child.
type Record struct {
	// ===== Identification =====
	ID       string `json:"id" yaml:"id"`
	ParentID string `json:"parent_id" yaml:"parent_id"`

	// ===== Display =====
	Name     string `json:"name" yaml:"name"`
	ImageURL string `json:"image_url" yaml:"image_url"`

	// Active is carried through untouched; nothing in the cache interprets it.
	Active string `json:"active" yaml:"active"`

	// ===== Versioning =====
	UpdatedAt string `json:"updated_at" yaml:"updated_at"` // TimestampLayout
}

// RemoteRecord is the wire shape returned by a remote delta source.
// It carries the same flat field set as Record.
type RemoteRecord struct {
	ID        string `json:"id" yaml:"id" dynamodbav:"id"`
	ParentID  string `json:"parentId" yaml:"parentId" dynamodbav:"parent_id"`
	Name      string `json:"name" yaml:"name" dynamodbav:"name"`
	ImageURL  string `json:"imageUrl" yaml:"imageUrl" dynamodbav:"image_url"`
	Active    string `json:"active" yaml:"active" dynamodbav:"active"`
	UpdatedAt string `json:"updatedAt" yaml:"updatedAt" dynamodbav:"updated_at"`
}

// ToRecord converts the wire shape into a stored record.
func (r RemoteRecord) ToRecord() Record {
	return Record{
		ID:        r.ID,
		ParentID:  r.ParentID,
		Name:      r.Name,
		ImageURL:  r.ImageURL,
		Active:    r.Active,
		UpdatedAt: r.UpdatedAt,
	}
}

// ToRemote is the inverse of RemoteRecord.ToRecord.
func (r Record) ToRemote() RemoteRecord {
	return RemoteRecord{
		ID:        r.ID,
		ParentID:  r.ParentID,
		Name:      r.Name,
		ImageURL:  r.ImageURL,
		Active:    r.Active,
		UpdatedAt: r.UpdatedAt,
	}
}

// Validate checks if the Record has valid field values. Fixture files are
// validated on read and write; the cache itself stores remote rows as
// delivered and only requires an id.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.ParentID == "" {
		return fmt.Errorf("parent_id is required (use %q for root records)", RootParentID)
	}
	if r.ParentID == r.ID {
		return fmt.Errorf("record %s cannot be its own parent", r.ID)
	}
	if r.UpdatedAt == "" {
		return fmt.Errorf("updated_at is required")
	}
	if _, err := time.Parse(TimestampLayout, r.UpdatedAt); err != nil {
		return fmt.Errorf("updated_at %q does not match layout %q", r.UpdatedAt, TimestampLayout)
	}
	return nil
}

// IsRoot reports whether the record sits directly under the root sentinel.
func (r *Record) IsRoot() bool {
	return r.ParentID == RootParentID
}

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
