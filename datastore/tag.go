package datastore

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrEmptyTagPath is returned when a tag entry is built without a path.
	ErrEmptyTagPath = errors.New("tag path must not be empty")

	// ErrEmptyTagVR is returned when a tag entry is built without a value representation.
	ErrEmptyTagVR = errors.New("tag value representation must not be empty")

	// ErrInvalidTagLevel is returned when a tag entry is built with an unknown level.
	ErrInvalidTagLevel = errors.New("tag level must be one of study, series, instance")

	// ErrInvalidVendorMetadataJSON is returned when vendor metadata is not valid JSON.
	ErrInvalidVendorMetadataJSON = errors.New("vendor metadata json is not valid")
)

// QueryTagLevel is the hierarchy level an extended query tag is indexed at.
type QueryTagLevel string

const (
	QueryTagLevelStudy    QueryTagLevel = "study"
	QueryTagLevelSeries   QueryTagLevel = "series"
	QueryTagLevelInstance QueryTagLevel = "instance"
)

// Valid reports whether l is a known query tag level.
func (l QueryTagLevel) Valid() bool {
	switch l {
	case QueryTagLevelStudy, QueryTagLevelSeries, QueryTagLevelInstance:
		return true
	default:
		return false
	}
}

// ExtendedQueryTagEntry is a candidate tag definition submitted for bulk
// registration. It is a DTO built on scalars: it exists only for the duration
// of one add operation and is persisted as rows, never as an object.
//
// While its properties are exported, it should only be constructed with the
// supplied factory method BuildExtendedQueryTagEntry.
type ExtendedQueryTagEntry struct {
	Path               string
	VR                 string
	PrivateCreator     string
	Level              QueryTagLevel
	VendorMetadataJSON []byte
}

// ExtendedQueryTagStoreEntry is a persisted tag as read back from the store.
// Key is the engine-generated ordinal; Status reflects the registration state
// under schema versions that track it and defaults to "ready" otherwise.
type ExtendedQueryTagStoreEntry struct {
	Key    int64
	Entry  ExtendedQueryTagEntry
	Status string
}

// BuildExtendedQueryTagEntry is the factory method for ExtendedQueryTagEntry.
//
// A nil or empty vendorMetadataJSON is replaced with valid empty JSON.
// Returns an error if the path or VR is empty, the level is unknown, or the
// vendor metadata is not valid JSON.
func BuildExtendedQueryTagEntry(
	path string,
	vr string,
	privateCreator string,
	level QueryTagLevel,
	vendorMetadataJSON []byte,
) (ExtendedQueryTagEntry, error) {

	if path == "" {
		return ExtendedQueryTagEntry{}, ErrEmptyTagPath
	}

	if vr == "" {
		return ExtendedQueryTagEntry{}, ErrEmptyTagVR
	}

	if !level.Valid() {
		return ExtendedQueryTagEntry{}, ErrInvalidTagLevel
	}

	if len(vendorMetadataJSON) == 0 {
		vendorMetadataJSON = []byte("{}")
	}

	if !jsoniter.ConfigFastest.Valid(vendorMetadataJSON) {
		return ExtendedQueryTagEntry{}, ErrInvalidVendorMetadataJSON
	}

	return ExtendedQueryTagEntry{
		Path:               path,
		VR:                 vr,
		PrivateCreator:     privateCreator,
		Level:              level,
		VendorMetadataJSON: vendorMetadataJSON,
	}, nil
}
