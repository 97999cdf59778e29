package datastore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rohankhera/dicom-server/datastore"
)

func Test_SchemaVersion_Valid(t *testing.T) {
	tests := []struct {
		name    string
		version datastore.SchemaVersion
		want    bool
	}{
		{name: "zero_is_invalid", version: 0, want: false},
		{name: "negative_is_invalid", version: -1, want: false},
		{name: "baseline_is_valid", version: datastore.V1, want: true},
		{name: "latest_is_valid", version: datastore.LatestSchemaVersion, want: true},
		{name: "newer_than_latest_is_valid", version: datastore.LatestSchemaVersion + 1, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.version.Valid())
		})
	}
}

func Test_SchemaVersion_Supports(t *testing.T) {
	assert.True(t, datastore.V4.Supports(datastore.V2))
	assert.True(t, datastore.V2.Supports(datastore.V2))
	assert.False(t, datastore.V1.Supports(datastore.V2))
}

func Test_SchemaVersion_String(t *testing.T) {
	assert.Equal(t, "V1", datastore.V1.String())
	assert.Equal(t, "V4", datastore.V4.String())
}
