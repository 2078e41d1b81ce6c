package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID   string `json:"id" validate:"required,numeric"`
	Kind string `json:"kind" validate:"oneof=a b"`
}

type request struct {
	Items []item `json:"items" validate:"min=1,dive"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		req        request
		wantFields []string
	}{
		{
			name: "valid",
			req:  request{Items: []item{{ID: "1", Kind: "a"}}},
		},
		{
			name:       "empty list",
			req:        request{},
			wantFields: []string{"items"},
		},
		{
			name:       "bad element",
			req:        request{Items: []item{{ID: "x", Kind: "c"}}},
			wantFields: []string{"items[0].id", "items[0].kind"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(&tt.req)
			if len(tt.wantFields) == 0 {
				assert.Nil(t, verr)
				return
			}
			require.NotNil(t, verr)
			var got []string
			for _, f := range verr.Fields {
				got = append(got, f.Field)
			}
			assert.Equal(t, tt.wantFields, got)
		})
	}
}

func TestErrorAddAndOrNil(t *testing.T) {
	var verr Error
	assert.NoError(t, verr.OrNil())

	verr.Add("databases[1].id", "unique", "duplicate id 2")
	err := verr.OrNil()
	require.Error(t, err)
	assert.Equal(t, "databases[1].id: duplicate id 2", err.Error())
}
