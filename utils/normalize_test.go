package utils

import (
	"testing"

	"slotkeeper/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "(555) 123-4567", want: "+15551234567"},
		{in: "555.222.3333", want: "+15552223333"},
		{in: "1-555-123-4567", want: "+15551234567"},
		{in: "+44 20 7946 0958", want: "+442079460958"},
		{in: "0044 20 7946 0958", want: "+442079460958"},
		{in: "12345", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "John Doe", NormalizeName("john doe"))
	assert.Equal(t, "Mary Ann Smith", NormalizeName("  MARY   ann smith "))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail(" JOHN@EXAMPLE.COM ")
	require.NoError(t, err)
	assert.Equal(t, "john@example.com", got)

	_, err = NormalizeEmail("not-an-email")
	assert.True(t, IsValidation(err))
}

func TestNormalizeContact(t *testing.T) {
	got, err := NormalizeContact(models.ContactInfo{
		Name:  "john doe",
		Phone: "(555) 123-4567",
		Email: "JOHN@EXAMPLE.COM",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ContactInfo{Name: "John Doe", Phone: "+15551234567", Email: "john@example.com"}, got)

	_, err = NormalizeContact(models.ContactInfo{Name: "john"})
	assert.True(t, IsValidation(err))
}
