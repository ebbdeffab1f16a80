package memory

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Validate(t *testing.T) {
	p := NewDefaultPolicy()
	tests := []struct {
		name     string
		in       Candidate
		wantErr  bool
		wantType Bucket
		wantImp  Importance
	}{
		{
			name:     "valid user fact",
			in:       Candidate{Content: "User lives in Lisbon", Category: "personal_facts", Importance: "medium", Type: "user"},
			wantType: BucketUser,
			wantImp:  ImportanceMedium,
		},
		{
			name:     "high importance forces user bucket",
			in:       Candidate{Content: "User is allergic to peanuts", Category: "personal_facts", Importance: "high", Type: "session"},
			wantType: BucketUser,
			wantImp:  ImportanceHigh,
		},
		{
			name:     "missing importance defaults to low",
			in:       Candidate{Content: "Currently debugging a flaky test", Category: "projects", Type: "session"},
			wantType: BucketSession,
			wantImp:  ImportanceLow,
		},
		{
			name:     "unknown type routes to session",
			in:       Candidate{Content: "Wants to run a marathon", Category: "GOALS", Importance: "Low", Type: "global"},
			wantType: BucketSession,
			wantImp:  ImportanceLow,
		},
		{name: "content exactly ten chars", in: Candidate{Content: "0123456789", Category: "goals"}, wantErr: true},
		{name: "padding does not count toward length", in: Candidate{Content: "   short one   ", Category: "goals"}, wantErr: true},
		{name: "unknown category", in: Candidate{Content: "User likes long walks", Category: "hobbies"}, wantErr: true},
		{name: "unknown importance", in: Candidate{Content: "User likes long walks", Category: "preferences", Importance: "critical"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Validate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, rec.Type)
			assert.Equal(t, tt.wantImp, rec.Importance)
			assert.Equal(t, strings.TrimSpace(tt.in.Content), rec.Content)
		})
	}
}

func TestDefaultPolicy_ShouldExtract(t *testing.T) {
	p := NewDefaultPolicy()
	if p.ShouldExtract("USER: hi\n\nASSISTANT: hello") {
		t.Fatal("short transcript should be skipped")
	}
	if p.ShouldExtract(strings.Repeat(" ", 60) + "thank you" + strings.Repeat(" ", 60)) {
		t.Fatal("generic closing should be skipped")
	}
	long := "USER: Hi, my name is John and I work as a nurse\n\nASSISTANT: Nice to meet you John!"
	if !p.ShouldExtract(long) {
		t.Fatal("substantive transcript should be extracted")
	}
}

func TestDefaultPolicy_ShouldExtractCountsCharacters(t *testing.T) {
	p := NewDefaultPolicy()
	// 36 characters but 66 bytes.
	short := "USER: " + strings.Repeat("é", 30)
	if p.ShouldExtract(short) {
		t.Fatal("length is measured in characters, not bytes")
	}
	if !p.ShouldExtract("USER: " + strings.Repeat("é", 50)) {
		t.Fatal("50 accented characters should be long enough")
	}
}

func TestParseBucket(t *testing.T) {
	b, err := ParseBucket(" User ")
	require.NoError(t, err)
	assert.Equal(t, BucketUser, b)

	b, err = ParseBucket("SESSION")
	require.NoError(t, err)
	assert.Equal(t, BucketSession, b)

	_, err = ParseBucket("global")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestImportanceScore(t *testing.T) {
	assert.Equal(t, 3, ImportanceHigh.Score())
	assert.Equal(t, 2, ImportanceMedium.Score())
	assert.Equal(t, 1, ImportanceLow.Score())
	assert.Equal(t, 1, Importance("weird").Score())
}
