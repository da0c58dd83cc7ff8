package claim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/overturn/internal/domain/workflow"
)

func strPtr(s string) *string { return &s }

func TestNew(t *testing.T) {
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	c := New(Draft{
		PatientName:   strPtr("Jane Doe"),
		Insurer:       strPtr(""),
		ExtractedData: map[string]any{"claim_id": "CLM-1"},
		AppealLetter:  "Dear Appeals Department,",
	}, now)

	require.NotEmpty(t, c.ID)
	assert.Equal(t, workflow.StatusSubmitted, c.Status)
	assert.Equal(t, "Jane Doe", *c.PatientName)
	assert.Nil(t, c.Insurer, "empty strings are stored as absent")
	assert.Nil(t, c.DenialDate)
	assert.Equal(t, now, c.CreatedAt)
	assert.Equal(t, now, c.UpdatedAt)

	other := New(Draft{}, now)
	assert.NotEqual(t, c.ID, other.ID)
}

func TestClaim_Display(t *testing.T) {
	c := &Claim{ID: "c1", Status: workflow.StatusCalling, Insurer: strPtr("Acme Health")}

	d := c.Display()
	assert.Equal(t, Placeholder, d.PatientName)
	assert.Equal(t, "Acme Health", d.Insurer)
	assert.Equal(t, Placeholder, d.DenialDate)
	assert.Equal(t, "calling", d.Status)
}

func TestClaim_Clone(t *testing.T) {
	c := &Claim{
		ID:            "c1",
		PatientName:   strPtr("Jane"),
		ExtractedData: map[string]any{"k": "v"},
	}

	cp := c.Clone()
	*cp.PatientName = "John"
	cp.ExtractedData["k"] = "changed"

	assert.Equal(t, "Jane", *c.PatientName)
	assert.Equal(t, "v", c.ExtractedData["k"])
	assert.Nil(t, (*Claim)(nil).Clone())
}

func TestPatch_ApplyTo(t *testing.T) {
	now := time.Now()

	t.Run("edits metadata in any status", func(t *testing.T) {
		c := &Claim{Status: workflow.StatusInReview, PatientName: strPtr("Jane")}
		err := Patch{PatientName: strPtr(""), Insurer: strPtr("Acme")}.ApplyTo(c, now)

		require.NoError(t, err)
		assert.Nil(t, c.PatientName)
		assert.Equal(t, "Acme", *c.Insurer)
		assert.Equal(t, now, c.UpdatedAt)
	})

	t.Run("edits letter while submitted", func(t *testing.T) {
		c := &Claim{Status: workflow.StatusSubmitted}
		require.NoError(t, Patch{AppealLetter: strPtr("new text")}.ApplyTo(c, now))
		assert.Equal(t, "new text", c.AppealLetter)
	})

	t.Run("rejects letter edit after submission", func(t *testing.T) {
		c := &Claim{Status: workflow.StatusCalling, AppealLetter: "old", PatientName: strPtr("Jane")}
		err := Patch{AppealLetter: strPtr("new"), PatientName: strPtr("John")}.ApplyTo(c, now)

		assert.ErrorIs(t, err, ErrLetterLocked)
		assert.Equal(t, "old", c.AppealLetter)
		assert.Equal(t, "Jane", *c.PatientName, "a rejected patch changes nothing")
	})

	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{Insurer: strPtr("x")}.IsEmpty())
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"agent", RoleAgent, false},
		{"rep", RoleCounterpart, false},
		{"Counterpart", RoleCounterpart, false},
		{"system", RoleSystem, false},
		{"caller", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortTranscript(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []TranscriptEntry{
		{ID: "c", CreatedAt: base.Add(2 * time.Second)},
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}

	SortTranscript(entries)

	assert.Equal(t, []string{"a", "b", "c"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, "", entries[0].ClaimKey())
}
