package claim

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/overturn/internal/domain/workflow"
)

// Placeholder is rendered in place of absent metadata
const Placeholder = "—"

// ErrLetterLocked is returned when the appeal letter is edited after the claim left submitted
var ErrLetterLocked = errors.New("appeal letter can only be edited while the claim is submitted")

// Claim is one denial appeal tracked on the board
type Claim struct {
	ID            string          `json:"id"`
	Status        workflow.Status `json:"status"`
	PatientName   *string         `json:"patient_name"`
	Insurer       *string         `json:"insurer"`
	DenialDate    *string         `json:"denial_date"`
	ExtractedData map[string]any  `json:"extracted_data"`
	AppealLetter  string          `json:"appeal_letter"`
	PDFURL        string          `json:"pdf_url"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Draft holds the reviewed intake fields a new claim is created from
type Draft struct {
	PatientName   *string        `json:"patient_name"`
	Insurer       *string        `json:"insurer"`
	DenialDate    *string        `json:"denial_date"`
	ExtractedData map[string]any `json:"extracted_data"`
	AppealLetter  string         `json:"appeal_letter"`
	PDFURL        string         `json:"pdf_url"`
}

// New creates a submitted claim from a draft
func New(d Draft, now time.Time) *Claim {
	return &Claim{
		ID:            uuid.NewString(),
		Status:        workflow.Initial(),
		PatientName:   nonEmpty(d.PatientName),
		Insurer:       nonEmpty(d.Insurer),
		DenialDate:    nonEmpty(d.DenialDate),
		ExtractedData: copyData(d.ExtractedData),
		AppealLetter:  d.AppealLetter,
		PDFURL:        d.PDFURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a copy that shares no mutable state with c
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	out := *c
	out.PatientName = copyString(c.PatientName)
	out.Insurer = copyString(c.Insurer)
	out.DenialDate = copyString(c.DenialDate)
	out.ExtractedData = copyData(c.ExtractedData)
	return &out
}

// Display is the board card view of a claim
type Display struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	PatientName string `json:"patient_name"`
	Insurer     string `json:"insurer"`
	DenialDate  string `json:"denial_date"`
}

// Display renders the claim with placeholders for missing metadata
func (c *Claim) Display() Display {
	return Display{
		ID:          c.ID,
		Status:      c.Status.String(),
		PatientName: orPlaceholder(c.PatientName),
		Insurer:     orPlaceholder(c.Insurer),
		DenialDate:  orPlaceholder(c.DenialDate),
	}
}

// Patch is a partial edit of the user-editable fields. Nil fields are left alone.
type Patch struct {
	PatientName  *string `json:"patient_name,omitempty"`
	Insurer      *string `json:"insurer,omitempty"`
	DenialDate   *string `json:"denial_date,omitempty"`
	AppealLetter *string `json:"appeal_letter,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p Patch) IsEmpty() bool {
	return p.PatientName == nil && p.Insurer == nil && p.DenialDate == nil && p.AppealLetter == nil
}

// ApplyTo edits c in place. An empty string clears a metadata field.
func (p Patch) ApplyTo(c *Claim, now time.Time) error {
	if p.AppealLetter != nil && c.Status != workflow.StatusSubmitted {
		return ErrLetterLocked
	}
	if p.PatientName != nil {
		c.PatientName = nonEmpty(p.PatientName)
	}
	if p.Insurer != nil {
		c.Insurer = nonEmpty(p.Insurer)
	}
	if p.DenialDate != nil {
		c.DenialDate = nonEmpty(p.DenialDate)
	}
	if p.AppealLetter != nil {
		c.AppealLetter = *p.AppealLetter
	}
	c.UpdatedAt = now
	return nil
}

func orPlaceholder(s *string) string {
	if s == nil || *s == "" {
		return Placeholder
	}
	return *s
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return copyString(s)
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
