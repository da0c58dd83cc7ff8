package extraction

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/garyjia/overturn/internal/application/port"
)

// DefaultLetterTemplate is the appeal letter drafted for every new claim
const DefaultLetterTemplate = `Dear Appeals Department,

We are writing to formally appeal the denial of coverage for {{.PatientName}}, Member ID {{.MemberID}}, for the service date {{.ServiceDate}}.

We believe this denial was made in error. The determination of "{{.DenialReason}}" does not align with the patient's documented condition and the requested treatment meets {{.Insurer}}'s clinical criteria when reviewed in full.

We request a full review of this case and reversal of the denial. Please contact us with any questions.`

// LetterData holds the values a letter template may use
type LetterData struct {
	PatientName  string
	MemberID     string
	ServiceDate  string
	Insurer      string
	DenialReason string
	ClaimID      string
	DenialCodes  []string
	CPTCodes     []string
}

// Phrases returns the filled-in values that appear in the letter, in the
// order they appear. Placeholders are left out.
func (d LetterData) Phrases() []string {
	var out []string
	for _, v := range []string{d.PatientName, d.MemberID, d.ServiceDate, d.DenialReason, d.Insurer} {
		if v != "" && !strings.HasPrefix(v, "[") {
			out = append(out, v)
		}
	}
	return append(out, "clinical criteria")
}

// NewLetterData maps an extraction onto letter values, using bracketed
// placeholders for anything missing
func NewLetterData(ext *port.Extraction) LetterData {
	var f port.ParsedFields
	if ext != nil {
		f = ext.ParsedFields
	}

	reason := f.DenialReasonText
	if reason == NoReasonFound {
		reason = ""
	}
	return LetterData{
		PatientName:  orPlaceholder(f.PatientName, "[Patient Name]"),
		MemberID:     orPlaceholder(Identifier(f, "member_id"), "[Member ID]"),
		ServiceDate:  orPlaceholder(Identifier(f, "service_date"), "[Date]"),
		Insurer:      orPlaceholder(Identifier(f, "insurer"), "[Insurer]"),
		DenialReason: orPlaceholder(reason, "[Denial Reason]"),
		ClaimID:      f.ClaimID,
		DenialCodes:  f.DenialCodes,
		CPTCodes:     f.CPTCodes,
	}
}

func orPlaceholder(v, placeholder string) string {
	if v = strings.TrimSpace(v); v == "" {
		return placeholder
	}
	return v
}

// TemplateLetterGenerator renders appeal letters from a text template
type TemplateLetterGenerator struct {
	tmpl *template.Template
}

// NewTemplateLetterGenerator parses text. An empty text uses DefaultLetterTemplate.
func NewTemplateLetterGenerator(text string) (*TemplateLetterGenerator, error) {
	if text == "" {
		text = DefaultLetterTemplate
	}
	tmpl, err := template.New("letter").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse letter template: %w", err)
	}
	return &TemplateLetterGenerator{tmpl: tmpl}, nil
}

// Generate renders the letter for ext
func (g *TemplateLetterGenerator) Generate(ctx context.Context, ext *port.Extraction) (string, error) {
	var sb strings.Builder
	if err := g.tmpl.Execute(&sb, NewLetterData(ext)); err != nil {
		return "", fmt.Errorf("render letter: %w", err)
	}
	return sb.String(), nil
}

var _ port.LetterGenerator = (*TemplateLetterGenerator)(nil)
