package extraction

import (
	"context"
	"regexp"
	"strings"

	"github.com/garyjia/overturn/internal/application/port"
)

// Parsing sources reported with an extraction
const (
	SourceLLM   = "llm"
	SourceRegex = "regex"
)

// NoReasonFound is reported when no denial reason could be located
const NoReasonFound = "Reason not clearly found in document."

// Keys of ParsedFields.ExtractionNotes
const (
	NoteClaimID        = "claim_id_found"
	NotePatientName    = "patient_name_found"
	NotePatientAddress = "patient_address_found"
	NoteIdentifiers    = "identifiers_found"
	NoteDenialCodes    = "denial_codes_found"
	NoteCPTCodes       = "cpt_codes_found"
	NoteDenialReason   = "denial_reason_found"
)

var (
	claimIDPattern  = regexp.MustCompile(`(?i)claim\s*(?:id|number|no\.?|#)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{3,})`)
	patientPattern  = regexp.MustCompile(`(?im)^\s*(?:patient|member)(?:\s+name)?\s*:\s*([^\n]+?)\s*$`)
	addressPattern  = regexp.MustCompile(`(?im)^\s*(?:patient\s+)?address\s*:\s*([^\n]+?)\s*$`)
	reasonPattern   = regexp.MustCompile(`(?im)^\s*(?:reason\s+for\s+denial|denial\s+reason|reason)\s*:\s*([^\n]+?)\s*$`)
	carcPattern     = regexp.MustCompile(`\b(?:CO|PR|OA|PI|CR)-?\d{1,3}\b`)
	rarcPattern     = regexp.MustCompile(`\b(?:N|M|MA)\d{1,3}\b`)
	cptLinePattern  = regexp.MustCompile(`(?i)\b(?:CPT|HCPCS|procedure)(?:\s+codes?)?\s*[:#]?\s*([^\n]+)`)
	cptCodePattern  = regexp.MustCompile(`\b(\d{4}[0-9FTU]|[A-V]\d{4})\b`)
	policyPattern   = regexp.MustCompile(`\b(?i:(?:medical\s+)?(?:policy|bulletin|guideline)\s+(?:no\.?\s*|number\s*|#\s*)?)[A-Z0-9.-]*\d[A-Z0-9.-]*`)
	identifierRules = []struct {
		label   string
		pattern *regexp.Regexp
	}{
		{"member_id", regexp.MustCompile(`(?i)member\s*(?:id|#|number)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{3,})`)},
		{"group_number", regexp.MustCompile(`(?i)group\s*(?:id|#|number|no\.?)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{2,})`)},
		{"service_date", regexp.MustCompile(`(?i)\b(?:date\s+of\s+service|service\s+date|dos)\b\s*[:#]?\s*([0-9]{1,2}/[0-9]{1,2}/[0-9]{2,4}|[0-9]{4}-[0-9]{2}-[0-9]{2}|[A-Z][a-z]+ [0-9]{1,2}, [0-9]{4})`)},
		{"insurer", regexp.MustCompile(`(?im)^\s*(?:insurer|payer|health\s+plan)\s*:\s*([^\n]+?)\s*$`)},
		{"npi", regexp.MustCompile(`(?i)\bNPI\s*[:#]?\s*(\d{10})\b`)},
	}
)

// RegexExtractor pulls fields out of denial text with fixed patterns
type RegexExtractor struct{}

// NewRegexExtractor creates a RegexExtractor
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// Extract parses text. It never fails; missing fields are recorded in the notes.
func (e *RegexExtractor) Extract(ctx context.Context, text string) (*port.Extraction, error) {
	f := port.ParsedFields{
		ClaimID:          firstGroup(claimIDPattern, text),
		PatientName:      firstGroup(patientPattern, text),
		PatientAddress:   firstGroup(addressPattern, text),
		DenialReasonText: firstGroup(reasonPattern, text),
		Identifiers:      []port.Identifier{},
		DenialCodes:      uniqueMatches(carcPattern, text),
		PolicyReferences: []string{},
	}
	f.DenialCodes = append(f.DenialCodes, uniqueMatches(rarcPattern, text)...)
	f.CPTCodes = cptCodes(text)

	for _, rule := range identifierRules {
		if v := firstGroup(rule.pattern, text); v != "" {
			f.Identifiers = append(f.Identifiers, port.Identifier{Label: rule.label, Value: v})
		}
	}
	for _, ref := range uniqueMatches(policyPattern, text) {
		f.PolicyReferences = append(f.PolicyReferences, strings.TrimRight(ref, ".-"))
	}

	f.ExtractionNotes = map[string]bool{
		NoteClaimID:        f.ClaimID != "",
		NotePatientName:    f.PatientName != "",
		NotePatientAddress: f.PatientAddress != "",
		NoteIdentifiers:    len(f.Identifiers) > 0,
		NoteDenialCodes:    len(f.DenialCodes) > 0,
		NoteCPTCodes:       len(f.CPTCodes) > 0,
		NoteDenialReason:   f.DenialReasonText != "",
	}
	if f.PatientAddress == "" {
		f.PatientAddress = "UNKNOWN"
	}
	if f.DenialReasonText == "" {
		f.DenialReasonText = NoReasonFound
	}

	return &port.Extraction{ParsedFields: f, ParsingSource: SourceRegex}, nil
}

func firstGroup(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func uniqueMatches(re *regexp.Regexp, text string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, m := range re.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// cptCodes collects codes only from lines that name them, so that ZIP codes
// and amounts elsewhere are not mistaken for procedures
func cptCodes(text string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, line := range cptLinePattern.FindAllStringSubmatch(text, -1) {
		for _, m := range cptCodePattern.FindAllStringSubmatch(line[1], -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				out = append(out, m[1])
			}
		}
	}
	return out
}

// Identifier returns the value of the first identifier with label
func Identifier(f port.ParsedFields, label string) string {
	for _, id := range f.Identifiers {
		if id.Label == label {
			return id.Value
		}
	}
	return ""
}

var _ port.Extractor = (*RegexExtractor)(nil)
