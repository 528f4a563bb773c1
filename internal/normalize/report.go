package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
)

const opReport = "normalize.report"

var validate = validator.New()

// StripCodeFence removes markdown fence markers the provider sometimes wraps JSON in
func StripCodeFence(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// ComplianceReport normalizes an audit response into a validated report.
// Any shape or value violation fails the whole report.
func ComplianceReport(resp *genai.GenerateContentResponse, modality entities.Modality) (*entities.ComplianceReport, error) {
	if !modality.Valid() {
		return nil, domain.Errorf(domain.KindInvalidInput, opReport, "unknown modality %q", modality)
	}

	report, err := ParseComplianceReport(ResponseText(resp))
	if err != nil {
		return nil, err
	}

	report.Type = modality
	report.Sources = GroundingSources(resp)
	return report, nil
}

// ParseComplianceReport parses report JSON, with or without code fences
func ParseComplianceReport(text string) (*entities.ComplianceReport, error) {
	raw := StripCodeFence(text)
	if raw == "" {
		return nil, domain.Errorf(domain.KindMalformedReportPayload, opReport, "empty report body")
	}
	if !gjson.Valid(raw) {
		return nil, domain.Errorf(domain.KindMalformedReportPayload, opReport, "report body is not valid JSON")
	}

	doc := gjson.Parse(raw)
	if err := checkReportShape(doc); err != nil {
		return nil, domain.E(domain.KindMalformedReportPayload, opReport, err)
	}

	var report entities.ComplianceReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, domain.E(domain.KindMalformedReportPayload, opReport, fmt.Errorf("failed to decode report: %w", err))
	}
	if err := validate.Struct(&report); err != nil {
		return nil, domain.E(domain.KindMalformedReportPayload, opReport, err)
	}

	// the provider never owns these
	report.Sources = nil
	report.Type = ""
	return &report, nil
}

func checkReportShape(doc gjson.Result) error {
	if !doc.IsObject() {
		return fmt.Errorf("report must be a JSON object")
	}

	if err := requireType(doc, "overallStatus", gjson.String); err != nil {
		return err
	}
	if err := requireType(doc, "summary", gjson.String); err != nil {
		return err
	}

	score := doc.Get("riskScore")
	if score.Type != gjson.Number {
		return fmt.Errorf("riskScore must be a number")
	}
	if score.Num != math.Trunc(score.Num) {
		return fmt.Errorf("riskScore must be an integer, got %s", score.Raw)
	}
	if score.Num < 0 || score.Num > 100 {
		return fmt.Errorf("riskScore must be within [0,100], got %s", score.Raw)
	}

	fyp := doc.Get("isEligibleForFYP")
	if fyp.Type != gjson.True && fyp.Type != gjson.False {
		return fmt.Errorf("isEligibleForFYP must be a boolean")
	}

	findings := doc.Get("findings")
	if !findings.IsArray() {
		return fmt.Errorf("findings must be an array")
	}

	var err error
	findings.ForEach(func(key, finding gjson.Result) bool {
		if !finding.IsObject() {
			err = fmt.Errorf("findings[%d] must be an object", key.Int())
			return false
		}
		for _, field := range []string{"category", "issue", "severity"} {
			if e := requireType(finding, field, gjson.String); e != nil {
				err = fmt.Errorf("findings[%d]: %w", key.Int(), e)
				return false
			}
		}
		for _, field := range []string{"recommendation", "guidelineReference"} {
			if v := finding.Get(field); v.Exists() && v.Type != gjson.String && v.Type != gjson.Null {
				err = fmt.Errorf("findings[%d]: %s must be a string", key.Int(), field)
				return false
			}
		}
		return true
	})
	return err
}

func requireType(doc gjson.Result, field string, t gjson.Type) error {
	v := doc.Get(field)
	if !v.Exists() {
		return fmt.Errorf("%s is required", field)
	}
	if v.Type != t {
		return fmt.Errorf("%s must be a %s", field, strings.ToLower(t.String()))
	}
	return nil
}

// GroundingSources keeps the web citations of the first candidate, in order
func GroundingSources(resp *genai.GenerateContentResponse) []entities.GroundingSource {
	candidate := firstCandidate(resp)
	if candidate == nil || candidate.GroundingMetadata == nil {
		return nil
	}

	var sources []entities.GroundingSource
	for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		sources = append(sources, entities.GroundingSource{
			Title: chunk.Web.Title,
			URI:   chunk.Web.URI,
		})
	}
	return sources
}
