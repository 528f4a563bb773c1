package entities

// ComplianceStatus is the overall verdict of an audit
type ComplianceStatus string

const (
	ComplianceStatusPass    ComplianceStatus = "Pass"
	ComplianceStatusWarning ComplianceStatus = "Warning"
	ComplianceStatusFail    ComplianceStatus = "Fail"
)

// Severity grades a single finding
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Modality tags what kind of media was audited
type Modality string

const (
	ModalityVideo Modality = "video"
	ModalityImage Modality = "image"
)

// Valid reports whether m is a known modality
func (m Modality) Valid() bool {
	return m == ModalityVideo || m == ModalityImage
}

// Finding is one policy issue raised by an audit
type Finding struct {
	Category           string   `json:"category" validate:"required"`
	Issue              string   `json:"issue" validate:"required"`
	Severity           Severity `json:"severity" validate:"required,oneof=Low Medium High"`
	Recommendation     string   `json:"recommendation"`
	GuidelineReference string   `json:"guidelineReference"`
}

// GroundingSource is a web page that informed the audit
type GroundingSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// ComplianceReport is the validated result of a compliance audit.
// Findings is never nil once normalized.
type ComplianceReport struct {
	OverallStatus    ComplianceStatus  `json:"overallStatus" validate:"required,oneof=Pass Warning Fail"`
	RiskScore        int               `json:"riskScore" validate:"min=0,max=100"`
	Summary          string            `json:"summary"`
	Findings         []Finding         `json:"findings" validate:"required,dive"`
	IsEligibleForFYP bool              `json:"isEligibleForFYP"`
	Sources          []GroundingSource `json:"sources,omitempty"`
	Type             Modality          `json:"type"`
}
