package scans

import (
	"time"

	"github.com/google/uuid"
)

// ID tipe untuk Scan
type ScanID string

// NewScanID generates a fresh correlation ID for one scan request.
// It is not a dedup key; two uploads of the same APK get different IDs.
func NewScanID() ScanID {
	return ScanID(uuid.New().String())
}

// RiskLevel enum, ordered minimal < low < medium < high < critical
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank returns an integer rank for comparison (minimal=0, critical=4).
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

func (l RiskLevel) String() string { return string(l) }

// BasicInfo is the stage-1 output: package metadata pulled from the artifact.
// Stages that must not touch the file again (threat intel) work from this.
type BasicInfo struct {
	PackageName   string   `json:"package_name,omitempty"`
	Debuggable    bool     `json:"debuggable"`
	AllowBackup   bool     `json:"allow_backup"`
	HasNativeCode bool     `json:"has_native_code"`
	EntryCount    int      `json:"entry_count"`
	SHA256        string   `json:"sha256"`
	Domains       []string `json:"domains,omitempty"`
}

// SecurityReport is the stage-2 output of the heuristic scanner.
type SecurityReport struct {
	MaliciousPermissions int  `json:"malicious_permissions"`
	SuspiciousStrings    int  `json:"suspicious_strings"`
	PackedExecutables    int  `json:"packed_executables"`
	Obfuscated           bool `json:"obfuscated"`
}

// BankingReport is the stage-3 output of the impersonation detector.
type BankingReport struct {
	ImitatesBankingApp   bool `json:"imitates_banking_app"`
	PhishingIndicators   bool `json:"phishing_indicators"`
	SuspiciousNetworking bool `json:"suspicious_networking"`
}

// ThreatReport is the stage-4 output of the threat intelligence lookup.
type ThreatReport struct {
	KnownMalware      bool `json:"known_malware"`
	SuspiciousDomains int  `json:"suspicious_domains"`
}

// MLReport is the stage-5 output. The stage is optional: when the classifier
// fails, Err carries the marker and Probability is ignored by scoring.
type MLReport struct {
	Probability float64 `json:"probability"`
	Err         string  `json:"error,omitempty"`
}

// Failed reports whether the classifier produced an error marker instead of
// a usable probability.
func (m *MLReport) Failed() bool { return m != nil && m.Err != "" }

// AnalysisRecord is the composite of per-stage sub-reports. Each sub-report
// is a pointer: nil means the stage did not run, and a nil sub-report
// contributes zero score rather than being an error.
type AnalysisRecord struct {
	Basic    *BasicInfo      `json:"basic,omitempty"`
	Security *SecurityReport `json:"security,omitempty"`
	Banking  *BankingReport  `json:"banking,omitempty"`
	Threats  *ThreatReport   `json:"threats,omitempty"`
	ML       *MLReport       `json:"ml,omitempty"`
}

// RiskAssessment is the verdict derived from one AnalysisRecord.
type RiskAssessment struct {
	Level           RiskLevel `json:"risk_level"`
	IsFake          bool      `json:"is_fake"`
	Confidence      int       `json:"confidence"`
	Threats         []string  `json:"threats"`
	Recommendations []string  `json:"recommendations"`
}

// Aggregate Root: ScanResult
type ScanResult struct {
	ScanID    ScanID         `json:"scan_id"`
	Filename  string         `json:"filename"`
	Timestamp time.Time      `json:"timestamp"`
	Analysis  AnalysisRecord `json:"analysis"`
	Risk      RiskAssessment `json:"risk"`
}
