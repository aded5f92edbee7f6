// Package risk maps a composite analysis record to a verdict. Everything in
// here is pure: no I/O, no clock, no randomness, inputs are never mutated.
package risk

import (
	"fmt"
	"math"

	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

// Additive signal weights. The raw score is uncapped; only confidence is.
const (
	weightDebuggable      = 10
	weightAllowBackup     = 5
	weightNativeCode      = 5
	weightMaliciousPerm   = 15
	weightSuspiciousStr   = 10
	weightObfuscation     = 20
	weightPackedExe       = 25
	weightImpersonation   = 50
	weightPhishing        = 40
	weightSuspNetworking  = 30
	weightKnownMalware    = 100
	weightSuspDomain      = 20
	weightMLScale         = 50
	mlTriggerThreshold    = 0.7
	fakeThresholdHighBand = 60
)

// Threat strings, appended in fixed evaluation order.
const (
	threatImpersonation = "imitates a legitimate banking application"
	threatPhishing      = "contains phishing indicators"
	threatNetworking    = "suspicious network behavior detected"
	threatKnownMalware  = "matches a known malware signature"
	threatSuspDomains   = "contacts domains with bad reputation"
	threatMLDetection   = "machine learning model flags probable malware"
)

const (
	recDoNotInstall = "do not install this application"
	recReport       = "report this application to your bank and the authorities"
	recPermissions  = "review the requested permissions, several are commonly abused"
	recExfiltration = "application may exfiltrate personal data over the network"
)

// Evaluate derives the verdict for one analysis record. Absent sub-reports
// contribute zero score. Calling it twice on the same record yields the same
// assessment.
func Evaluate(rec domain.AnalysisRecord) domain.RiskAssessment {
	score := 0.0
	threats := []string{}

	if b := rec.Basic; b != nil {
		if b.Debuggable {
			score += weightDebuggable
		}
		if b.AllowBackup {
			score += weightAllowBackup
		}
		if b.HasNativeCode {
			score += weightNativeCode
		}
	}

	if s := rec.Security; s != nil {
		score += float64(weightMaliciousPerm * s.MaliciousPermissions)
		score += float64(weightSuspiciousStr * s.SuspiciousStrings)
		if s.Obfuscated {
			score += weightObfuscation
		}
		score += float64(weightPackedExe * s.PackedExecutables)
	}

	if bk := rec.Banking; bk != nil {
		if bk.ImitatesBankingApp {
			score += weightImpersonation
			threats = append(threats, threatImpersonation)
		}
		if bk.PhishingIndicators {
			score += weightPhishing
			threats = append(threats, threatPhishing)
		}
		if bk.SuspiciousNetworking {
			score += weightSuspNetworking
			threats = append(threats, threatNetworking)
		}
	}

	if t := rec.Threats; t != nil {
		if t.KnownMalware {
			score += weightKnownMalware
			threats = append(threats, threatKnownMalware)
		}
		if t.SuspiciousDomains > 0 {
			score += float64(weightSuspDomain * t.SuspiciousDomains)
			threats = append(threats, threatSuspDomains)
		}
	}

	if ml := rec.ML; ml != nil && !ml.Failed() && ml.Probability > mlTriggerThreshold {
		score += ml.Probability * weightMLScale
		threats = append(threats, threatMLDetection)
	}

	level, isFake, confidence := band(score)

	assessment := domain.RiskAssessment{
		Level:      level,
		IsFake:     isFake,
		Confidence: confidence,
		Threats:    threats,
	}
	assessment.Recommendations = recommendations(rec, isFake)
	return assessment
}

// band resolves the highest matching score band. The high band deliberately
// separates "elevated risk" (score 50-59, isFake=false) from "confirmed
// impersonation" (score >= 60).
func band(score float64) (domain.RiskLevel, bool, int) {
	var level domain.RiskLevel
	var isFake bool
	var conf float64

	switch {
	case score >= 80:
		level = domain.RiskCritical
		isFake = true
		conf = math.Min(95, 70+score*0.3)
	case score >= 50:
		level = domain.RiskHigh
		isFake = score >= fakeThresholdHighBand
		conf = math.Min(85, 60+score*0.4)
	case score >= 25:
		level = domain.RiskMedium
		conf = math.Min(75, 50+score*0.5)
	case score >= 10:
		level = domain.RiskLow
		conf = math.Min(65, 40+score*0.6)
	default:
		level = domain.RiskMinimal
		conf = math.Min(60, 30+score)
	}

	return level, isFake, int(math.Round(conf))
}

func recommendations(rec domain.AnalysisRecord, isFake bool) []string {
	recs := []string{}
	if isFake {
		recs = append(recs, recDoNotInstall, recReport)
	}
	if rec.Security != nil && rec.Security.MaliciousPermissions > 0 {
		recs = append(recs, recPermissions)
	}
	if rec.Banking != nil && rec.Banking.SuspiciousNetworking {
		recs = append(recs, recExfiltration)
	}
	return recs
}

// Summary renders the one-line human verdict.
func Summary(a domain.RiskAssessment) string {
	if a.IsFake {
		return fmt.Sprintf("DANGER: this application is likely a fake banking app (risk: %s, %d threat indicators)", a.Level, len(a.Threats))
	}
	return fmt.Sprintf("application is likely legitimate (risk: %s, %d threat indicators)", a.Level, len(a.Threats))
}
