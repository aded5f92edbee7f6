// Package banking flags APKs that pose as a known banking app: brand names
// in the package without the bank's real namespace, phishing copy, and
// credential-exfiltration style networking.
package banking

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/bryanwahyu/apkguard/internal/infra/analyzers/apkinfo"

	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

const maxEntryBytes = 4 << 20

// brand keyword -> package prefixes the real bank publishes under
var bankBrands = map[string][]string{
	"bca":        {"com.bca"},
	"mandiri":    {"com.bankmandiri", "id.co.bankmandiri"},
	"bni":        {"id.co.bni"},
	"bri":        {"id.co.bri"},
	"paypal":     {"com.paypal"},
	"chase":      {"com.chase"},
	"hsbc":       {"com.htsu"},
	"barclays":   {"com.barclays"},
	"citi":       {"com.citi"},
	"wellsfargo": {"com.wf.wellsfargomobile"},
	"santander":  {"es.bancosantander", "com.santander"},
}

var phishingPhrases = []string{
	"verify your account",
	"confirm your card number",
	"enter your pin",
	"one-time password",
	"account suspended",
	"update your banking details",
}

// Hosts used for throwaway C2 endpoints.
var dynamicDNSSuffixes = []string{
	".duckdns.org",
	".ngrok.io",
	".no-ip.org",
	".serveo.net",
	".ddns.net",
}

type Detector struct{}

func NewDetector() *Detector { return &Detector{} }

func (d *Detector) Detect(ctx context.Context, path string, basic *domain.BasicInfo) (*domain.BankingReport, error) {
	report := &domain.BankingReport{}

	if basic != nil {
		report.ImitatesBankingApp = imitatesBrand(basic.PackageName)
		report.SuspiciousNetworking = suspiciousDomains(basic.Domains)
	}

	phishing, plainHTTP, err := sweepArtifact(ctx, path)
	if err != nil {
		return nil, err
	}
	report.PhishingIndicators = phishing
	if plainHTTP {
		report.SuspiciousNetworking = true
	}

	return report, nil
}

// imitatesBrand: a brand keyword inside a package name that is not under the
// bank's own namespace is the core fake-app signal.
func imitatesBrand(pkg string) bool {
	pkg = strings.ToLower(pkg)
	if pkg == "" {
		return false
	}
	for brand, prefixes := range bankBrands {
		if !strings.Contains(pkg, brand) {
			continue
		}
		official := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(pkg, prefix) {
				official = true
				break
			}
		}
		if !official {
			return true
		}
	}
	return false
}

func suspiciousDomains(domains []string) bool {
	for _, h := range domains {
		if net.ParseIP(h) != nil {
			return true
		}
		for _, suffix := range dynamicDNSSuffixes {
			if strings.HasSuffix(h, suffix) {
				return true
			}
		}
	}
	return false
}

func sweepArtifact(ctx context.Context, path string) (phishing, plainHTTP bool, err error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false, false, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return false, false, err
		}
		if f.Name != "AndroidManifest.xml" && !apkinfo.TextLike(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes))
		rc.Close()
		if err != nil {
			continue
		}

		text := strings.ToLower(string(data))
		if f.Name == "AndroidManifest.xml" {
			text += "\n" + strings.ToLower(strings.Join(apkinfo.UTF16Strings(data), "\n"))
		}
		for _, phrase := range phishingPhrases {
			if strings.Contains(text, phrase) {
				phishing = true
				break
			}
		}
		if strings.Contains(text, "http://") {
			plainHTTP = true
		}
		if phishing && plainHTTP {
			return phishing, plainHTTP, nil
		}
	}
	return phishing, plainHTTP, nil
}
