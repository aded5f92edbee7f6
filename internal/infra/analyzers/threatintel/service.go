// Package threatintel answers known-malware and bad-domain lookups from a
// feed file loaded once at startup. Lookups use only stage-1 output, never
// the artifact itself.
package threatintel

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

// Feed is the on-disk format: SHA-256 hashes of known samples plus domains
// seen distributing or controlling them.
type Feed struct {
	Hashes  []string `yaml:"hashes"`
	Domains []string `yaml:"domains"`
}

type Service struct {
	mu      sync.RWMutex
	hashes  map[string]struct{}
	domains map[string]struct{}
	ready   atomic.Bool
}

// New starts loading the feed in the background. Until the load finishes
// Ready() is false and Check returns ErrNotReady; the health probe and the
// submit endpoint both key off that.
func New(feedPath string) *Service {
	s := &Service{
		hashes:  make(map[string]struct{}),
		domains: make(map[string]struct{}),
	}
	go s.load(feedPath)
	return s
}

func (s *Service) load(path string) {
	defer s.ready.Store(true)

	if path == "" {
		log.Printf("threatintel: no feed configured, lookups will match nothing")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("threatintel: feed read error path=%s err=%v", path, err)
		return
	}
	var feed Feed
	if err := yaml.Unmarshal(data, &feed); err != nil {
		log.Printf("threatintel: feed parse error path=%s err=%v", path, err)
		return
	}

	s.mu.Lock()
	for _, h := range feed.Hashes {
		s.hashes[strings.ToLower(h)] = struct{}{}
	}
	for _, d := range feed.Domains {
		s.domains[strings.ToLower(d)] = struct{}{}
	}
	s.mu.Unlock()

	log.Printf("threatintel: feed loaded hashes=%d domains=%d", len(feed.Hashes), len(feed.Domains))
}

func (s *Service) Ready() bool { return s.ready.Load() }

func (s *Service) Check(ctx context.Context, basic *domain.BasicInfo) (*domain.ThreatReport, error) {
	if !s.Ready() {
		return nil, domain.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &domain.ThreatReport{}
	if basic != nil {
		if _, ok := s.hashes[strings.ToLower(basic.SHA256)]; ok {
			report.KnownMalware = true
		}
		for _, d := range basic.Domains {
			if s.matchDomain(strings.ToLower(d)) {
				report.SuspiciousDomains++
			}
		}
	}
	return report, nil
}

// matchDomain matches exactly or by parent domain, so a feed entry
// "evil.example" also covers "cdn.evil.example".
func (s *Service) matchDomain(host string) bool {
	if _, ok := s.domains[host]; ok {
		return true
	}
	for {
		i := strings.Index(host, ".")
		if i < 0 {
			return false
		}
		host = host[i+1:]
		if _, ok := s.domains[host]; ok {
			return true
		}
	}
}
