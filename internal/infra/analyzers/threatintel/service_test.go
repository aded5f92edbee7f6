package threatintel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

const testFeed = `
hashes:
  - DEADBEEFDEADBEEFDEADBEEFDEADBEEFDEADBEEFDEADBEEFDEADBEEFDEADBEEF
domains:
  - evil.example
  - c2.badbank.net
`

func newReadyService(t *testing.T, feed string) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o644))

	s := New(path)
	require.Eventually(t, s.Ready, time.Second, 5*time.Millisecond)
	return s
}

func TestCheckKnownMalwareHash(t *testing.T) {
	s := newReadyService(t, testFeed)

	report, err := s.Check(context.Background(), &domain.BasicInfo{
		SHA256: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	})
	require.NoError(t, err)
	assert.True(t, report.KnownMalware)
}

func TestCheckCountsSuspiciousDomains(t *testing.T) {
	s := newReadyService(t, testFeed)

	report, err := s.Check(context.Background(), &domain.BasicInfo{
		SHA256:  "0000",
		Domains: []string{"evil.example", "cdn.evil.example", "api.github.com", "c2.badbank.net"},
	})
	require.NoError(t, err)

	assert.False(t, report.KnownMalware)
	assert.Equal(t, 3, report.SuspiciousDomains)
}

func TestCheckBeforeReady(t *testing.T) {
	s := &Service{hashes: map[string]struct{}{}, domains: map[string]struct{}{}}

	_, err := s.Check(context.Background(), &domain.BasicInfo{})
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestMissingFeedStillBecomesReady(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Eventually(t, s.Ready, time.Second, 5*time.Millisecond)

	report, err := s.Check(context.Background(), &domain.BasicInfo{
		SHA256:  "deadbeef",
		Domains: []string{"evil.example"},
	})
	require.NoError(t, err)
	assert.False(t, report.KnownMalware)
	assert.Zero(t, report.SuspiciousDomains)
}
