package scans

import "context"

// PackageAnalyzer port (stage 1: package metadata extraction)
type PackageAnalyzer interface {
	Analyze(ctx context.Context, path string) (*BasicInfo, error)
}

// HeuristicScanner port (stage 2: permission/string/packing heuristics)
type HeuristicScanner interface {
	Scan(ctx context.Context, path string, basic *BasicInfo) (*SecurityReport, error)
}

// BankingDetector port (stage 3: impersonation detection)
type BankingDetector interface {
	Detect(ctx context.Context, path string, basic *BasicInfo) (*BankingReport, error)
}

// ThreatIntel port (stage 4: hash/domain lookups, no file access).
// Ready reports whether the feed finished loading; submissions are rejected
// with ErrNotReady until it has.
type ThreatIntel interface {
	Ready() bool
	Check(ctx context.Context, basic *BasicInfo) (*ThreatReport, error)
}

// MLClassifier port (stage 5, optional): malware probability in [0,1].
type MLClassifier interface {
	Classify(ctx context.Context, path string, basic *BasicInfo) (float64, error)
}

// Janitor port: removes one uploaded artifact. Removing an already-absent
// file must succeed.
type Janitor interface {
	Remove(path string) error
}

// SampleVault port: archives a flagged artifact to object storage before it
// is deleted. Returns the stored object's URL.
type SampleVault interface {
	Archive(ctx context.Context, localPath, key string) (string, error)
}
