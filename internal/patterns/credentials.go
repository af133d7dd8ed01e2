package patterns

import (
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

type credentialHit struct {
	rule   string
	secret string
}

type credentialScanner interface {
	scan(text string) []credentialHit
}

// gitleaksScanner runs the gitleaks default rule set over a string.
type gitleaksScanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func (g *gitleaksScanner) scan(text string) []credentialHit {
	g.mu.Lock()
	findings := g.detector.DetectString(text)
	g.mu.Unlock()

	hits := make([]credentialHit, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		hits = append(hits, credentialHit{rule: f.RuleID, secret: f.Secret})
	}
	return hits
}

var (
	credentialOnce    sync.Once
	credentialDefault *gitleaksScanner
	credentialErr     error
)

// defaultCredentialScanner builds the gitleaks detector once per process;
// compiling its rule set is far more expensive than a pattern table.
func defaultCredentialScanner() (credentialScanner, error) {
	credentialOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			credentialErr = err
			return
		}
		credentialDefault = &gitleaksScanner{detector: d}
	})
	if credentialErr != nil {
		return nil, credentialErr
	}
	return credentialDefault, nil
}
