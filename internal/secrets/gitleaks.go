package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksDetector wraps the gitleaks default rule set. Building it compiles
// several hundred patterns, so one instance is shared per Scrubber.
type gitleaksDetector struct {
	mu sync.Mutex
	d  *detect.Detector
}

func newGitleaksDetector() (*gitleaksDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}
	return &gitleaksDetector{d: d}, nil
}

// spans returns the location of every occurrence of each detected secret,
// keyed by "gitleaks:<rule id>".
func (g *gitleaksDetector) spans(content string) map[string][]span {
	g.mu.Lock()
	findings := g.d.DetectString(content)
	g.mu.Unlock()

	out := make(map[string][]span)
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		id := "gitleaks:" + f.RuleID
		for from := 0; ; {
			i := strings.Index(content[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			out[id] = append(out[id], span{start, start + len(f.Secret)})
			from = start + len(f.Secret)
		}
	}
	return out
}
