package services

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var plusDigitsSuffix = regexp.MustCompile(`\+\d+$`)

// SpamFilter is a heuristic signup guard: disposable domains and numbered
// plus-aliases ("user+42@") are treated as spam.
type SpamFilter struct {
	domains map[string]struct{}
}

// NewSpamFilter builds a filter from a domain block-list. Domains are matched
// case-insensitively.
func NewSpamFilter(domains ...string) *SpamFilter {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			set[d] = struct{}{}
		}
	}
	return &SpamFilter{domains: set}
}

// LoadSpamDomains reads a JSON array of domains.
func LoadSpamDomains(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spam filter: read %s: %w", path, err)
	}

	var domains []string
	if err := json.Unmarshal(data, &domains); err != nil {
		return nil, fmt.Errorf("spam filter: decode %s: %w", path, err)
	}
	return domains, nil
}

// Size returns the number of blocked domains.
func (f *SpamFilter) Size() int {
	return len(f.domains)
}

// IsSpamEmail reports whether email should be refused at signup. Addresses
// without exactly one "@" separating two non-empty parts are not spam.
func (f *SpamFilter) IsSpamEmail(email string) bool {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return false
	}

	if _, blocked := f.domains[strings.ToLower(domain)]; blocked {
		return true
	}
	return plusDigitsSuffix.MatchString(local)
}
