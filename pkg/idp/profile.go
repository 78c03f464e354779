package idp

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const profileCommandTimeout = 5 * time.Second

var (
	profileAttrPattern = regexp.MustCompile(`attribute: profileIdentifier: ([^\n]*mail[^\n]*)`)
	mailSuffixPattern  = regexp.MustCompile(`mail\.(.+)`)
)

// ProfileDiscoverer scrapes the enrollment profile identifier from the host
// platform's profiles tool, used by the auto-auth agent to seed the email
// domain.
type ProfileDiscoverer struct {
	defaultDomain string
	run           func(ctx context.Context) ([]byte, error)
}

// NewProfileDiscoverer returns a discoverer that falls back to
// "default.<defaultDomain>" when the profiles tool is unavailable.
func NewProfileDiscoverer(defaultDomain string) *ProfileDiscoverer {
	if defaultDomain == "" {
		defaultDomain = "example.com"
	}
	return &ProfileDiscoverer{
		defaultDomain: defaultDomain,
		run: func(ctx context.Context) ([]byte, error) {
			cmd := exec.CommandContext(ctx, "sh", "-c",
				`profiles show -user $(whoami) | grep "profileIdentifier"`)
			return cmd.Output()
		},
	}
}

// Discover runs the profiles tool and extracts the mail profile identifier,
// stripping everything up to and including the "mail." prefix. A failing or
// missing tool yields the default-domain fallback; raw output is returned
// for diagnostics.
func (d *ProfileDiscoverer) Discover(ctx context.Context) (identifier, raw string) {
	ctx, cancel := context.WithTimeout(ctx, profileCommandTimeout)
	defer cancel()

	out, err := d.run(ctx)
	if err != nil {
		return "default." + d.defaultDomain, ""
	}
	raw = string(out)

	m := profileAttrPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", raw
	}
	identifier = m[1]
	if strings.Contains(identifier, "mail.") {
		if sub := mailSuffixPattern.FindStringSubmatch(identifier); sub != nil {
			identifier = sub[1]
		}
	}
	return identifier, raw
}
