// Package extract_result holds the immutable output record of an extraction
// and its derived convenience views.
package extract_result

import (
	"strings"

	"github.com/Motmedel/tldextract_go/pkg/netloc"
)

// Result is a hostname split into its non-overlapping parts. Suffix is empty
// when no suffix rule matched. RegistrySuffix is never a private-section
// match; it differs from Suffix only when IsPrivate is true, in which case
// it is a label-wise suffix of Suffix.
type Result struct {
	Subdomain      string `json:"subdomain,omitempty"`
	Domain         string `json:"domain,omitempty"`
	Suffix         string `json:"suffix,omitempty"`
	IsPrivate      bool   `json:"is_private,omitempty"`
	RegistrySuffix string `json:"registry_suffix,omitempty"`
}

// TopDomainUnderPublicSuffix joins the domain and public suffix with a dot
// when both are set.
func (result Result) TopDomainUnderPublicSuffix() string {
	if result.Domain != "" && result.Suffix != "" {
		return result.Domain + "." + result.Suffix
	}
	return ""
}

// TopDomainUnderRegistrySuffix is the highest domain directly under the
// registry suffix; for a private-domain match that is the private entry
// itself (e.g. blogspot.com under com).
func (result Result) TopDomainUnderRegistrySuffix() string {
	topDomainUnderPublicSuffix := result.TopDomainUnderPublicSuffix()
	if topDomainUnderPublicSuffix == "" || !result.IsPrivate {
		return topDomainUnderPublicSuffix
	}

	numLabels := strings.Count(result.RegistrySuffix, ".") + 2
	labels := strings.Split(topDomainUnderPublicSuffix, ".")
	if len(labels) < numLabels {
		return topDomainUnderPublicSuffix
	}

	return strings.Join(labels[len(labels)-numLabels:], ".")
}

// Fqdn returns the fully qualified domain name when there is a proper
// domain and suffix, and an empty string otherwise.
func (result Result) Fqdn() string {
	if result.Domain == "" || result.Suffix == "" {
		return ""
	}

	parts := make([]string, 0, 3)
	for _, part := range []string{result.Subdomain, result.Domain, result.Suffix} {
		if part != "" {
			parts = append(parts, part)
		}
	}

	return strings.Join(parts, ".")
}

// Ipv4 returns the host when the whole of it was an IPv4 literal.
func (result Result) Ipv4() string {
	if result.Suffix == "" && result.Subdomain == "" && netloc.LooksLikeIpv4(result.Domain) {
		return result.Domain
	}
	return ""
}

// Ipv6 returns the debracketed host when the whole of it was a bracketed
// IPv6 literal.
func (result Result) Ipv6() string {
	const minNumIpv6Chars = 4

	domain := result.Domain
	if len(domain) < minNumIpv6Chars || domain[0] != '[' || domain[len(domain)-1] != ']' {
		return ""
	}
	if result.Suffix != "" || result.Subdomain != "" {
		return ""
	}

	debracketed := domain[1 : len(domain)-1]
	if !netloc.LooksLikeIpv6(debracketed) {
		return ""
	}

	return debracketed
}

// ReverseDomainName returns the name in Reverse Domain Name Notation, e.g.
// "uk.co.bbc.forums" for "forums.bbc.co.uk".
func (result Result) ReverseDomainName() string {
	var stack []string

	if result.Suffix != "" {
		suffixLabels := strings.Split(result.Suffix, ".")
		for i := len(suffixLabels) - 1; i >= 0; i-- {
			stack = append(stack, suffixLabels[i])
		}
	}
	if result.Domain != "" {
		stack = append(stack, result.Domain)
	}
	if result.Subdomain != "" {
		subdomainLabels := strings.Split(result.Subdomain, ".")
		for i := len(subdomainLabels) - 1; i >= 0; i-- {
			stack = append(stack, subdomainLabels[i])
		}
	}

	return strings.Join(stack, ".")
}
