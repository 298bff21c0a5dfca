package dns

import (
	"github.com/miekg/dns"
)

// defaultRewriteTTL is the TTL on synthesized CNAME answers when the
// configuration does not override it.
const defaultRewriteTTL = 300

// appendCNAME appends a CNAME answer redirecting domain to target.
func appendCNAME(msg *dns.Msg, domain, target string, ttl uint32) {
	rr := &dns.CNAME{
		Hdr: dns.RR_Header{
			Name:   domain,
			Rrtype: dns.TypeCNAME,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Target: dns.Fqdn(target),
	}
	msg.Answer = append(msg.Answer, rr)
}
