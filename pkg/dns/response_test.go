package dns

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendCNAME(t *testing.T) {
	msg := new(dns.Msg)
	appendCNAME(msg, "alice.mnh.", "alice.lan.", 300)

	require.Len(t, msg.Answer, 1)
	cname := msg.Answer[0].(*dns.CNAME)
	assert.Equal(t, "alice.mnh.", cname.Hdr.Name)
	assert.Equal(t, dns.TypeCNAME, cname.Hdr.Rrtype)
	assert.Equal(t, uint16(dns.ClassINET), cname.Hdr.Class)
	assert.Equal(t, uint32(300), cname.Hdr.Ttl)
	assert.Equal(t, "alice.lan.", cname.Target)
}

func TestAppendCNAMENormalizesTarget(t *testing.T) {
	// Targets from templates may come out without the trailing dot.
	msg := new(dns.Msg)
	appendCNAME(msg, "alice.mnh.", "alice.lan", 300)

	require.Len(t, msg.Answer, 1)
	assert.Equal(t, "alice.lan.", msg.Answer[0].(*dns.CNAME).Target)
}
