package dns

import (
	"context"
	"net"
	"testing"

	"cnamed/pkg/rewrite"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockResponseWriter implements dns.ResponseWriter for testing
type mockResponseWriter struct {
	msg        *dns.Msg
	remoteAddr net.Addr
}

func (m *mockResponseWriter) LocalAddr() net.Addr  { return nil }
func (m *mockResponseWriter) RemoteAddr() net.Addr { return m.remoteAddr }
func (m *mockResponseWriter) WriteMsg(msg *dns.Msg) error {
	m.msg = msg
	return nil
}
func (m *mockResponseWriter) Write([]byte) (int, error) { return 0, nil }
func (m *mockResponseWriter) Close() error              { return nil }
func (m *mockResponseWriter) TsigStatus() error         { return nil }
func (m *mockResponseWriter) TsigTimersOnly(bool)       {}
func (m *mockResponseWriter) Hijack()                   {}

func newTestWriter() *mockResponseWriter {
	return &mockResponseWriter{
		remoteAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345},
	}
}

func newTestHandler(t *testing.T, entries ...rewrite.Replacement) *Handler {
	t.Helper()
	rules, err := rewrite.CompileRules(entries)
	require.NoError(t, err)
	return NewHandler(rewrite.NewEngine(rules))
}

func queryMsg(name string, qtype uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	return req
}

func TestServeDNSRewrite(t *testing.T) {
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^(.*)\.mnh.?$`, To: "{1}.lan."},
	)
	w := newTestWriter()

	handler.ServeDNS(context.Background(), w, queryMsg("alice.mnh.", dns.TypeA))

	require.NotNil(t, w.msg)
	assert.Equal(t, dns.RcodeSuccess, w.msg.Rcode)
	assert.True(t, w.msg.Authoritative)
	require.Len(t, w.msg.Answer, 1)

	cname, ok := w.msg.Answer[0].(*dns.CNAME)
	require.True(t, ok, "answer should be a CNAME")
	assert.Equal(t, "alice.mnh.", cname.Hdr.Name)
	assert.Equal(t, "alice.lan.", cname.Target)
	assert.Equal(t, uint32(defaultRewriteTTL), cname.Hdr.Ttl)
}

func TestServeDNSCatchAll(t *testing.T) {
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^.*$`, To: "bob.lan."},
	)

	for _, name := range []string{"bob.mnh.", "alice.mnh.", "charlie.pod."} {
		w := newTestWriter()
		handler.ServeDNS(context.Background(), w, queryMsg(name, dns.TypeA))

		require.NotNil(t, w.msg)
		require.Len(t, w.msg.Answer, 1, "expected answer for %s", name)
		cname := w.msg.Answer[0].(*dns.CNAME)
		assert.Equal(t, "bob.lan.", cname.Target)
	}
}

func TestServeDNSNoMatchIsNXDOMAIN(t *testing.T) {
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^(.*)\.mnh.?$`, To: "{1}.lan."},
	)
	w := newTestWriter()

	handler.ServeDNS(context.Background(), w, queryMsg("barry.net.", dns.TypeA))

	require.NotNil(t, w.msg)
	assert.Equal(t, dns.RcodeNameError, w.msg.Rcode)
	assert.Empty(t, w.msg.Answer)
}

func TestServeDNSTypeFiltering(t *testing.T) {
	// Name matches, but CSYNC is not an eligible type.
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^(.*)\.net.?$`, To: "dont.care."},
	)
	w := newTestWriter()

	handler.ServeDNS(context.Background(), w, queryMsg("barry.net.", dns.TypeCSYNC))

	require.NotNil(t, w.msg)
	assert.Equal(t, dns.RcodeNameError, w.msg.Rcode)
	assert.Empty(t, w.msg.Answer)
}

func TestServeDNSANYEligible(t *testing.T) {
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^(.*)\.mnh.?$`, To: "{1}.lan."},
	)
	w := newTestWriter()

	handler.ServeDNS(context.Background(), w, queryMsg("alice.mnh.", dns.TypeANY))

	require.NotNil(t, w.msg)
	assert.Equal(t, dns.RcodeSuccess, w.msg.Rcode)
	require.Len(t, w.msg.Answer, 1)
}

func TestServeDNSBadTemplateDegradesToNXDOMAIN(t *testing.T) {
	// The matched rule references a capture group the pattern lacks; the
	// query degrades to NXDOMAIN instead of crashing or trying the
	// catch-all below.
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^(.*)\.net.?$`, To: "{2}.lan."},
		rewrite.Replacement{From: `^.*$`, To: "fallback.lan."},
	)
	w := newTestWriter()

	handler.ServeDNS(context.Background(), w, queryMsg("barry.net.", dns.TypeA))

	require.NotNil(t, w.msg)
	assert.Equal(t, dns.RcodeNameError, w.msg.Rcode)
	assert.Empty(t, w.msg.Answer)
}

func TestServeDNSZeroQuestions(t *testing.T) {
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^.*$`, To: "bob.lan."},
	)
	w := newTestWriter()

	handler.ServeDNS(context.Background(), w, new(dns.Msg))

	require.NotNil(t, w.msg)
	assert.Equal(t, dns.RcodeNameError, w.msg.Rcode)
	assert.Empty(t, w.msg.Answer)
}

func TestServeDNSCaseInsensitive(t *testing.T) {
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^(.*)\.mnh.?$`, To: "{1}.lan."},
	)
	w := newTestWriter()

	handler.ServeDNS(context.Background(), w, queryMsg("ALICE.MNH.", dns.TypeA))

	require.NotNil(t, w.msg)
	require.Len(t, w.msg.Answer, 1)
	cname := w.msg.Answer[0].(*dns.CNAME)
	// The answer name mirrors the question as asked; the target comes
	// from the lowercased match.
	assert.Equal(t, "ALICE.MNH.", cname.Hdr.Name)
	assert.Equal(t, "alice.lan.", cname.Target)
}

func TestServeDNSCustomTTL(t *testing.T) {
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^.*$`, To: "bob.lan."},
	)
	handler.RewriteTTL = 60
	w := newTestWriter()

	handler.ServeDNS(context.Background(), w, queryMsg("alice.mnh.", dns.TypeA))

	require.NotNil(t, w.msg)
	require.Len(t, w.msg.Answer, 1)
	assert.Equal(t, uint32(60), w.msg.Answer[0].Header().Ttl)
}

func TestServeDNSResponseID(t *testing.T) {
	handler := newTestHandler(t,
		rewrite.Replacement{From: `^.*$`, To: "bob.lan."},
	)
	w := newTestWriter()

	req := queryMsg("alice.mnh.", dns.TypeA)
	req.Id = 4242
	handler.ServeDNS(context.Background(), w, req)

	require.NotNil(t, w.msg)
	assert.Equal(t, uint16(4242), w.msg.Id)
}

func TestDNSTypeLabel(t *testing.T) {
	assert.Equal(t, "A", dnsTypeLabel(dns.TypeA))
	assert.Equal(t, "AAAA", dnsTypeLabel(dns.TypeAAAA))
	assert.Equal(t, "TYPE65534", dnsTypeLabel(65534))
}
