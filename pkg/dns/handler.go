// Package dns is the wire-protocol glue around the rewrite engine: UDP/TCP
// listeners, message encoding and per-query observability. All decision
// logic lives in pkg/rewrite; this package only translates between
// dns.Msg and rewrite.Decision.
package dns

import (
	"context"
	"strconv"
	"strings"
	"time"

	"cnamed/pkg/logging"
	"cnamed/pkg/rewrite"
	"cnamed/pkg/storage"
	"cnamed/pkg/telemetry"

	"github.com/miekg/dns"
)

// Handler answers DNS queries from the rewrite engine's decisions.
type Handler struct {
	Engine      *rewrite.Engine
	QueryLogger *QueryLogger
	Metrics     *telemetry.Metrics
	Logger      *logging.Logger
	RewriteTTL  uint32
}

// NewHandler creates a handler around a compiled rewrite engine.
func NewHandler(engine *rewrite.Engine) *Handler {
	return &Handler{
		Engine:     engine,
		RewriteTTL: defaultRewriteTTL,
	}
}

// SetQueryLogger wires the async query logger.
func (h *Handler) SetQueryLogger(ql *QueryLogger) {
	h.QueryLogger = ql
}

// SetMetrics sets the metrics collector.
func (h *Handler) SetMetrics(m *telemetry.Metrics) {
	h.Metrics = m
}

// SetLogger sets the logger.
func (h *Handler) SetLogger(l *logging.Logger) {
	h.Logger = l
}

// writeMsg writes a DNS message to the response writer. A failed write
// means the client went away; there is nothing useful left to do with the
// error.
func (h *Handler) writeMsg(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		_ = err
	}
}

// ServeDNS resolves one query. Eligible queries (A/AAAA/ANY) that match a
// rule get a CNAME answer; everything else, including queries whose matched
// rule has a broken template, gets NXDOMAIN. The engine call is pure and
// lock-free, so any number of these run concurrently against the shared
// rule set.
func (h *Handler) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) {
	startTime := time.Now()
	clientIP := getClientIP(w)

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	HandleEDNS0(r, msg)

	var name string
	var qtype uint16
	if len(r.Question) > 0 {
		question := r.Question[0]
		name = question.Name
		qtype = question.Qtype
	}

	decision, err := h.Engine.Decide(name, qtype)
	if err != nil {
		// A matched rule referenced a capture group its pattern does not
		// have. The client just sees NXDOMAIN; the config bug surfaces
		// here and in the template error counter.
		if h.Logger != nil {
			h.Logger.Error("Template substitution failed",
				"domain", name,
				"type", dnsTypeLabel(qtype),
				"error", err,
			)
		}
		if h.Metrics != nil {
			h.Metrics.TemplateErrors.Add(ctx, 1)
		}
	}

	responseCode := dns.RcodeNameError
	if decision.Matched {
		appendCNAME(msg, name, decision.Target, h.RewriteTTL)
		responseCode = dns.RcodeSuccess
	} else {
		msg.SetRcode(r, dns.RcodeNameError)
	}

	if h.Metrics != nil {
		if decision.Matched {
			h.Metrics.Rewritten.Add(ctx, 1)
		} else {
			h.Metrics.NXDomain.Add(ctx, 1)
		}
	}

	h.writeMsg(w, msg)
	h.logQuery(startTime, clientIP, name, qtype, decision, responseCode)
}

// logQuery hands the answered query to the async logger, if one is wired.
func (h *Handler) logQuery(startTime time.Time, clientIP, name string, qtype uint16, decision rewrite.Decision, responseCode int) {
	if h.QueryLogger == nil {
		return
	}

	entry := &storage.QueryLog{
		Timestamp:      startTime,
		ClientIP:       clientIP,
		Domain:         strings.TrimSuffix(name, "."),
		QueryType:      dnsTypeLabel(qtype),
		Target:         decision.Target,
		ResponseCode:   responseCode,
		Rewritten:      decision.Matched,
		ResponseTimeMs: time.Since(startTime).Seconds() * 1000,
	}

	// Buffer-full drops are counted inside the logger; the request path
	// never blocks on persistence.
	_ = h.QueryLogger.LogAsync(entry)
}

// dnsTypeLabel returns a readable label for the query type, falling back to
// TYPE#### per RFC 3597 for unknown types.
func dnsTypeLabel(qtype uint16) string {
	if label := dns.TypeToString[qtype]; label != "" {
		return label
	}
	return "TYPE" + strconv.FormatUint(uint64(qtype), 10)
}
