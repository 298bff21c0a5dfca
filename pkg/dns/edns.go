package dns

import (
	"github.com/miekg/dns"
)

// EDNS0 buffer size bounds (RFC 6891). 4096 is the customary safe default;
// anything below 512 is clamped up to the protocol minimum.
const (
	DefaultEDNSBufferSize = 4096
	MaxEDNSBufferSize     = 4096
	MinEDNSBufferSize     = 512
)

// EDNSInfo holds EDNS0 information extracted from a request.
type EDNSInfo struct {
	Present    bool
	Version    uint8
	BufferSize uint16
	DO         bool
}

// GetEDNSInfo extracts EDNS0 information from a request.
func GetEDNSInfo(req *dns.Msg) *EDNSInfo {
	info := &EDNSInfo{}
	if req == nil {
		return info
	}
	if opt := req.IsEdns0(); opt != nil {
		info.Present = true
		info.Version = opt.Version()
		info.BufferSize = opt.UDPSize()
		info.DO = opt.Do()
	}
	return info
}

// SetEDNS0 mirrors the request's EDNS0 OPT record onto the response,
// negotiating the buffer size and preserving the DO bit. Responses to
// non-EDNS requests are left untouched.
func SetEDNS0(resp *dns.Msg, reqInfo *EDNSInfo) {
	if resp == nil || reqInfo == nil || !reqInfo.Present {
		return
	}
	if resp.IsEdns0() != nil {
		return
	}

	// The OPT Class field carries the UDP payload size; SetUDPSize owns it.
	opt := &dns.OPT{
		Hdr: dns.RR_Header{
			Name:   ".",
			Rrtype: dns.TypeOPT,
		},
	}
	opt.SetUDPSize(negotiateBufferSize(reqInfo.BufferSize))
	if reqInfo.DO {
		opt.SetDo()
	}

	resp.Extra = append(resp.Extra, opt)
}

// negotiateBufferSize clamps the requested UDP payload size into our bounds.
func negotiateBufferSize(requested uint16) uint16 {
	switch {
	case requested == 0:
		return DefaultEDNSBufferSize
	case requested < MinEDNSBufferSize:
		return MinEDNSBufferSize
	case requested > MaxEDNSBufferSize:
		return MaxEDNSBufferSize
	}
	return requested
}

// HandleEDNS0 extracts EDNS info from the request and applies it to the
// response.
func HandleEDNS0(req *dns.Msg, resp *dns.Msg) {
	SetEDNS0(resp, GetEDNSInfo(req))
}
