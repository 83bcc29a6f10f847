package credential

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"strings"

	"github.com/vyrodovalexey/localrest/internal/util"
)

// SANType is the kind of a subject alternative name entry.
type SANType int

const (
	// SANTypeIP is an IP address entry.
	SANTypeIP SANType = iota + 1
	// SANTypeDNS is a DNS name entry.
	SANTypeDNS
)

// String returns the SAN type name.
func (t SANType) String() string {
	switch t {
	case SANTypeIP:
		return "IP"
	case SANTypeDNS:
		return "DNS"
	default:
		return fmt.Sprintf("SANType(%d)", int(t))
	}
}

// SANEntry is one subject alternative name.
type SANEntry struct {
	Type  SANType
	Value string
}

// String renders the entry as "IP:127.0.0.1" or "DNS:foo.local".
func (e SANEntry) String() string {
	return e.Type.String() + ":" + e.Value
}

// LoopbackAddress is always present in the SAN list of a generated identity.
const LoopbackAddress = "127.0.0.1"

var oidExtensionSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// GeneralName tags from RFC 5280 section 4.2.1.6.
const (
	generalNameDNS = 2
	generalNameIP  = 7
)

// BuildSubjectAltNames assembles the SAN list: bindingHost as an IP entry
// unless it is the unspecified address, the loopback address when it
// differs, then one DNS entry per non-blank line of extra.
func BuildSubjectAltNames(bindingHost, extra string) ([]SANEntry, error) {
	host := strings.TrimSpace(bindingHost)
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("%w: binding host %q is not an IP address", util.ErrConfigInvalid, bindingHost)
	}

	var entries []SANEntry
	seen := make(map[SANEntry]struct{})
	add := func(e SANEntry) {
		if _, ok := seen[e]; ok {
			return
		}
		seen[e] = struct{}{}
		entries = append(entries, e)
	}

	if !ip.IsUnspecified() {
		add(SANEntry{Type: SANTypeIP, Value: ip.String()})
	}
	if !ip.Equal(net.ParseIP(LoopbackAddress)) {
		add(SANEntry{Type: SANTypeIP, Value: LoopbackAddress})
	}

	for _, line := range strings.Split(extra, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		add(SANEntry{Type: SANTypeDNS, Value: name})
	}

	return entries, nil
}

// encodeSubjectAltNames builds the subjectAltName extension.
func encodeSubjectAltNames(entries []SANEntry) (pkix.Extension, error) {
	names := make([]asn1.RawValue, 0, len(entries))
	for _, e := range entries {
		switch e.Type {
		case SANTypeIP:
			ip := net.ParseIP(e.Value)
			if ip == nil {
				return pkix.Extension{}, fmt.Errorf("invalid IP SAN %q", e.Value)
			}
			if v4 := ip.To4(); v4 != nil {
				ip = v4
			}
			names = append(names, asn1.RawValue{Tag: generalNameIP, Class: asn1.ClassContextSpecific, Bytes: ip})
		case SANTypeDNS:
			names = append(names, asn1.RawValue{Tag: generalNameDNS, Class: asn1.ClassContextSpecific, Bytes: []byte(e.Value)})
		default:
			return pkix.Extension{}, fmt.Errorf("unknown SAN type %v", e.Type)
		}
	}

	value, err := asn1.Marshal(names)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode subject alternative names: %w", err)
	}

	return pkix.Extension{Id: oidExtensionSubjectAltName, Value: value}, nil
}
