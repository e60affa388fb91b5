// Package dhnslog contains the structured-logging prefixes shared across
// the DHCP, DNS, and discovery subsystems.
package dhnslog

import (
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Component log prefixes, attached via slogutil.KeyPrefix so every line a
// component emits is traceable back to its source without repeating the
// attribute at every call site.
const (
	PrefixDHCPEndpoint    = "dhcp-endpoint"
	PrefixDNSEndpoint     = "dns-endpoint"
	PrefixResolver        = "resolver"
	PrefixFixedRecords    = "fixed-records"
	PrefixSuffixForwarder = "suffix-forwarder"
	PrefixDiscovery       = "discovery"
)

// NewForComponent returns a new logger tagged with prefix, falling back to
// slog.Default if baseLogger is nil.
func NewForComponent(baseLogger *slog.Logger, prefix string) (l *slog.Logger) {
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	return baseLogger.With(slogutil.KeyPrefix, prefix)
}
