package handshake

import (
	"net/http"
	"strings"

	"github.com/luciancaetano/upsock/internal/protocol"
)

// DetectVersion picks the protocol generation from the upgrade headers.
//
// It returns ErrNotWebSocket unless Connection carries the "upgrade" token and
// Upgrade is "websocket". A Sec-WebSocket-Version header selects HyBi, its
// absence selects Hixie-76. A version header naming an unsupported draft is a
// malformed handshake.
func DetectVersion(h http.Header) (protocol.Version, error) {
	if !headerContainsToken(h, HeaderConnection, "upgrade") ||
		!strings.EqualFold(strings.TrimSpace(h.Get(HeaderUpgrade)), "websocket") {
		return protocol.VersionUnknown, ErrNotWebSocket
	}

	versions := h.Values(HeaderSecVersion)
	if len(versions) == 0 {
		return protocol.VersionHixie76, nil
	}
	if len(versions) > 1 {
		return protocol.VersionUnknown, malformed("multiple %s headers", HeaderSecVersion)
	}

	switch strings.TrimSpace(versions[0]) {
	case "13", "8", "7":
		return protocol.VersionHyBi, nil
	default:
		return protocol.VersionUnknown, malformed("unsupported %s %q", HeaderSecVersion, versions[0])
	}
}
