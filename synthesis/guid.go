package synthesis

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// guidSeparator joins the GUID components before encoding. It may not
// appear in domains or types (both are normalized identifiers), so the
// encoding is unambiguous.
const guidSeparator = "|"

// GUID derives the stable entity identity from account, domain, type and
// identifier. The same inputs always produce the same GUID, on any node,
// at any time: no randomness, no clocks, no counters.
//
// When encodeIdentifier is true the identifier is replaced with a
// truncated SHA-256 digest before encoding, bounding GUID length for
// arbitrarily long identifiers; when false the identifier is carried
// verbatim and the GUID remains decodable for debugging.
func GUID(accountID, domain, entityType, identifier string, encodeIdentifier bool) string {
	idPart := identifier
	if encodeIdentifier {
		sum := sha256.Sum256([]byte(identifier))
		idPart = hex.EncodeToString(sum[:16])
	}
	raw := strings.Join(
		[]string{accountID, strings.ToUpper(domain), strings.ToUpper(entityType), idPart},
		guidSeparator)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeGUID reverses GUID for identities built without identifier
// encoding. Returns ok=false for undecodable or malformed input.
func DecodeGUID(guid string) (accountID, domain, entityType, identifier string, ok bool) {
	raw, err := base64.RawURLEncoding.DecodeString(guid)
	if err != nil {
		return "", "", "", "", false
	}
	parts := strings.SplitN(string(raw), guidSeparator, 4)
	if len(parts) != 4 {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], true
}
