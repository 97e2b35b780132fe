package platform

import (
	"regexp"
	"strings"
)

var (
	handlePattern     = regexp.MustCompile(`^[a-zA-Z0-9_]{5,}$`)
	publicLinkPattern = regexp.MustCompile(`^(?:https?://)?t\.me/([a-zA-Z0-9_]+)/?$`)
)

// IsInviteLink reports whether raw is invite text rather than a public handle.
func IsInviteLink(raw string) bool {
	s := strings.TrimSpace(raw)
	return strings.HasPrefix(s, "http") ||
		strings.HasPrefix(s, "t.me/+") ||
		strings.HasPrefix(s, "t.me/joinchat/") ||
		strings.HasPrefix(s, "+")
}

// NormalizeHandle strips whitespace and a leading "@".
func NormalizeHandle(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "@")
}

// ValidHandle reports whether h is a well-formed public handle: at least
// five letters, digits or underscores.
func ValidHandle(h string) bool {
	return handlePattern.MatchString(h)
}

// publicLinkHandle returns the handle of a public t.me/<handle> link.
func publicLinkHandle(raw string) (string, bool) {
	m := publicLinkPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil || m[1] == "joinchat" {
		return "", false
	}
	return m[1], true
}

// InviteToken extracts the invite hash from free-form invite text:
//
//	https://t.me/+AbCd?x=1  -> AbCd
//	t.me/+AbCd              -> AbCd
//	https://t.me/joinchat/AbCd/ -> AbCd
//	+AbCd                   -> AbCd
func InviteToken(raw string) string {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "+")

	var token string
	switch {
	case strings.HasPrefix(s, "http"), strings.HasPrefix(s, "t.me/"):
		if i := strings.LastIndex(s, "/+"); i >= 0 {
			token = s[i+2:]
		} else {
			trimmed := strings.TrimRight(s, "/")
			token = trimmed[strings.LastIndex(trimmed, "/")+1:]
		}
	default:
		token = s
	}

	token = strings.TrimLeft(token, "+")
	if i := strings.IndexAny(token, "?#"); i >= 0 {
		token = token[:i]
	}
	return token
}

// ParsedIdentifier is operator input split into the stored handle and,
// for invite links, the normalized token.
type ParsedIdentifier struct {
	Handle      string
	InviteToken string
}

// ParseIdentifier classifies operator input. Public t.me links reduce to
// their handle. Invite links keep their raw text as the handle so that
// re-adding the same link finds the same row.
func ParseIdentifier(raw string) ParsedIdentifier {
	if h, ok := publicLinkHandle(raw); ok {
		return ParsedIdentifier{Handle: h}
	}
	if IsInviteLink(raw) {
		link := strings.TrimSpace(raw)
		return ParsedIdentifier{Handle: link, InviteToken: InviteToken(link)}
	}
	return ParsedIdentifier{Handle: NormalizeHandle(raw)}
}

// Valid reports whether p can be tracked: an invite with a token, or a
// well-formed public handle.
func (p ParsedIdentifier) Valid() bool {
	if p.InviteToken != "" {
		return true
	}
	return !IsInviteLink(p.Handle) && ValidHandle(p.Handle)
}

// Identifier returns how the parsed input should be resolved.
func (p ParsedIdentifier) Identifier() Identifier {
	if p.InviteToken != "" {
		return ByInvite(p.InviteToken)
	}
	return ByHandle(p.Handle)
}
