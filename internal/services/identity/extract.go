package identity

import (
	"net/url"
	"strings"
)

const defaultLinkType = "magiclink"

// credential is what a generated link payload yields: either a token that our
// confirm endpoint can redeem, or a provider URL to hand out unchanged.
type credential struct {
	TokenHash   string
	Type        string
	Passthrough string
}

type extractor struct {
	name string
	fn   func(payload map[string]any) (credential, bool)
}

// extractors run in order; the first one that yields a credential wins.
var extractors = []extractor{
	{name: "action_link_params", fn: fromActionLinkParams},
	{name: "hashed_token", fn: fromHashedToken},
	{name: "action_link_passthrough", fn: passthroughActionLink},
}

func extractCredential(payload map[string]any) (credential, string, bool) {
	for _, ex := range extractors {
		if cred, ok := ex.fn(payload); ok {
			return cred, ex.name, true
		}
	}
	return credential{}, "", false
}

func fromActionLinkParams(payload map[string]any) (credential, bool) {
	link := actionLink(payload)
	if link == "" {
		return credential{}, false
	}

	u, err := url.Parse(link)
	if err != nil {
		return credential{}, false
	}
	query := u.Query()

	var token string
	for _, key := range []string{"token_hash", "token", "hash"} {
		if v := strings.TrimSpace(query.Get(key)); v != "" {
			token = v
			break
		}
	}
	if token == "" {
		return credential{}, false
	}

	linkType := strings.TrimSpace(query.Get("type"))
	if linkType == "" {
		linkType = defaultLinkType
	}

	return credential{TokenHash: token, Type: linkType}, true
}

func fromHashedToken(payload map[string]any) (credential, bool) {
	token := stringAt(payload, "properties", "hashed_token")
	if token == "" {
		token = stringAt(payload, "hashed_token")
	}
	if token == "" {
		return credential{}, false
	}
	return credential{TokenHash: token, Type: defaultLinkType}, true
}

func passthroughActionLink(payload map[string]any) (credential, bool) {
	link := actionLink(payload)
	if link == "" {
		return credential{}, false
	}
	return credential{Passthrough: link}, true
}

func actionLink(payload map[string]any) string {
	for _, path := range [][]string{
		{"properties", "action_link"},
		{"action_link"},
		{"properties", "actionLink"},
	} {
		if v := stringAt(payload, path...); v != "" {
			return v
		}
	}
	return ""
}

// stringAt walks nested JSON objects and returns the trimmed string at path,
// or "" when any step is missing or has the wrong type.
func stringAt(payload map[string]any, path ...string) string {
	var current any = payload
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = obj[key]
		if !ok {
			return ""
		}
	}
	s, ok := current.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
