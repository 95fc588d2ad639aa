// internal/gitx/normalize.go
package gitx

import (
	"net/url"
	"strings"

	custom_errors "repo-insights/internal/errors"
)

// NormalizeURL converts a git remote URL into a canonical repo id.
//
// Rules:
//   - Strip protocol (https://, git://, ssh://, file://) and user (git@)
//   - Convert git@host:path to host/path
//   - Lowercase the host portion
//   - Strip trailing ".git"
//   - Strip trailing slashes
//
// Examples:
//
//	git@github.com:Org/Repo.git  → github.com/Org/Repo
//	https://github.com/Org/Repo.git → github.com/Org/Repo
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	var host, path string

	if i := strings.Index(rawURL, "@"); i >= 0 && !strings.Contains(rawURL[:i], "://") {
		rest := rawURL[i+1:]
		if colonIdx := strings.Index(rest, ":"); colonIdx >= 0 {
			host = rest[:colonIdx]
			path = rest[colonIdx+1:]
		}
	} else {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return rawURL
		}
		host = parsed.Hostname()
		path = strings.TrimPrefix(parsed.Path, "/")
	}

	host = strings.ToLower(host)
	path = strings.TrimSuffix(strings.TrimRight(path, "/"), ".git")
	path = strings.TrimRight(path, "/")

	if host == "" {
		return path
	}
	return host + "/" + path
}

// RepoID is the identity of a remote repository derived from its URL.
type RepoID struct {
	Host  string
	Owner string
	Name  string
}

// ParseRepoURL splits a remote URL into host, owner and name. Local paths have
// an empty host and use the parent directory as owner.
func ParseRepoURL(rawURL string) (RepoID, error) {
	normalized := NormalizeURL(rawURL)
	segments := strings.Split(strings.Trim(normalized, "/"), "/")
	host := ""
	if !isLocalURL(rawURL) && len(segments) > 0 {
		host, segments = segments[0], segments[1:]
	}
	if len(segments) < 2 || segments[len(segments)-1] == "" || segments[len(segments)-2] == "" {
		return RepoID{}, &custom_errors.ErrInvalidRepoFormat{Repo: rawURL}
	}
	return RepoID{
		Host:  host,
		Owner: segments[len(segments)-2],
		Name:  segments[len(segments)-1],
	}, nil
}

func isLocalURL(rawURL string) bool {
	rawURL = strings.TrimSpace(rawURL)
	return strings.HasPrefix(rawURL, "/") || strings.HasPrefix(rawURL, "file://") || strings.HasPrefix(rawURL, ".")
}

// quotedEscapes is the C-style escape table git uses inside quoted path names
// (core.quotePath). Octal byte escapes are handled separately.
var quotedEscapes = map[byte]byte{
	'a':  '\a',
	'b':  '\b',
	't':  '\t',
	'n':  '\n',
	'v':  '\v',
	'f':  '\f',
	'r':  '\r',
	'"':  '"',
	'\\': '\\',
}

// NormalizePath turns a file name as printed by git into the canonical form
// stored in the database:
//   - wrapping double quotes are stripped and their C escapes decoded
//   - octal byte escapes (\303\241) are decoded, quoted or not
//   - rename hints "dir/{old => new}/f" and "old => new" resolve to the new path
//   - empty and "." segments and surrounding spaces are dropped
//
// Applying it to an already normalized path returns the path unchanged.
func NormalizePath(raw string) string {
	p := strings.TrimSpace(raw)
	quoted := len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"'
	if quoted {
		p = p[1 : len(p)-1]
	}
	p = unescapePath(p, quoted)
	p = resolveRenameHint(p)
	p = strings.ToValidUTF8(p, "�")
	return cleanSegments(p)
}

func unescapePath(p string, quoted bool) string {
	if !strings.Contains(p, `\`) {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c != '\\' || i+1 >= len(p) {
			b.WriteByte(c)
			continue
		}
		if i+3 < len(p) && isOctal(p[i+1], '3') && isOctal(p[i+2], '7') && isOctal(p[i+3], '7') {
			b.WriteByte((p[i+1]-'0')<<6 | (p[i+2]-'0')<<3 | (p[i+3] - '0'))
			i += 3
			continue
		}
		if quoted {
			if decoded, ok := quotedEscapes[p[i+1]]; ok {
				b.WriteByte(decoded)
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isOctal(c, max byte) bool {
	return c >= '0' && c <= max
}

const renameArrow = " => "

func resolveRenameHint(p string) string {
	if open := strings.Index(p, "{"); open >= 0 {
		if width := strings.Index(p[open:], "}"); width > 0 {
			inner := p[open+1 : open+width]
			if arrow := strings.Index(inner, renameArrow); arrow >= 0 {
				return p[:open] + inner[arrow+len(renameArrow):] + p[open+width+1:]
			}
		}
		return p
	}
	if arrow := strings.Index(p, renameArrow); arrow >= 0 {
		return p[arrow+len(renameArrow):]
	}
	return p
}

func cleanSegments(p string) string {
	for {
		segments := strings.Split(p, "/")
		kept := segments[:0]
		for _, s := range segments {
			if s == "" || s == "." {
				continue
			}
			kept = append(kept, s)
		}
		cleaned := strings.TrimSpace(strings.Join(kept, "/"))
		if cleaned == p {
			return cleaned
		}
		p = cleaned
	}
}
