package terautil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
)

func validID(id string) bool {
	return len(id) >= 5 && idPattern.MatchString(id) && !digitsPattern.MatchString(id)
}

func isShareHost(host string) bool {
	host = strings.ToLower(host)

	for _, e := range []string{"terabox.com", "teraboxapp.com", "1024terabox.com", "terabox.app"} {
		if host == e || strings.HasSuffix(host, "."+e) {
			return true
		}
	}

	return false
}

// ExtractExternalIDs pulls every share id out of whitespace separated text.
func ExtractExternalIDs(text string, ignoreInvalid bool) ([]string, error) {
	var ids []string

	seen := make(map[string]bool)

	for _, urlOrID := range strings.Fields(text) {
		id, err := ExtractExternalID(urlOrID)
		if err != nil {
			if ignoreInvalid {
				continue
			}

			return nil, fmt.Errorf("terautil.ExtractExternalIDs: could not identify %q: %w", urlOrID, err)
		}

		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// ExtractExternalID accepts a bare share id, a share URL ending in /s/<id>,
// or a link with a surl parameter (which drops the leading "1" of the id).
func ExtractExternalID(urlOrID string) (string, error) {
	urlOrID = strings.TrimSpace(urlOrID)
	if urlOrID == "" {
		return "", fmt.Errorf("terautil.ExtractExternalID: empty input")
	}

	if validID(urlOrID) {
		return urlOrID, nil
	}

	parsed, err := url.Parse(urlOrID)
	if err != nil {
		return "", fmt.Errorf("terautil.ExtractExternalID: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("terautil.ExtractExternalID: invalid url or id; could not find a known pattern")
	}

	if !isShareHost(parsed.Hostname()) {
		return "", fmt.Errorf("terautil.ExtractExternalID: %q is not a share host", parsed.Hostname())
	}

	if surl := parsed.Query().Get("surl"); surl != "" {
		if !validID("1" + surl) {
			return "", fmt.Errorf("terautil.ExtractExternalID: invalid surl parameter %q", surl)
		}

		return "1" + surl, nil
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) == 2 && parts[0] == "s" {
		if !validID(parts[1]) {
			return "", fmt.Errorf("terautil.ExtractExternalID: invalid share id %q", parts[1])
		}

		return parts[1], nil
	}

	return "", fmt.Errorf("terautil.ExtractExternalID: no share id found in url")
}
