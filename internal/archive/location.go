package archive

import (
	"fmt"
	"net/url"
	"strings"
)

// Location is a parsed archive destination.
type Location struct {
	Scheme  string // "s3", "gs", "az" or "file"
	Bucket  string // bucket or container; empty for files
	Account string // Azure storage account, when the URI names one
	Prefix  string // key prefix or directory
}

// ParseLocation parses an archive URI. Supported forms:
//
//	s3://bucket/prefix
//	gs://bucket/prefix
//	az://container/prefix
//	abfss://container@account.dfs.core.windows.net/prefix
//	https://account.blob.core.windows.net/container/prefix
//	file:///var/lib/histclean/archive or a plain directory path
func ParseLocation(uri string) (Location, error) {
	if strings.TrimSpace(uri) == "" {
		return Location{}, fmt.Errorf("archive location is empty")
	}
	if !strings.Contains(uri, "://") {
		return Location{Scheme: "file", Prefix: uri}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse archive location %q: %w", uri, err)
	}
	loc := Location{Prefix: strings.Trim(u.Path, "/")}

	switch u.Scheme {
	case "file":
		loc = Location{Scheme: "file", Prefix: u.Path}
		if loc.Prefix == "" {
			return Location{}, fmt.Errorf("empty path in archive location %q", uri)
		}
		return loc, nil

	case "s3", "gs":
		loc.Scheme = u.Scheme
		loc.Bucket = u.Host

	case "az":
		loc.Scheme = "az"
		loc.Bucket = u.Host

	case "abfss":
		// url.Parse treats "container" as userinfo and the account host as host.
		if u.User == nil {
			return Location{}, fmt.Errorf("abfss location %q missing container@account component", uri)
		}
		loc.Scheme = "az"
		loc.Bucket = u.User.Username()
		loc.Account, _, _ = strings.Cut(u.Host, ".")

	case "https":
		if !strings.Contains(u.Host, ".blob.core.windows.net") {
			return Location{}, fmt.Errorf("unrecognized Azure HTTPS host %q in %q", u.Host, uri)
		}
		loc.Scheme = "az"
		loc.Account, _, _ = strings.Cut(u.Host, ".")
		loc.Bucket, loc.Prefix, _ = strings.Cut(loc.Prefix, "/")

	default:
		return Location{}, fmt.Errorf("unsupported archive scheme %q in %q", u.Scheme, uri)
	}

	if loc.Bucket == "" {
		return Location{}, fmt.Errorf("empty bucket in archive location %q", uri)
	}
	return loc, nil
}
