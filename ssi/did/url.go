package did

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidDIDURL is returned for malformed DID URLs.
var ErrInvalidDIDURL = errors.New("invalid DID URL")

const resourcesSegment = "/resources/"

// URL is a parsed DID URL.
type URL struct {
	DID      string
	Path     string
	Query    url.Values
	Fragment string
}

// ParseURL splits s into DID, path, query and fragment.
func ParseURL(s string) (*URL, error) {
	if Method(s) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDIDURL, s)
	}
	u := &URL{}
	rest := s
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		u.Fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		q, err := url.ParseQuery(rest[i+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDIDURL, err)
		}
		u.Query = q
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		u.Path = rest[i:]
		rest = rest[:i]
	}
	u.DID = rest
	return u, nil
}

// ResourceID returns the resource UUID when u addresses a DID-linked
// resource by id.
func (u *URL) ResourceID() (string, bool) {
	if !strings.HasPrefix(u.Path, resourcesSegment) {
		return "", false
	}
	id := strings.TrimPrefix(u.Path, resourcesSegment)
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(u.DID)
	b.WriteString(u.Path)
	if len(u.Query) > 0 {
		b.WriteByte('?')
		b.WriteString(u.Query.Encode())
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// ResourceURL builds the canonical <did>/resources/<id> URL.
func ResourceURL(didStr, id string) string {
	return didStr + resourcesSegment + id
}

// IsResourceURL reports whether s has the <did>/resources/<uuid> shape.
func IsResourceURL(s string) bool {
	u, err := ParseURL(s)
	if err != nil {
		return false
	}
	_, ok := u.ResourceID()
	return ok
}
