package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Reference is a parsed secret://name?version=&project= pointer. sm:// is accepted as an alias.
type Reference struct {
	Name    string
	Version string
	Project string
}

// ParseReference validates raw and fills in the latest version when none is given.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	case u.Scheme != "secret":
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	ref := Reference{
		Name:    strings.Trim(u.Host+u.Path, "/"),
		Version: strings.TrimSpace(u.Query().Get("version")),
		Project: strings.TrimSpace(u.Query().Get("project")),
	}
	if ref.Name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	if ref.Version == "" {
		ref.Version = "latest"
	}
	return ref, nil
}

// String is the canonical form without query parameters.
func (r Reference) String() string { return "secret://" + r.Name }

func (r Reference) cacheKey() string { return r.String() + "#" + r.Version }

// resource is the Secret Manager version name within project.
func (r Reference) resource(project string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, r.Version)
}

// envKey maps the name to the key used in the fallback file, so payments-webhook is read from
// PAYMENTS_WEBHOOK.
func (r Reference) envKey() string {
	return strings.ToUpper(strings.NewReplacer("-", "_", "/", "_").Replace(r.Name))
}
