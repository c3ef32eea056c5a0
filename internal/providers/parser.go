package providers

import "strings"

// ProviderRef is one entry of DOCQA_EMBED_PROVIDERS, written "name" or
// "name:alias". The alias selects an API key or model variant for the backend.
type ProviderRef struct {
	Name  string
	Alias string
}

func (r ProviderRef) String() string {
	if r.Alias == "" {
		return r.Name
	}
	return r.Name + ":" + r.Alias
}

// ParseProviderList splits a "|" separated list, dropping blanks and repeats.
// An empty list yields the mock backend.
func ParseProviderList(raw string) []ProviderRef {
	seen := map[ProviderRef]bool{}
	var out []ProviderRef
	for _, part := range strings.Split(raw, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, alias, _ := strings.Cut(part, ":")
		ref := ProviderRef{Name: strings.ToLower(strings.TrimSpace(name)), Alias: strings.TrimSpace(alias)}
		if ref.Name == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	if len(out) == 0 {
		out = []ProviderRef{{Name: "mock"}}
	}
	return out
}
