package codepage

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

type builtin struct {
	id          string
	aliases     []string
	description string
	encoding    encoding.Encoding
}

// The built-in EBCDIC pages a 5250 session can negotiate. Host CCSIDs are
// referred to by bare number in IBM documentation and in session configs,
// so the number is the canonical id and the IANA-style names are aliases.
var builtins = []builtin{
	{
		id:          "37",
		aliases:     []string{"ibm037", "cp037", "ebcdic-cp-us"},
		description: "CECP: USA, Canada, Netherlands, Portugal, Brazil, Australia, New Zealand",
		encoding:    charmap.CodePage037,
	},
	{
		id:          "1047",
		aliases:     []string{"ibm1047", "cp1047"},
		description: "Latin-1 for open systems",
		encoding:    charmap.CodePage1047,
	},
	{
		id:          "1140",
		aliases:     []string{"ibm01140", "cp1140", "ebcdic-us-37+euro"},
		description: "CECP: USA, Canada with euro sign",
		encoding:    charmap.CodePage1140,
	},
}

// A Registry resolves code page ids to shared immutable CodePage
// instances. Build one at startup with NewRegistry and hand it by
// reference to every session- there is no global registry and no
// mutation after construction.
type Registry struct {
	pages map[string]*CodePage
}

// NewRegistry constructs a registry holding every built-in code page.
func NewRegistry() (*Registry, error) {
	registry := &Registry{
		pages: make(map[string]*CodePage),
	}

	for _, b := range builtins {
		page, err := newCodePage(b.id, b.description, b.encoding)
		if err != nil {
			return nil, err
		}

		registry.pages[b.id] = page
		for _, alias := range b.aliases {
			registry.pages[alias] = page
		}
	}

	return registry, nil
}

// Resolve returns the code page registered under id. Ids are matched
// case-insensitively and unknown built-ins fall back to an IANA index
// lookup so names like "IBM037" resolve even when given in an unexpected
// spelling.
func (r *Registry) Resolve(id string) (*CodePage, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))

	page, ok := r.pages[normalized]
	if ok {
		return page, nil
	}

	// The IANA index knows many spellings for the same charmap table-
	// if it maps the requested name onto a table we already expanded,
	// serve the shared instance rather than failing.
	enc, err := ianaindex.IANA.Encoding(normalized)
	if err == nil && enc != nil {
		for _, b := range builtins {
			if enc == b.encoding {
				return r.pages[b.id], nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownCodePage, id)
}

// IDs returns the canonical ids of every registered page, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(builtins))
	for _, b := range builtins {
		ids = append(ids, b.id)
	}

	sort.Strings(ids)
	return ids
}
