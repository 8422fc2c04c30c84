package bluesky

import (
	"regexp"

	"github.com/bluesky-social/indigo/api/bsky"
)

// linkPattern ends a URL at any Unicode space (U+3000, U+00A0, ...), BOM or vertical tab,
// not only ASCII whitespace.
var linkPattern = regexp.MustCompile(`https?://[^\s\x0B\p{Z}\x{FEFF}]+`)

// Facets returns a link facet for every URL in text. Offsets are UTF-8 byte offsets,
// which is how the rich-text model addresses spans.
func Facets(text string) []*bsky.RichtextFacet {
	var facets []*bsky.RichtextFacet
	for _, loc := range linkPattern.FindAllStringIndex(text, -1) {
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{
				ByteStart: int64(loc[0]),
				ByteEnd:   int64(loc[1]),
			},
			Features: []*bsky.RichtextFacet_Features_Elem{{
				RichtextFacet_Link: &bsky.RichtextFacet_Link{Uri: text[loc[0]:loc[1]]},
			}},
		})
	}
	return facets
}
