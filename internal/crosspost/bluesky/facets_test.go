package bluesky

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacetsUseByteOffsets(t *testing.T) {
	prefix := "héllo 日本 "
	link := "https://example.com/a?b=1"
	text := prefix + link + " done"

	facets := Facets(text)
	require.Len(t, facets, 1)

	f := facets[0]
	assert.EqualValues(t, len(prefix), f.Index.ByteStart)
	assert.EqualValues(t, len(prefix)+len(link), f.Index.ByteEnd)
	assert.NotEqualValues(t, utf8.RuneCountInString(prefix), f.Index.ByteStart)

	require.Len(t, f.Features, 1)
	require.NotNil(t, f.Features[0].RichtextFacet_Link)
	assert.Equal(t, link, f.Features[0].RichtextFacet_Link.Uri)
}

func TestFacetsMultipleLinks(t *testing.T) {
	text := "a http://one.test\nb https://two.test/x"
	facets := Facets(text)
	require.Len(t, facets, 2)
	assert.Equal(t, "http://one.test", facets[0].Features[0].RichtextFacet_Link.Uri)
	assert.Equal(t, "https://two.test/x", facets[1].Features[0].RichtextFacet_Link.Uri)
	assert.EqualValues(t, 2, facets[0].Index.ByteStart)
	assert.EqualValues(t, 17, facets[0].Index.ByteEnd)
}

func TestFacetsNone(t *testing.T) {
	assert.Nil(t, Facets("no links, just ftp://nope"))
}

func TestYouTubeID(t *testing.T) {
	tests := []struct {
		text string
		id   string
		ok   bool
	}{
		{"watch https://www.youtube.com/watch?v=dQw4w9WgXcQ now", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://YOUTUBE.com/watch?feature=share&v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://vimeo.com/123456789", "", false},
		{"plain text", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			id, ok := YouTubeID(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestFacetsStopAtUnicodeSpace(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		sep    string
	}{
		{"ideographic space", "見て ", "\u3000"},
		{"no-break space", "see ", "\u00a0"},
		{"narrow no-break space", "see ", "\u202f"},
		{"byte order mark", "see ", "\ufeff"},
	}
	link := "https://example.com/a"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facets := Facets(tt.prefix + link + tt.sep + "次へ")
			require.Len(t, facets, 1)
			assert.Equal(t, link, facets[0].Features[0].RichtextFacet_Link.Uri)
			assert.EqualValues(t, len(tt.prefix), facets[0].Index.ByteStart)
			assert.EqualValues(t, len(tt.prefix)+len(link), facets[0].Index.ByteEnd)
		})
	}
}
