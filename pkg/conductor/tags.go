package conductor

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// Kind discriminates the shape of a TagValue: a tag field may be wholly
// absent, hold a single value, or (after splitting on split-symbols) hold
// several — artist and genre are read identically but projected into
// different numbers of view-tree links depending on which they turn out
// to be (spec §4.3 Design Notes: "None | SingleValue | MultiValue").
type Kind int

const (
	None Kind = iota
	SingleValue
	MultiValue
)

// TagValue is the tagged-variant wrapper around a possibly-multi-valued
// tag field, so the Conductor's view-tree building never has to special
// case "one genre" vs. "several genres" — it just ranges over All().
type TagValue struct {
	kind   Kind
	values []string
}

func noValue() TagValue             { return TagValue{kind: None} }
func singleValue(v string) TagValue { return TagValue{kind: SingleValue, values: []string{v}} }
func multiValue(vs []string) TagValue {
	if len(vs) == 0 {
		return noValue()
	}
	if len(vs) == 1 {
		return singleValue(vs[0])
	}
	return TagValue{kind: MultiValue, values: vs}
}

// Kind reports which variant this value holds.
func (v TagValue) Kind() Kind { return v.kind }

// All returns every value; empty for None.
func (v TagValue) All() []string { return v.values }

// trackTags is the sanitised-free, parsed shape of one audio file's tags,
// independent of dhowden/tag's own Metadata interface so the rest of the
// Conductor never imports it directly.
type trackTags struct {
	Title        string
	Album        string
	Year         string // first four characters of the date tag, spec §4.3
	Artists      TagValue
	Genres       TagValue
	IsSoundtrack bool
}

// splitSymbols holds the configured multi-value separators (spec §4.3
// Inputs: "split_symbols").
type splitSymbols []string

func (s splitSymbols) split(raw string) []string {
	if raw == "" {
		return nil
	}
	cut := func(r rune) bool {
		for _, sym := range s {
			if len(sym) == 1 && rune(sym[0]) == r {
				return true
			}
		}
		return false
	}
	fields := strings.FieldsFunc(raw, cut)
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// readTags reads and parses the tags of the audio file at path, applying
// the artist-splitting and fallback rules of spec §4.3.
func readTags(path string, symbols splitSymbols) (trackTags, error) {
	f, err := os.Open(path)
	if err != nil {
		return trackTags{}, err
	}
	defer f.Close()
	return parseTags(f, symbols)
}

func parseTags(r io.ReadSeeker, symbols splitSymbols) (trackTags, error) {
	m, err := tag.ReadFrom(r)
	if err != nil {
		return trackTags{}, err
	}

	artists := resolveArtists(m, symbols)
	genres := multiValue(symbols.split(m.Genre()))
	if genres.Kind() == None && m.Genre() != "" {
		genres = singleValue(m.Genre())
	}

	// A track with no usable date tag still lands in the Years tree, under
	// the "0000" bucket, rather than being excluded from it entirely.
	year := "0000"
	if y := m.Year(); y > 0 {
		year = yearString(y)
	}

	isSoundtrack := containsFold(genres.All(), "soundtrack") || strings.Contains(strings.ToLower(m.Album()), "ost")

	return trackTags{
		Title:        m.Title(),
		Album:        m.Album(),
		Year:         year,
		Artists:      artists,
		Genres:       genres,
		IsSoundtrack: isSoundtrack,
	}, nil
}

// resolveArtists applies the fallback order of spec §4.3: artist tag, then
// albumartist, then the literal "Unknown Artist".
func resolveArtists(m tag.Metadata, symbols splitSymbols) TagValue {
	if raw := m.Artist(); raw != "" {
		return multiValue(symbols.split(raw))
	}
	if raw := m.AlbumArtist(); raw != "" {
		return multiValue(symbols.split(raw))
	}
	return singleValue("Unknown Artist")
}

func containsFold(values []string, needle string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func yearString(y int) string {
	s := strconv.Itoa(y)
	if len(s) < 4 {
		return s
	}
	return s[:4]
}
