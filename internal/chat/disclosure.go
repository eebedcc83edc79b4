package chat

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// disclosureRule rewrites wording that would tell the user where a grounded
// answer came from.
type disclosureRule struct {
	re      *regexp.Regexp
	replace func(match string) string
	// leading rules remove a lead-in phrase, so the sentence that follows
	// needs its first letter capitalized again.
	leading bool
}

func drop(string) string { return "" }

func keepCase(word string) func(string) string {
	return func(match string) string {
		r, _ := utf8.DecodeRuneInString(match)
		if unicode.IsUpper(r) {
			first, size := utf8.DecodeRuneInString(word)
			return string(unicode.ToUpper(first)) + word[size:]
		}
		return word
	}
}

var disclosureRules = []disclosureRule{
	// "Based on the provided document, ..." / "According to the knowledge base: ..."
	{
		re:      regexp.MustCompile(`(?i)\b(based on|according to|from|per|using|as (stated|mentioned|described) in)\s+(the|this|that|my|our|your)\s+(provided\s+|retrieved\s+|available\s+|given\s+|attached\s+)?(documents?|database|vector\s+(database|store|index|search|db)|knowledge\s+base|context|sources?|records?)\s*[,:]?\s*`),
		replace: drop,
		leading: true,
	},
	{regexp.MustCompile(`(?i)pinecone('s)?\s*`), drop, false},
	{regexp.MustCompile(`(?i)\bvector\s+(database|store|index|search|db)s?\b`), keepCase("knowledge"), false},
	{regexp.MustCompile(`(?i)\bvectors?\s*`), drop, false},
	{regexp.MustCompile(`(?i)vector`), drop, false},
	{regexp.MustCompile(`(?i)\bdatabases?\b`), keepCase("records"), false},
	{regexp.MustCompile(`(?i)database`), keepCase("record"), false},
	{regexp.MustCompile(`(?i)\bdocumentation\b`), keepCase("guidance"), false},
	{regexp.MustCompile(`(?i)\bdocumented\b`), keepCase("recorded"), false},
	{regexp.MustCompile(`(?i)\bdocumenting\b`), keepCase("recording"), false},
	{regexp.MustCompile(`(?i)\bdocuments\b`), keepCase("records"), false},
	{regexp.MustCompile(`(?i)documentaries`), keepCase("films"), false},
	{regexp.MustCompile(`(?i)documentary`), keepCase("film"), false},
	// Anything left, including "document" inside longer words.
	{regexp.MustCompile(`(?i)document`), keepCase("record"), false},
}

// scrubDisclosure rewrites every source-revealing phrase in text.
func scrubDisclosure(text string) string {
	original := text
	for _, rule := range disclosureRules {
		if !rule.leading {
			text = rule.re.ReplaceAllStringFunc(text, rule.replace)
			continue
		}
		text = removeLeadIns(text, rule.re)
	}
	if text != original {
		text = strandedPunctuation.ReplaceAllString(text, "$1")
	}
	return text
}

var strandedPunctuation = regexp.MustCompile(`[ \t]+([.,!?;:])`)

func removeLeadIns(text string, re *regexp.Regexp) string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(text[last:loc[0]])
		last = loc[1]
		if atSentenceStart(text[:loc[0]]) && last < len(text) {
			r, size := utf8.DecodeRuneInString(text[last:])
			b.WriteRune(unicode.ToUpper(r))
			last += size
		}
	}
	b.WriteString(text[last:])
	return b.String()
}

func atSentenceStart(before string) bool {
	trimmed := strings.TrimRightFunc(before, unicode.IsSpace)
	if trimmed == "" {
		return true
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', '\n', ':', '*', '-':
		return true
	}
	return false
}

// disclosureFilter scrubs a text stream one sentence at a time. It never
// holds back more than the current unfinished sentence.
type disclosureFilter struct {
	pending strings.Builder
}

// push accepts a delta and returns the text that is safe to emit now.
func (f *disclosureFilter) push(delta string) string {
	f.pending.WriteString(delta)
	buf := f.pending.String()
	cut := lastSentenceBoundary(buf)
	if cut <= 0 {
		return ""
	}
	f.pending.Reset()
	f.pending.WriteString(buf[cut:])
	return scrubDisclosure(buf[:cut])
}

// flush returns whatever is still held back.
func (f *disclosureFilter) flush() string {
	buf := f.pending.String()
	f.pending.Reset()
	if buf == "" {
		return ""
	}
	return scrubDisclosure(buf)
}

// lastSentenceBoundary returns the index just past the last sentence end
// (terminal punctuation followed by whitespace, or a newline), or -1.
func lastSentenceBoundary(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		if s[i] == '\n' {
			return i + 1
		}
		if s[i] == ' ' || s[i] == '\t' {
			switch s[i-1] {
			case '.', '!', '?', ':':
				return i + 1
			}
		}
	}
	if len(s) > 0 && s[0] == '\n' {
		return 1
	}
	return -1
}
