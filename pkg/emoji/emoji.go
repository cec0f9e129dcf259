// Package emoji converts between unicode emoji and :shortcode: text.
package emoji

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	kemoji "github.com/kyokomi/emoji/v2"
)

var shortcodePattern = regexp.MustCompile(`:[a-zA-Z0-9_+\-]+:`)

var (
	toShortcodes     *strings.Replacer
	toShortcodesOnce sync.Once
)

// ToShortcodes replaces every known unicode emoji in s with its shortcode.
func ToShortcodes(s string) string {
	if s == "" {
		return s
	}

	toShortcodesOnce.Do(func() {
		toShortcodes = buildReplacer(kemoji.RevCodeMap())
	})

	return toShortcodes.Replace(s)
}

// FromShortcodes replaces known :shortcode: tokens in s with unicode emoji.
// Unknown tokens are left untouched.
func FromShortcodes(s string) string {
	if !strings.Contains(s, ":") {
		return s
	}

	codes := kemoji.CodeMap()
	return shortcodePattern.ReplaceAllStringFunc(s, func(token string) string {
		if value, ok := codes[token]; ok {
			return value
		}
		if value, ok := codes[strings.ToLower(token)]; ok {
			return value
		}
		return token
	})
}

func buildReplacer(reverse map[string][]string) *strings.Replacer {
	keys := make([]string, 0, len(reverse))
	for unicode, aliases := range reverse {
		if unicode == "" || len(aliases) == 0 {
			continue
		}
		keys = append(keys, unicode)
	}

	// Longest sequences first so flags and skin tones win over their prefixes.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, unicode := range keys {
		pairs = append(pairs, unicode, preferredAlias(reverse[unicode]))
	}

	return strings.NewReplacer(pairs...)
}

func preferredAlias(aliases []string) string {
	best := aliases[0]
	for _, alias := range aliases[1:] {
		if len(alias) < len(best) || (len(alias) == len(best) && alias < best) {
			best = alias
		}
	}
	return best
}
