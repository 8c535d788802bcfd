package emotion

import (
	"strings"
	"unicode"
)

// Label 表示消息可携带的情绪标签，取值限定在固定集合内。
type Label string

const (
	Happy     Label = "happy"
	Sad       Label = "sad"
	Angry     Label = "angry"
	Surprised Label = "surprised"
	Neutral   Label = "neutral"
)

// Match describes how a raw classifier answer was mapped onto a Label.
type Match string

const (
	MatchExact     Match = "exact"
	MatchSubstring Match = "substring"
	MatchNone      Match = "none"
)

// labelOrder is also the substring scan priority.
var labelOrder = [...]Label{Happy, Sad, Angry, Surprised, Neutral}

// Labels returns the closed label set in its fixed order.
func Labels() []Label {
	return append([]Label(nil), labelOrder[:]...)
}

// Valid reports whether l is exactly one of the closed set values.
func (l Label) Valid() bool {
	for _, label := range labelOrder {
		if l == label {
			return true
		}
	}
	return false
}

func (l Label) String() string {
	return string(l)
}

// Normalize 去除首尾空白、转小写并剔除所有非字母数字字符。
func Normalize(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	var builder strings.Builder
	builder.Grow(len(trimmed))
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// Parse accepts only an exact (normalized) label.
func Parse(raw string) (Label, bool) {
	normalized := Normalize(raw)
	for _, label := range labelOrder {
		if normalized == string(label) {
			return label, true
		}
	}
	return "", false
}

// Resolve maps an untrusted answer onto the closed set: exact match first,
// then the first label in fixed order contained in the normalized text.
// Anything else resolves to Neutral with MatchNone.
func Resolve(raw string) (Label, Match) {
	if label, ok := Parse(raw); ok {
		return label, MatchExact
	}

	normalized := Normalize(raw)
	if normalized == "" {
		return Neutral, MatchNone
	}
	for _, label := range labelOrder {
		if strings.Contains(normalized, string(label)) {
			return label, MatchSubstring
		}
	}
	return Neutral, MatchNone
}
