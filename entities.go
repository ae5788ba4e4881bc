package agentcore

import (
	"regexp"
	"strings"
)

// Entity is a mention of interest extracted from user input.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Entity extraction is regex based. Korean place names are caught by
// their suffixes (palace, temple, station, district and so on); a
// small list of well-known English names covers romanized mentions.
var (
	koreanPlacePattern  = regexp.MustCompile(`[가-힣]+(궁|사|역|동|구|시|도|산|강|해변|공원|시장|거리)`)
	englishPlacePattern = regexp.MustCompile(`(?i)\b(Gyeongbokgung|Changdeokgung|Bukchon|Insadong|Myeongdong|Hongdae|Itaewon|Gangnam|Namsan|Dongdaemun|Namdaemun|Gwangjang|Jongno|Seongsu|Yeouido|Han River|N Seoul Tower|Lotte World|Bukhansan)\b`)
	datePattern         = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}|(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(st|nd|rd|th)?|tomorrow|today|next week|this weekend|\d{1,2}월\s*\d{1,2}일)\b`)
	budgetPattern       = regexp.MustCompile(`(?i)([₩]\s?[\d,]+|[\d,]+\s?(won|krw|원))`)
	timePattern         = regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}|\d{1,2}\s?(am|pm)|morning|afternoon|evening|night|오전|오후|저녁|아침)\b`)
)

// ExtractEntities pulls place, date, budget and time mentions from the
// input, deduplicated in order of first appearance.
func ExtractEntities(input string) []Entity {
	var entities []Entity
	seen := make(map[string]bool)
	add := func(kind, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		key := kind + ":" + strings.ToLower(value)
		if seen[key] {
			return
		}
		seen[key] = true
		entities = append(entities, Entity{Type: kind, Value: value})
	}

	for _, m := range koreanPlacePattern.FindAllString(input, -1) {
		add("place", m)
	}
	for _, m := range englishPlacePattern.FindAllString(input, -1) {
		add("place", m)
	}
	for _, m := range datePattern.FindAllString(input, -1) {
		add("date", m)
	}
	for _, m := range budgetPattern.FindAllString(input, -1) {
		add("budget", m)
	}
	for _, m := range timePattern.FindAllString(input, -1) {
		add("time", m)
	}
	return entities
}

// EntityValues flattens entities to their raw values.
func EntityValues(entities []Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Value)
	}
	return out
}
