package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/david/bidwatch/internal/models"
)

type modelReply struct {
	PrjType    any `json:"prjType"`
	PrjContent any `json:"prjContent"`
}

// cleanOutput strips a fenced wrapper and a leading json hint, then keeps
// the text from the first '{' to the last '}'.
func cleanOutput(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// ParseResult decodes a model reply into a Result. The type is always mapped
// onto the taxonomy; unknown labels become TypeOther. Replies without a
// decodable object return ErrMalformedOutput together with the cleaned text.
func ParseResult(raw string) (Result, string, error) {
	cleaned := cleanOutput(raw)

	var reply modelReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return Fallback(), cleaned, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var res Result
	label, _ := reply.PrjType.(string)
	res.PrjType, _ = models.ParseProjectType(label)
	if s, ok := reply.PrjContent.(string); ok {
		res.PrjContent = truncateRunes(strings.Join(strings.Fields(s), " "), MaxSynopsisRunes)
	}
	return res, cleaned, nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}
