package cascade

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/cairn-labs/wbench/internal/model"
)

// errNoWinner is returned by ParseJudgment when no recognizable winner
// token can be found in the completion by either path.
var errNoWinner = errors.New("cascade: judge response contains no valid winner token")

// winnerBracket matches the [[A]], [[B]], [[tie]] bracket convention,
// case-insensitive.
var winnerBracket = regexp.MustCompile(`(?i)\[\[\s*(A|B|tie)\s*\]\]`)

// winnerLabel matches an unbracketed "winner: A" style declaration. It
// requires the literal word "winner" so a bare article like the "a" in
// "pick a winner" is never mistaken for a verdict.
var winnerLabel = regexp.MustCompile(`(?i)\bwinner\b\s*[:=\-]?\s*["']?(A|B|tie)\b`)

// judgmentSchema is the StructuredSchema passed to the generator for
// judgment calls. Generators that support structured output will return a
// JSON object matching this shape; ParseJudgment also accepts it from
// generators that only emit structured output as text.
func judgmentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"winner": map[string]any{
				"type": "string",
				"enum": []string{"A", "B", "tie"},
			},
			"reasoning": map[string]any{
				"type": "string",
			},
		},
		"required":             []string{"winner"},
		"additionalProperties": false,
	}
}

// structuredJudgment is the shape ParseJudgment expects when it finds a
// JSON object in the completion, whether the generator emitted it as a true
// structured response or as a loose JSON blob in the text.
type structuredJudgment struct {
	Winner    string `json:"winner"`
	Reasoning string `json:"reasoning"`
}

// ParseJudgment extracts a winner and reasoning from a judge completion. It
// first tries strict structured parsing (the whole trimmed completion is a
// JSON object matching structuredJudgment), then falls back to a tolerant
// extraction of the first balanced {...} object anywhere in the text, and
// finally a bare winner-token scan. Any path that fails to find a
// recognizable A/B/tie token returns errNoWinner: a judgment without a
// winner is not a usable artifact.
func ParseJudgment(text string) (model.Winner, string, error) {
	if w, reasoning, ok := parseStrictJSON(text); ok {
		return w, reasoning, nil
	}
	if w, reasoning, ok := parseEmbeddedJSON(text); ok {
		return w, reasoning, nil
	}
	if w, ok := parseWinnerToken(text); ok {
		return w, strings.TrimSpace(text), nil
	}
	return "", "", errNoWinner
}

func parseStrictJSON(text string) (model.Winner, string, bool) {
	var sj structuredJudgment
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &sj); err != nil {
		return "", "", false
	}
	return normalizeWinner(sj.Winner, sj.Reasoning)
}

// parseEmbeddedJSON scans for the first balanced {...} substring and
// attempts to decode it as a structuredJudgment, accommodating judges that
// wrap their JSON in prose or code fences.
func parseEmbeddedJSON(text string) (model.Winner, string, bool) {
	start := strings.IndexByte(text, '{')
	for start != -1 {
		depth := 0
		for i := start; i < len(text); i++ {
			switch text[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					var sj structuredJudgment
					if err := json.Unmarshal([]byte(text[start:i+1]), &sj); err == nil {
						if w, reasoning, ok := normalizeWinner(sj.Winner, sj.Reasoning); ok {
							return w, reasoning, true
						}
					}
					i = len(text)
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next == -1 {
			break
		}
		start = start + 1 + next
	}
	return "", "", false
}

func parseWinnerToken(text string) (model.Winner, bool) {
	if m := winnerBracket.FindStringSubmatch(text); len(m) == 2 {
		return normalizeToken(m[1])
	}
	if m := winnerLabel.FindStringSubmatch(text); len(m) == 2 {
		return normalizeToken(m[1])
	}
	return "", false
}

func normalizeWinner(raw, reasoning string) (model.Winner, string, bool) {
	w, ok := normalizeToken(raw)
	if !ok {
		return "", "", false
	}
	return w, strings.TrimSpace(reasoning), true
}

func normalizeToken(raw string) (model.Winner, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "a":
		return model.WinnerA, true
	case "b":
		return model.WinnerB, true
	case "tie":
		return model.WinnerTie, true
	default:
		return "", false
	}
}
