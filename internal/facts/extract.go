package facts

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Rule is one automatic-extraction pattern: a regex with a single capture
// group, the fact key it feeds, and the base importance of a captured value.
// Rules are plain data evaluated in order; the first match per rule wins.
type Rule struct {
	Key        string
	Importance float64
	Pattern    *regexp.Regexp
}

// extractionRules capture identity facts from a dialogue exchange in
// Portuguese and English. Extraction runs synchronously on every exchange and
// must stay zero-latency and deterministic, so regexes only.
var extractionRules = []Rule{
	{
		Key:        "nome",
		Importance: 0.9,
		// Inner whitespace stays horizontal so a capture never swallows the
		// newline between the user message and the reply.
		Pattern:    regexp.MustCompile(`(?i)\b(?:meu nome (?:é|e)|me chamo|my name is|i am called)\s+(\p{L}+(?:[^\S\r\n]+\p{L}+)?)`),
	},
	{
		Key:        "linguagem_preferida",
		Importance: 0.7,
		Pattern:    regexp.MustCompile(`(?i)\b(?:prefiro programar em|prefiro usar|minha linguagem (?:favorita|preferida) (?:é|e)|i prefer (?:coding|programming|to code) in|my favou?rite language is)\s+([\p{L}#+]+)`),
	},
	{
		Key:        "projeto_atual",
		Importance: 0.8,
		Pattern:    regexp.MustCompile(`(?i)\b(?:estou trabalhando (?:no projeto|na|no|em)|trabalho no projeto|i(?:'m| am) working on)\s+([^.,;!?\n]+)`),
	},
	{
		Key:        "localizacao",
		Importance: 0.6,
		Pattern:    regexp.MustCompile(`(?i)\b(?:moro em|estou morando em|i live in|i(?:'m| am) based in)\s+(\p{L}+(?:[^\S\r\n]+\p{L}+){0,2})`),
	},
	{
		Key:        "email",
		Importance: 0.85,
		Pattern:    regexp.MustCompile(`(?i)([a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,})`),
	},
	{
		Key:        "profissao",
		Importance: 0.7,
		Pattern:    regexp.MustCompile(`(?i)\b(?:trabalho como|minha profiss(?:ã|a)o (?:é|e)|i work as an?|my job is|my profession is)\s+([^.,;!?\n]+)`),
	},
}

// ExtractFromExchange runs the rule table over one user/assistant exchange
// and upserts every captured value under its rule's key, in the
// auto-extracted category. It returns only the keys that were newly created;
// refreshed keys are excluded so the caller can distinguish "I learned
// something new" from a repeat. A pass that matches nothing is a normal,
// silent no-op.
func (m *Manager) ExtractFromExchange(ctx context.Context, userID, userMessage, botReply string) ([]string, error) {
	text := userMessage + "\n" + botReply

	var created []string
	for _, rule := range extractionRules {
		match := rule.Pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value := strings.TrimSpace(match[1])
		if value == "" {
			continue
		}
		fresh, err := m.Store(ctx, userID, rule.Key, value, rule.Importance, AutoExtractedCategory, nil)
		if err != nil {
			return created, err
		}
		if fresh {
			created = append(created, rule.Key)
		}
	}

	if len(created) > 0 {
		m.logger.Debug("extracted new facts", "user", userID, "keys", created)
	}
	return created, nil
}

// FormatForPrompt renders the user's qualifying facts as the "what we know
// about this user" block: importance floor applied, sorted by importance
// descending, capped at the configured count. Returns "" when nothing
// qualifies; the caller omits the section rather than treating it as an error.
func (m *Manager) FormatForPrompt(ctx context.Context, userID string) (string, error) {
	all, err := m.store.ListFacts(ctx, userID, m.minImportance)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", nil
	}
	if len(all) > m.maxInPrompt {
		all = all[:m.maxInPrompt]
	}

	var b strings.Builder
	b.WriteString("=== Factos conhecidos sobre o utilizador ===\n")
	for _, f := range all {
		b.WriteString("- ")
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\n")
	}
	b.WriteString("============================================")
	return b.String(), nil
}

// ExportJSON serializes every fact of a user as a JSON document, keys sorted,
// for backup or inspection.
func (m *Manager) ExportJSON(ctx context.Context, userID string) ([]byte, error) {
	all, err := m.GetAll(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type exported struct {
		Key         string   `json:"key"`
		Value       string   `json:"value"`
		Importance  float64  `json:"importance"`
		Category    string   `json:"category"`
		Tags        []string `json:"tags,omitempty"`
		AccessCount int      `json:"access_count"`
		CreatedAt   string   `json:"created_at"`
	}
	out := make([]exported, 0, len(keys))
	for _, k := range keys {
		f := all[k]
		out = append(out, exported{
			Key:         f.Key,
			Value:       f.Value,
			Importance:  f.Importance,
			Category:    f.Category,
			Tags:        f.Tags,
			AccessCount: f.AccessCount,
			CreatedAt:   f.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return json.MarshalIndent(out, "", "  ")
}
