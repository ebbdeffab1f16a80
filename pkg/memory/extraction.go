package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	prefRegex                         = regexp.MustCompile(`(?i)\b(i (?:really )?(?:like|love|prefer|hate|dislike)\b[^.!?\n]*)`)
	identityRegex                     = regexp.MustCompile(`(?i)\b(?:my name is|call me)\s+([A-Za-z0-9 _\-]{2,50})`)
	timezoneRegex                     = regexp.MustCompile(`(?i)\b(?:my timezone is|timezone is|time zone is)\s+([A-Za-z0-9_\-/:+ ]{2,80})`)
	taskStateRegex                    = regexp.MustCompile(`(?i)\b(remind me|schedule|todo|task|deadline)\b([^.!?\n]*)`)
	extractionLikelyQuestionLeadRegex = regexp.MustCompile(`(?i)^\s*(?:what|why|how|when|where|who|can|could|would|do|does|did|is|are|am|if|whether)\b`)
	extractionPersistenceCueRegex     = regexp.MustCompile(`(?i)\b(?:remember|note|save|store|track|my name is|my timezone is|call me)\b`)

	firstPersonVerbFactRegex = regexp.MustCompile(`(?i)\b(i (?:am|i'm|have|had|use|used|work on|work with|build|built|maintain|maintained|live in|lived in|read|reading|need|needed|want|wanted|prefer|like|love|hate|dislike|got|keep|own|run|study|studied)\b[^.!?\n]{4,180})`)
	sentenceSplitRegex       = regexp.MustCompile(`[.!?\n;]+`)
	firstPersonLeadRegex     = regexp.MustCompile(`(?i)^(?:i|i'm|i am|my)\b`)
	hedgedLeadRegex          = regexp.MustCompile(`(?i)^i (?:think|guess|wonder|hope|suppose|feel)\b`)
	goalLeadRegex            = regexp.MustCompile(`(?i)^i (?:want|wanted|need|needed|plan|hope to)\b`)
	skillLeadRegex           = regexp.MustCompile(`(?i)^i (?:know|studied|study|speak|can)\b`)
	projectLeadRegex         = regexp.MustCompile(`(?i)^i (?:work on|build|built|maintain|maintained|run)\b`)
	identityTrailRegex       = regexp.MustCompile(`(?i)\s+(?:and|but|so|because)\b.*$`)
)

const userRolePrefix = "USER:"

// FormatTranscript renders messages then the assistant response as
// "ROLE: content" blocks separated by a blank line. Contents are trimmed.
func FormatTranscript(messages []Message, response string) string {
	parts := make([]string, 0, len(messages)+1)
	for _, m := range messages {
		parts = append(parts, strings.ToUpper(strings.TrimSpace(m.Role))+": "+strings.TrimSpace(m.Content))
	}
	parts = append(parts, "ASSISTANT: "+strings.TrimSpace(response))
	return strings.Join(parts, "\n\n")
}

// Fingerprint is a stable digest of a turn's message contents and response.
func Fingerprint(messages []Message, response string) string {
	h := sha256.New()
	for _, m := range messages {
		_, _ = h.Write([]byte(m.Content))
	}
	_, _ = h.Write([]byte(response))
	return hex.EncodeToString(h.Sum(nil))
}

// HeuristicExtractor pulls first-person facts out of the user side of a
// transcript with regular expressions. It needs no network access.
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

func (e *HeuristicExtractor) Name() string { return "heuristic" }

func (e *HeuristicExtractor) Extract(_ context.Context, transcript string) ([]Candidate, error) {
	out := []Candidate{}
	seen := map[string]struct{}{}
	add := func(c Candidate) {
		key := strings.ToLower(c.Content)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	for _, content := range userContents(transcript) {
		for _, c := range extractUserContentCandidates(content) {
			add(c)
		}
	}
	return out, nil
}

func userContents(transcript string) []string {
	blocks := strings.Split(transcript, "\n\n")
	out := make([]string, 0, len(blocks))
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if !strings.HasPrefix(strings.ToUpper(block), userRolePrefix) {
			continue
		}
		out = append(out, strings.TrimSpace(block[len(userRolePrefix):]))
	}
	return out
}

func extractUserContentCandidates(content string) []Candidate {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	skipFactCapture := isLikelyQuestionForMemory(content) && !extractionPersistenceCueRegex.MatchString(content)

	out := []Candidate{}
	if !skipFactCapture {
		for _, m := range identityRegex.FindAllStringSubmatch(content, -1) {
			identity := normalizeEntityPhrase(identityTrailRegex.ReplaceAllString(m[1], ""))
			if len(identity) < 2 {
				continue
			}
			out = append(out, Candidate{
				Content:    "User's name is " + identity,
				Category:   string(CategoryPersonalFacts),
				Importance: string(ImportanceHigh),
				Type:       string(BucketUser),
			})
		}

		for _, m := range timezoneRegex.FindAllStringSubmatch(content, -1) {
			tz := normalizeEntityPhrase(m[1])
			if tz == "" {
				continue
			}
			out = append(out, Candidate{
				Content:    "User timezone/location: " + tz,
				Category:   string(CategoryPersonalFacts),
				Importance: string(ImportanceMedium),
				Type:       string(BucketUser),
			})
		}

		for _, phrase := range ExtractFactSignals(content) {
			out = append(out, Candidate{
				Content:    phrase,
				Category:   string(classifyFact(phrase)),
				Importance: string(ImportanceMedium),
				Type:       string(BucketUser),
			})
		}
	}

	for _, m := range taskStateRegex.FindAllStringSubmatch(content, -1) {
		task := normalizeEntityPhrase(strings.Join(m[1:], " "))
		if task == "" {
			continue
		}
		out = append(out, Candidate{
			Content:    "Open task intent: " + task,
			Category:   string(CategoryGoals),
			Importance: string(ImportanceLow),
			Type:       string(BucketSession),
		})
	}
	return out
}

func classifyFact(phrase string) Category {
	lower := strings.ToLower(phrase)
	switch {
	case isPreferencePhrase(" " + lower + " "):
		return CategoryPreferences
	case goalLeadRegex.MatchString(lower):
		return CategoryGoals
	case projectLeadRegex.MatchString(lower):
		return CategoryProjects
	case skillLeadRegex.MatchString(lower):
		return CategorySkills
	default:
		return CategoryPersonalFacts
	}
}

// ExtractFactSignals emits normalized first-person factual statements from user text.
func ExtractFactSignals(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	seen := map[string]struct{}{}
	out := []string{}
	add := func(value string) {
		value = normalizeEntityPhrase(value)
		if value == "" {
			return
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}

	for _, m := range prefRegex.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range firstPersonVerbFactRegex.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, clause := range extractFirstPersonClauses(content) {
		add(clause)
	}

	if len(out) > 16 {
		out = out[:16]
	}
	return out
}

func extractFirstPersonClauses(content string) []string {
	parts := sentenceSplitRegex.Split(content, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = normalizeEntityPhrase(part)
		if part == "" {
			continue
		}
		lower := strings.ToLower(part)
		if len(lower) < 8 || !firstPersonLeadRegex.MatchString(lower) || hedgedLeadRegex.MatchString(lower) {
			continue
		}
		out = append(out, part)
	}
	if len(out) > 20 {
		out = out[:20]
	}
	return out
}

func isPreferencePhrase(phrase string) bool {
	lower := strings.ToLower(phrase)
	return strings.Contains(lower, " like ") ||
		strings.Contains(lower, " love ") ||
		strings.Contains(lower, " prefer ") ||
		strings.Contains(lower, " dislike ") ||
		strings.Contains(lower, " hate ")
}

func normalizeEntityPhrase(in string) string {
	in = strings.Trim(strings.TrimSpace(in), " .,!?:;\"'")
	if len(in) < 2 {
		return ""
	}
	if len(in) > 180 {
		in = strings.TrimSpace(in[:180])
	}
	return in
}

func isLikelyQuestionForMemory(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	if strings.Contains(content, "?") {
		return true
	}
	return extractionLikelyQuestionLeadRegex.MatchString(content)
}
