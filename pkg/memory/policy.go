package memory

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minContentRunes   = 11
	minTranscriptLen  = 50
	keywordFallbackN  = 5
	defaultQueryLimit = 10
)

var genericConversationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you|ok|okay|yes|no)$`),
	regexp.MustCompile(`(?i)^(how are you|what's up|good morning|good afternoon)$`),
}

// DefaultPolicy holds the capture, validation and routing rules.
type DefaultPolicy struct{}

func NewDefaultPolicy() *DefaultPolicy { return &DefaultPolicy{} }

// ShouldExtract reports whether a transcript is worth sending to an extractor.
func (p *DefaultPolicy) ShouldExtract(transcript string) bool {
	if utf8.RuneCountInString(transcript) < minTranscriptLen {
		return false
	}
	return !isGenericConversation(transcript)
}

// Validate normalizes a candidate into a Record. The returned error wraps
// ErrValidation. Id and timestamp are left for the caller to assign.
func (p *DefaultPolicy) Validate(c Candidate) (Record, error) {
	content := strings.TrimSpace(c.Content)
	if utf8.RuneCountInString(content) < minContentRunes {
		return Record{}, fmt.Errorf("%w: content shorter than %d characters", ErrValidation, minContentRunes)
	}
	category, ok := parseCategory(c.Category)
	if !ok {
		return Record{}, fmt.Errorf("%w: unknown category %q", ErrValidation, c.Category)
	}
	importance, ok := parseImportance(c.Importance)
	if !ok {
		return Record{}, fmt.Errorf("%w: unknown importance %q", ErrValidation, c.Importance)
	}
	rec := Record{
		Content:    content,
		Category:   category,
		Importance: importance,
		Type:       parseBucket(c.Type),
	}
	rec.Type = p.Route(rec)
	return rec, nil
}

// Route picks the retention bucket. High importance always lands in the
// user bucket.
func (p *DefaultPolicy) Route(rec Record) Bucket {
	if rec.Type == BucketUser || rec.Importance == ImportanceHigh {
		return BucketUser
	}
	return BucketSession
}

// ParseBucket accepts "user" or "session" in any case.
func ParseBucket(kind string) (Bucket, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case string(BucketUser):
		return BucketUser, nil
	case string(BucketSession):
		return BucketSession, nil
	default:
		return "", fmt.Errorf("%w: %q (want user or session)", ErrInvalidKind, kind)
	}
}

func parseBucket(s string) Bucket {
	if strings.EqualFold(strings.TrimSpace(s), string(BucketUser)) {
		return BucketUser
	}
	return BucketSession
}

func parseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// parseImportance defaults an absent value to low and rejects anything
// outside high, medium and low.
func parseImportance(s string) (Importance, bool) {
	switch Importance(strings.ToLower(strings.TrimSpace(s))) {
	case "", ImportanceLow:
		return ImportanceLow, true
	case ImportanceMedium:
		return ImportanceMedium, true
	case ImportanceHigh:
		return ImportanceHigh, true
	default:
		return "", false
	}
}

func isGenericConversation(text string) bool {
	text = strings.TrimSpace(text)
	for _, re := range genericConversationPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
