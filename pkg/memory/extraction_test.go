package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCandidate(cs []Candidate, substr string) (Candidate, bool) {
	for _, c := range cs {
		if strings.Contains(strings.ToLower(c.Content), strings.ToLower(substr)) {
			return c, true
		}
	}
	return Candidate{}, false
}

func TestExtractUserContentCandidates_QuestionAvoidsFactCapture(t *testing.T) {
	cs := extractUserContentCandidates("Do I like TypeScript?")
	for _, c := range cs {
		if c.Category == string(CategoryPreferences) || c.Category == string(CategoryPersonalFacts) {
			t.Fatalf("unexpected fact capture for question-only input: %+v", c)
		}
	}
}

func TestExtractUserContentCandidates_DeclarativeFactCapture(t *testing.T) {
	cs := extractUserContentCandidates("My name is Alex and my timezone is America/Chicago.")
	name, ok := findCandidate(cs, "name is alex")
	if !ok {
		t.Fatalf("expected identity capture, got %+v", cs)
	}
	if name.Content != "User's name is Alex" || name.Importance != string(ImportanceHigh) {
		t.Fatalf("unexpected identity candidate: %+v", name)
	}
	if _, ok := findCandidate(cs, "america/chicago"); !ok {
		t.Fatalf("expected timezone capture, got %+v", cs)
	}
}

func TestExtractUserContentCandidates_QuestionWithPersistenceCueStillCaptures(t *testing.T) {
	cs := extractUserContentCandidates("Can you remember this: my name is Alex?")
	if _, ok := findCandidate(cs, "name is alex"); !ok {
		t.Fatalf("expected identity capture when explicit persistence cue is present; got %+v", cs)
	}
}

func TestExtractUserContentCandidates_TaskGoesToSession(t *testing.T) {
	cs := extractUserContentCandidates("Please remind me to renew the passport before June")
	task, ok := findCandidate(cs, "open task intent")
	require.True(t, ok, "%+v", cs)
	assert.Equal(t, string(CategoryGoals), task.Category)
	assert.Equal(t, string(BucketSession), task.Type)
}

func TestClassifyFact(t *testing.T) {
	assert.Equal(t, CategoryPreferences, classifyFact("I really like spicy ramen"))
	assert.Equal(t, CategoryGoals, classifyFact("I want to learn Rust this year"))
	assert.Equal(t, CategoryProjects, classifyFact("I maintain a home automation server"))
	assert.Equal(t, CategorySkills, classifyFact("I studied linear algebra"))
	assert.Equal(t, CategoryPersonalFacts, classifyFact("I live in Porto"))
}

func TestHeuristicExtractor_OnlyReadsUserBlocks(t *testing.T) {
	transcript := FormatTranscript([]Message{
		{Role: "user", Content: "I prefer window seats on long flights"},
	}, "I love that you prefer window seats")

	cs, err := NewHeuristicExtractor().Extract(context.Background(), transcript)
	require.NoError(t, err)
	require.NotEmpty(t, cs)
	for _, c := range cs {
		assert.NotContains(t, strings.ToLower(c.Content), "that you prefer")
	}
	pref, ok := findCandidate(cs, "window seats")
	require.True(t, ok)
	assert.Equal(t, string(CategoryPreferences), pref.Category)

	// every heuristic candidate must survive validation or be cleanly rejected
	p := NewDefaultPolicy()
	for _, c := range cs {
		if _, err := p.Validate(c); err != nil {
			assert.ErrorIs(t, err, ErrValidation)
		}
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript([]Message{
		{Role: "user", Content: "Hi, my name is John"},
		{Role: "system", Content: "be nice"},
	}, "Nice to meet you John!")
	want := "USER: Hi, my name is John\n\nSYSTEM: be nice\n\nASSISTANT: Nice to meet you John!"
	assert.Equal(t, want, got)
}

func TestFormatTranscript_TrimsContent(t *testing.T) {
	got := FormatTranscript([]Message{
		{Role: " user ", Content: "\n  I live in Porto  \t"},
	}, "  Noted.\n")
	assert.Equal(t, "USER: I live in Porto\n\nASSISTANT: Noted.", got)
}

func TestFingerprint(t *testing.T) {
	msgs := []Message{{Role: "user", Content: "Hi, my name is John"}}
	a := Fingerprint(msgs, "Nice to meet you John!")
	b := Fingerprint([]Message{{Role: "assistant", Content: "Hi, my name is John"}}, "Nice to meet you John!")
	c := Fingerprint(msgs, "Nice to meet you Jane!")
	assert.Equal(t, a, b, "role does not participate in the fingerprint")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
