package turn

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/murshid-dev/murshid/internal/history"
	"github.com/murshid-dev/murshid/internal/llm"
	"github.com/murshid-dev/murshid/internal/retrieval"
)

type stubRetriever struct {
	chunks []retrieval.Chunk
	err    error
	calls  int
	block  bool
}

func (r *stubRetriever) RelevantChunks(ctx context.Context, _ string, _ int) ([]retrieval.Chunk, error) {
	r.calls++
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.chunks, r.err
}

type stubGenerator struct {
	answer        llm.Answer
	answerErr     error
	completion    string
	completeErr   error
	generateCalls int
	completeCalls int
	lastPrompt    string
}

func (g *stubGenerator) GenerateAnswer(_ context.Context, _ []retrieval.Chunk, _ string, _ []history.Turn, _ string) (llm.Answer, error) {
	g.generateCalls++
	return g.answer, g.answerErr
}

func (g *stubGenerator) Complete(_ context.Context, prompt string) (string, error) {
	g.completeCalls++
	g.lastPrompt = prompt
	return g.completion, g.completeErr
}

type stubSynthesizer struct {
	err   error
	texts []string
}

func (s *stubSynthesizer) Synthesize(_ context.Context, text, dst string) error {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dst, []byte("wav"), 0o644)
}

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, history.Store) {
	t.Helper()
	store, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	opts.Store = store
	if opts.Synthesizer == nil {
		opts.Synthesizer = &stubSynthesizer{}
	}
	if opts.AudioDir == "" {
		opts.AudioDir = t.TempDir()
	}
	return NewOrchestrator(opts), store
}

func TestTypingSimulation(t *testing.T) {
	if got := TypingSimulation(""); len(got) != 0 {
		t.Fatalf("TypingSimulation(\"\") = %v, want empty", got)
	}
	got := TypingSimulation("abc")
	want := []string{"a", "ab", "abc"}
	if len(got) != len(want) {
		t.Fatalf("prefix count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prefix %d = %q, want %q", i, got[i], want[i])
		}
	}

	arabic := TypingSimulation("مرحبا")
	if len(arabic) != 5 {
		t.Fatalf("arabic prefix count = %d, want 5", len(arabic))
	}
	if arabic[len(arabic)-1] != "مرحبا" {
		t.Fatalf("last prefix = %q, want full text", arabic[len(arabic)-1])
	}
}

func TestHandleTurnGreetingEnglish(t *testing.T) {
	ctx := context.Background()
	retr := &stubRetriever{}
	o, store := newTestOrchestrator(t, Options{
		Retriever: retr,
		Rand:      func(int) int { return 2 },
	})

	res, err := o.HandleTurn(ctx, "alice", "", "hello", nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Answer != greetingResponsesEN[2] {
		t.Fatalf("answer = %q, want greeting response", res.Answer)
	}
	if res.Citation != "" {
		t.Fatalf("citation = %q, want empty", res.Citation)
	}
	if retr.calls != 0 {
		t.Fatalf("retriever called %d times for a greeting, want 0", retr.calls)
	}
	if res.SessionID == "" || len(res.SessionID) != 32 {
		t.Fatalf("session id = %q, want 32-char hex", res.SessionID)
	}
	if !strings.HasPrefix(res.AudioURL, "/audio/") || !strings.HasSuffix(res.AudioURL, "_out.wav") {
		t.Fatalf("audio url = %q", res.AudioURL)
	}

	turns, err := store.History(ctx, "alice", res.SessionID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("history length = %d, want 2", len(turns))
	}
	if turns[0].Role != history.RoleUser || turns[1].Role != history.RoleAssistant {
		t.Fatalf("roles = %q, %q", turns[0].Role, turns[1].Role)
	}
	if turns[1].AudioURL != res.AudioURL {
		t.Fatalf("persisted audio url = %q, want %q", turns[1].AudioURL, res.AudioURL)
	}
}

func TestHandleTurnGreetingArabic(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{
		Retriever: &stubRetriever{},
		Rand:      func(int) int { return 0 },
	})
	res, err := o.HandleTurn(context.Background(), "alice", "", "مرحبا", nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Answer != greetingResponsesAR[0] {
		t.Fatalf("answer = %q, want arabic greeting response", res.Answer)
	}
}

func TestHandleTurnNoChunksSaysDontKnow(t *testing.T) {
	gen := &stubGenerator{}
	o, _ := newTestOrchestrator(t, Options{
		Retriever: &stubRetriever{},
		Generator: gen,
	})

	res, err := o.HandleTurn(context.Background(), "alice", "", "What is the boiling point of water?", nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Answer != "Sorry, I don't know." {
		t.Fatalf("answer = %q", res.Answer)
	}
	if gen.generateCalls != 0 {
		t.Fatalf("generator called %d times with no chunks, want 0", gen.generateCalls)
	}

	res, err = o.HandleTurn(context.Background(), "alice", "", "ما هي عاصمة مصر؟", nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Answer != "عذراً، لا أعرف." {
		t.Fatalf("arabic answer = %q", res.Answer)
	}
}

func TestHandleTurnGeneratedAnswer(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{answer: llm.Answer{Text: "Water boils at 100C.", Citation: "chemistry ch2"}}
	o, store := newTestOrchestrator(t, Options{
		Retriever: &stubRetriever{chunks: []retrieval.Chunk{{Content: "boiling point", Source: "chemistry ch2"}}},
		Generator: gen,
	})

	res, err := o.HandleTurn(ctx, "alice", "", "What is the boiling point of water?", nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Answer != "Water boils at 100C." || res.Citation != "chemistry ch2" {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Typing) != len([]rune(res.Answer)) {
		t.Fatalf("typing prefixes = %d, want %d", len(res.Typing), len([]rune(res.Answer)))
	}

	turns, err := store.History(ctx, "alice", res.SessionID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 || turns[1].Citation != "chemistry ch2" {
		t.Fatalf("persisted turns = %+v", turns)
	}
}

func TestHandleTurnBlankQuestion(t *testing.T) {
	retr := &stubRetriever{}
	o, _ := newTestOrchestrator(t, Options{Retriever: retr})

	res, err := o.HandleTurn(context.Background(), "alice", "", "   ", nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if res.Answer != "Sorry, I couldn't understand the question." {
		t.Fatalf("answer = %q", res.Answer)
	}
	if retr.calls != 0 {
		t.Fatalf("retriever called %d times for blank question, want 0", retr.calls)
	}
}

func TestHandleTurnCollaboratorTimeout(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{
		Retriever:           &stubRetriever{block: true},
		CollaboratorTimeout: 10 * time.Millisecond,
	})

	_, err := o.HandleTurn(context.Background(), "alice", "", "slow question", nil)
	if !errors.Is(err, ErrCollaboratorTimeout) {
		t.Fatalf("HandleTurn() error = %v, want ErrCollaboratorTimeout", err)
	}
}

func TestHandleTurnSecondAppendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOrchestrator(t, Options{
		Retriever: &stubRetriever{},
		Rand:      func(int) int { return 0 },
	})

	first, err := o.HandleTurn(ctx, "alice", "", "hello", nil)
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if _, err := o.HandleTurn(ctx, "alice", first.SessionID, "hi", nil); err != nil {
		t.Fatalf("second HandleTurn() error = %v", err)
	}

	turns, err := store.History(ctx, "alice", first.SessionID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("history length = %d, want 4", len(turns))
	}
	if turns[0].Text != "hello" || turns[2].Text != "hi" {
		t.Fatalf("turns out of order: %+v", turns)
	}
}

func TestTranslateFallsBackToInputOnError(t *testing.T) {
	gen := &stubGenerator{completeErr: errors.New("model down")}
	o, _ := newTestOrchestrator(t, Options{Generator: gen})

	tr, err := o.Translate(context.Background(), "good morning")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if tr.Text != "good morning" {
		t.Fatalf("translation = %q, want input unchanged", tr.Text)
	}
	if tr.Citation != TranslationCitation {
		t.Fatalf("citation = %q", tr.Citation)
	}
	if !strings.Contains(gen.lastPrompt, "into Arabic") {
		t.Fatalf("prompt did not target arabic: %q", gen.lastPrompt)
	}
}

func TestTranslateSynthesisFailureLeavesAudioEmpty(t *testing.T) {
	gen := &stubGenerator{completion: "صباح الخير"}
	o, _ := newTestOrchestrator(t, Options{
		Generator:   gen,
		Synthesizer: &stubSynthesizer{err: errors.New("engine down")},
	})

	tr, err := o.Translate(context.Background(), "good morning")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if tr.Text != "صباح الخير" {
		t.Fatalf("translation = %q", tr.Text)
	}
	if tr.AudioURL != "" {
		t.Fatalf("audio url = %q, want empty after synthesis failure", tr.AudioURL)
	}
}

func TestTranslateArabicTargetsEnglish(t *testing.T) {
	gen := &stubGenerator{completion: "Good morning"}
	o, _ := newTestOrchestrator(t, Options{Generator: gen})

	tr, err := o.Translate(context.Background(), "صباح الخير")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if tr.Text != "Good morning" {
		t.Fatalf("translation = %q", tr.Text)
	}
	if !strings.Contains(gen.lastPrompt, "into English") {
		t.Fatalf("prompt did not target english: %q", gen.lastPrompt)
	}
	if !strings.HasSuffix(tr.AudioURL, "_trans.wav") {
		t.Fatalf("audio url = %q", tr.AudioURL)
	}
}

func TestAutoTitleStoresGeneratedName(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{completion: "Algebra Basics"}
	o, store := newTestOrchestrator(t, Options{Generator: gen})

	si, err := store.CreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.AppendTurns(ctx, "alice", si.ID, []history.Turn{
		{Role: history.RoleUser, Text: "what is x in 2x=4"},
		{Role: history.RoleAssistant, Text: "x is 2"},
	}); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}

	title, err := o.AutoTitle(ctx, "alice", si.ID)
	if err != nil {
		t.Fatalf("AutoTitle() error = %v", err)
	}
	if title != "Algebra Basics" {
		t.Fatalf("title = %q", title)
	}
	if !strings.Contains(gen.lastPrompt, "User: what is x in 2x=4") {
		t.Fatalf("prompt missing transcript: %q", gen.lastPrompt)
	}

	sessions, err := store.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != "Algebra Basics" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestAutoTitleFallsBackToDefaultName(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{completeErr: errors.New("model down")}
	o, store := newTestOrchestrator(t, Options{Generator: gen})

	si, err := store.CreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	title, err := o.AutoTitle(ctx, "alice", si.ID)
	if err != nil {
		t.Fatalf("AutoTitle() error = %v", err)
	}
	if title != history.DefaultName(si.ID) {
		t.Fatalf("title = %q, want default name", title)
	}
}

func TestAutoTitleUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{Generator: &stubGenerator{}})
	if _, err := o.AutoTitle(context.Background(), "alice", "missing"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("AutoTitle() error = %v, want ErrNotFound", err)
	}
}
