package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/murshid-dev/murshid/internal/config"
	"github.com/murshid-dev/murshid/internal/history"
	"github.com/murshid-dev/murshid/internal/llm"
	"github.com/murshid-dev/murshid/internal/retrieval"
	"github.com/murshid-dev/murshid/internal/turn"
)

type fixedRetriever struct {
	chunks []retrieval.Chunk
}

func (r fixedRetriever) RelevantChunks(context.Context, string, int) ([]retrieval.Chunk, error) {
	return r.chunks, nil
}

type fixedGenerator struct {
	answer     llm.Answer
	completion string
}

func (g fixedGenerator) GenerateAnswer(context.Context, []retrieval.Chunk, string, []history.Turn, string) (llm.Answer, error) {
	return g.answer, nil
}

func (g fixedGenerator) Complete(context.Context, string) (string, error) {
	return g.completion, nil
}

type fileSynthesizer struct{}

func (fileSynthesizer) Synthesize(_ context.Context, _, dst string) error {
	return os.WriteFile(dst, []byte("RIFF"), 0o644)
}

type testEnv struct {
	ts    *httptest.Server
	store history.Store
}

func newTestEnv(t *testing.T, retr retrieval.Retriever, gen turn.Generator) testEnv {
	t.Helper()
	cfg := config.Config{
		AudioDir:  t.TempDir(),
		StaticDir: t.TempDir(),
	}
	store, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	orch := turn.NewOrchestrator(turn.Options{
		Retriever:   retr,
		Generator:   gen,
		Synthesizer: fileSynthesizer{},
		Store:       store,
		AudioDir:    cfg.AudioDir,
	})
	srv := New(cfg, orch, store, nil, nil, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testEnv{ts: ts, store: store}
}

func postChat(t *testing.T, env testEnv, question, sessionID string) chatResponse {
	t.Helper()
	form := url.Values{"question": {question}}
	if sessionID != "" {
		form.Set("session_id", sessionID)
	}
	res, err := http.Post(env.ts.URL+"/chat/", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST /chat/ error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		t.Fatalf("chat status = %d, body %s", res.StatusCode, body)
	}
	var out chatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	return out
}

func TestChatGreetingEnglish(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{})

	out := postChat(t, env, "hello", "")
	found := false
	for _, want := range turn.GreetingResponses("en") {
		if out.Answer == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("answer %q is not a fixed greeting response", out.Answer)
	}
	if out.Citation != "" {
		t.Fatalf("citation = %q, want empty", out.Citation)
	}
	if out.AvatarWaiting != "/static/avatar waiting.mp4" || out.AvatarSpeaking != "/static/avatar talking.mp4" {
		t.Fatalf("avatar paths = %q, %q", out.AvatarWaiting, out.AvatarSpeaking)
	}
	if len(out.TypingSimulation) != len([]rune(out.Answer)) {
		t.Fatalf("typing prefixes = %d, want %d", len(out.TypingSimulation), len([]rune(out.Answer)))
	}

	// The synthesized answer must be fetchable at its advertised URL.
	audioRes, err := http.Get(env.ts.URL + out.AudioURL)
	if err != nil {
		t.Fatalf("GET %s error = %v", out.AudioURL, err)
	}
	defer audioRes.Body.Close()
	if audioRes.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d, want 200", audioRes.StatusCode)
	}
}

func TestChatGreetingArabic(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{})

	out := postChat(t, env, "مرحبا", "")
	found := false
	for _, want := range turn.GreetingResponses("ar") {
		if out.Answer == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("answer %q is not a fixed arabic greeting response", out.Answer)
	}
}

func TestChatNoChunksSaysDontKnow(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{})

	out := postChat(t, env, "What is the boiling point of water?", "")
	if out.Answer != "Sorry, I don't know." {
		t.Fatalf("answer = %q", out.Answer)
	}
	if out.Citation != "" {
		t.Fatalf("citation = %q, want empty", out.Citation)
	}
}

func TestChatTwoTurnsHistory(t *testing.T) {
	env := newTestEnv(t,
		fixedRetriever{chunks: []retrieval.Chunk{{Content: "water boils at 100C", Source: "ch2"}}},
		fixedGenerator{answer: llm.Answer{Text: "At 100C.", Citation: "ch2"}},
	)

	first := postChat(t, env, "boiling point?", "")
	if first.SessionID == "" {
		t.Fatalf("missing session id in chat response")
	}
	postChat(t, env, "and freezing?", first.SessionID)

	res, err := http.Get(env.ts.URL + "/sessions/" + first.SessionID + "/history")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	defer res.Body.Close()
	var out struct {
		History []history.Turn `json:"history"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(out.History) != 4 {
		t.Fatalf("history length = %d, want 4", len(out.History))
	}
	wantRoles := []string{history.RoleUser, history.RoleAssistant, history.RoleUser, history.RoleAssistant}
	for i, want := range wantRoles {
		if out.History[i].Role != want {
			t.Fatalf("turn %d role = %q, want %q", i, out.History[i].Role, want)
		}
	}
	if out.History[1].Citation != "ch2" {
		t.Fatalf("assistant citation = %q, want ch2", out.History[1].Citation)
	}
}

func TestSessionRenameShowsInList(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{})

	res, err := http.Post(env.ts.URL+"/sessions/new", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /sessions/new error = %v", err)
	}
	var created map[string]string
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	res.Body.Close()
	id := created["session_id"]
	if id == "" {
		t.Fatalf("missing session_id: %+v", created)
	}

	body, _ := json.Marshal(map[string]string{"name": "My Topic"})
	renameRes, err := http.Post(env.ts.URL+"/sessions/"+id+"/rename", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("rename request error = %v", err)
	}
	renameRes.Body.Close()
	if renameRes.StatusCode != http.StatusOK {
		t.Fatalf("rename status = %d, want 200", renameRes.StatusCode)
	}

	listRes, err := http.Get(env.ts.URL + "/sessions/")
	if err != nil {
		t.Fatalf("GET /sessions/ error = %v", err)
	}
	defer listRes.Body.Close()
	var listed struct {
		Sessions []history.SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(listRes.Body).Decode(&listed); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(listed.Sessions) != 1 || listed.Sessions[0].Name != "My Topic" {
		t.Fatalf("sessions = %+v", listed.Sessions)
	}
}

func TestRenameValidationErrors(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{})

	body, _ := json.Marshal(map[string]string{"name": "anything"})
	res, err := http.Post(env.ts.URL+"/sessions/missing/rename", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("rename request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("rename missing status = %d, want 404", res.StatusCode)
	}

	createRes, err := http.Post(env.ts.URL+"/sessions/new", "application/json", nil)
	if err != nil {
		t.Fatalf("create request error = %v", err)
	}
	var created map[string]string
	if err := json.NewDecoder(createRes.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	createRes.Body.Close()

	body, _ = json.Marshal(map[string]string{"name": "  "})
	emptyRes, err := http.Post(env.ts.URL+"/sessions/"+created["session_id"]+"/rename", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("rename request error = %v", err)
	}
	emptyRes.Body.Close()
	if emptyRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("rename empty status = %d, want 400", emptyRes.StatusCode)
	}
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{})

	createRes, err := http.Post(env.ts.URL+"/sessions/new", "application/json", nil)
	if err != nil {
		t.Fatalf("create request error = %v", err)
	}
	var created map[string]string
	if err := json.NewDecoder(createRes.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	createRes.Body.Close()

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodDelete, env.ts.URL+"/sessions/"+created["session_id"]+"/delete", nil)
		if err != nil {
			t.Fatalf("build delete request: %v", err)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete request error = %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("delete attempt %d status = %d, want 200", i+1, res.StatusCode)
		}
	}
}

func TestTranslateEndpoint(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{completion: "صباح الخير"})

	body, _ := json.Marshal(map[string]string{"text": "good morning"})
	res, err := http.Post(env.ts.URL+"/translate/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /translate/ error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("translate status = %d, want 200", res.StatusCode)
	}
	var out translateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode translate response: %v", err)
	}
	if out.Translation != "صباح الخير" {
		t.Fatalf("translation = %q", out.Translation)
	}
	if out.Citation != turn.TranslationCitation {
		t.Fatalf("citation = %q", out.Citation)
	}
	if !strings.HasSuffix(out.AudioURL, "_trans.wav") {
		t.Fatalf("audio url = %q", out.AudioURL)
	}
}

func TestAutoSummaryEndpoint(t *testing.T) {
	env := newTestEnv(t,
		fixedRetriever{chunks: []retrieval.Chunk{{Content: "algebra"}}},
		fixedGenerator{answer: llm.Answer{Text: "x is 2"}, completion: "Solving For X"},
	)

	first := postChat(t, env, "what is x in 2x=4", "")
	res, err := http.Post(env.ts.URL+"/sessions/"+first.SessionID+"/autosummary", "application/json", nil)
	if err != nil {
		t.Fatalf("autosummary request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("autosummary status = %d, want 200", res.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode autosummary response: %v", err)
	}
	if out["name"] != "Solving For X" {
		t.Fatalf("name = %q", out["name"])
	}

	missingRes, err := http.Post(env.ts.URL+"/sessions/missing/autosummary", "application/json", nil)
	if err != nil {
		t.Fatalf("autosummary request error = %v", err)
	}
	missingRes.Body.Close()
	if missingRes.StatusCode != http.StatusNotFound {
		t.Fatalf("autosummary missing status = %d, want 404", missingRes.StatusCode)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{})

	form := url.Values{"question": {"hello"}}
	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/chat/", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("build chat request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-User-ID", "alice@example.com")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("chat request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want 200", res.StatusCode)
	}

	// The anonymous caller must not see alice's session.
	listRes, err := http.Get(env.ts.URL + "/sessions/")
	if err != nil {
		t.Fatalf("GET /sessions/ error = %v", err)
	}
	defer listRes.Body.Close()
	var listed struct {
		Sessions []history.SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(listRes.Body).Decode(&listed); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(listed.Sessions) != 0 {
		t.Fatalf("anonymous sessions = %+v, want none", listed.Sessions)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, fixedRetriever{}, fixedGenerator{})
	res, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", res.StatusCode)
	}
}
