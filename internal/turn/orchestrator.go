package turn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/murshid-dev/murshid/internal/history"
	"github.com/murshid-dev/murshid/internal/lang"
	"github.com/murshid-dev/murshid/internal/llm"
	"github.com/murshid-dev/murshid/internal/observability"
	"github.com/murshid-dev/murshid/internal/retrieval"
	"github.com/murshid-dev/murshid/internal/stt"
)

// ErrCollaboratorTimeout reports that an external collaborator did not
// answer within the configured deadline.
var ErrCollaboratorTimeout = errors.New("collaborator timed out")

// Generator is the slice of the generation collaborator the
// orchestrator needs: grounded answering plus raw prompt completion
// for translation and titling.
type Generator interface {
	GenerateAnswer(ctx context.Context, chunks []retrieval.Chunk, question string, chatHistory []history.Turn, targetLang string) (llm.Answer, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// Synthesizer writes the spoken form of text to dst.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, dst string) error
}

// Normalizer converts an uploaded blob toward the canonical waveform,
// returning the path the transcriber should read.
type Normalizer interface {
	NormalizeUpload(ctx context.Context, src, dst string) string
}

// Result is one completed turn as returned to the caller.
type Result struct {
	SessionID  string
	Transcript string
	Answer     string
	Citation   string
	AudioURL   string
	Typing     []string
}

// Translation is the outcome of a translate call. AudioURL is empty
// when synthesis of the translated text failed.
type Translation struct {
	Text     string
	Citation string
	AudioURL string
}

type Options struct {
	Classifier  *lang.Classifier
	Retriever   retrieval.Retriever
	Generator   Generator
	Synthesizer Synthesizer
	Transcriber stt.Transcriber
	Converter   Normalizer
	Store       history.Store
	Metrics     *observability.Metrics
	Logger      *zap.Logger

	// Rand picks the greeting response index; seedable for tests.
	Rand func(n int) int

	AudioDir string
	TopK     int

	// CollaboratorTimeout bounds each external call. Zero disables the
	// per-call deadline.
	CollaboratorTimeout time.Duration
}

// Orchestrator drives one question through detection, classification,
// retrieval, generation, synthesis, and persistence.
type Orchestrator struct {
	classifier  *lang.Classifier
	retriever   retrieval.Retriever
	generator   Generator
	synthesizer Synthesizer
	transcriber stt.Transcriber
	converter   Normalizer
	store       history.Store
	metrics     *observability.Metrics
	logger      *zap.Logger
	rand        func(n int) int
	audioDir    string
	topK        int
	timeout     time.Duration
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Classifier == nil {
		opts.Classifier = lang.NewClassifier(lang.DefaultClassifierConfig())
	}
	if opts.Retriever == nil {
		opts.Retriever = retrieval.None{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Intn
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Orchestrator{
		classifier:  opts.Classifier,
		retriever:   opts.Retriever,
		generator:   opts.Generator,
		synthesizer: opts.Synthesizer,
		transcriber: opts.Transcriber,
		converter:   opts.Converter,
		store:       opts.Store,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		rand:        opts.Rand,
		audioDir:    opts.AudioDir,
		topK:        opts.TopK,
		timeout:     opts.CollaboratorTimeout,
	}
}

const (
	outcomeGreeting      = "greeting"
	outcomeAnswered      = "answered"
	outcomeNoKnowledge   = "no_knowledge"
	outcomeNotUnderstood = "not_understood"
)

// HandleTurn runs one full turn for a text question. A blank question
// short-circuits to the fixed not-understood reply; the answer is
// always synthesized and the user/assistant turn pair is appended as
// one write.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID, sessionID, question string, chatHistory []history.Turn) (Result, error) {
	start := time.Now()
	if sessionID == "" {
		sessionID = history.NewSessionID()
	}
	question = strings.TrimSpace(question)
	language := lang.Detect(question)

	var (
		answer   string
		citation string
		outcome  string
	)
	switch {
	case question == "":
		answer = notUnderstoodResponse(language)
		outcome = outcomeNotUnderstood
	case o.classifier.IsGreeting(question):
		set := GreetingResponses(language)
		answer = set[o.rand(len(set))]
		outcome = outcomeGreeting
	default:
		chunks, err := o.retrieve(ctx, question)
		if err != nil {
			return Result{}, err
		}
		if len(chunks) == 0 {
			answer = dontKnowResponse(language)
			outcome = outcomeNoKnowledge
			break
		}
		ans, err := o.generate(ctx, chunks, question, chatHistory, language)
		if err != nil {
			return Result{}, err
		}
		answer, citation = ans.Text, ans.Citation
		outcome = outcomeAnswered
	}

	audioURL, err := o.speak(ctx, answer, "_out.wav")
	if err != nil {
		return Result{}, err
	}

	pair := []history.Turn{
		{Role: history.RoleUser, Text: question},
		{Role: history.RoleAssistant, Text: answer, Citation: citation, AudioURL: audioURL},
	}
	if err := o.store.AppendTurns(ctx, userID, sessionID, pair); err != nil {
		return Result{}, fmt.Errorf("persist turn: %w", err)
	}

	if o.metrics != nil {
		o.metrics.Turns.WithLabelValues(outcome, language).Inc()
		o.metrics.ObserveTurnLatency(time.Since(start))
	}
	o.logger.Info("turn handled",
		zap.String("session_id", sessionID),
		zap.String("outcome", outcome),
		zap.String("language", language),
		zap.Duration("elapsed", time.Since(start)),
	)

	return Result{
		SessionID:  sessionID,
		Transcript: question,
		Answer:     answer,
		Citation:   citation,
		AudioURL:   audioURL,
		Typing:     TypingSimulation(answer),
	}, nil
}

// HandleAudioTurn transcribes an uploaded recording and runs the
// regular turn path with the transcript. Transcription failures
// degrade to an empty question, they never abort the turn.
func (o *Orchestrator) HandleAudioTurn(ctx context.Context, userID, sessionID, uploadPath string, chatHistory []history.Turn) (Result, error) {
	transcript := o.Transcribe(ctx, uploadPath)
	return o.HandleTurn(ctx, userID, sessionID, transcript, chatHistory)
}

// Transcribe converts an uploaded recording to the canonical waveform
// and transcribes it. Any failure is logged and yields an empty
// transcript.
func (o *Orchestrator) Transcribe(ctx context.Context, uploadPath string) string {
	if o.transcriber == nil {
		return ""
	}
	audioPath := uploadPath
	if o.converter != nil {
		wav := strings.TrimSuffix(uploadPath, filepath.Ext(uploadPath)) + ".wav"
		audioPath = o.converter.NormalizeUpload(ctx, uploadPath, wav)
	}
	cctx, cancel := o.collaboratorCtx(ctx)
	defer cancel()
	transcript, err := o.transcriber.Transcribe(cctx, audioPath)
	if err != nil {
		o.logger.Error("transcription failed, treating as empty question", zap.Error(err))
		if o.metrics != nil {
			o.metrics.CollaboratorErrors.WithLabelValues("transcription").Inc()
		}
		return ""
	}
	return strings.TrimSpace(transcript)
}

// Translate detects the source language and translates to the other
// one. A failed completion falls back to the input text; a failed
// synthesis leaves AudioURL empty. Neither failure is surfaced.
func (o *Orchestrator) Translate(ctx context.Context, text string) (Translation, error) {
	target := "en"
	if lang.Detect(text) == "en" {
		target = "ar"
	}

	var b strings.Builder
	if target == "ar" {
		b.WriteString("Translate the following English text into Arabic. Only return the translated text:\n\n")
	} else {
		b.WriteString("Translate the following text into English. Only return the translated text:\n\n")
	}
	b.WriteString(text)
	if target == "ar" {
		b.WriteString("\n\nالترجمة:")
	} else {
		b.WriteString("\n\nTranslation:")
	}

	translation := text
	if o.generator != nil {
		cctx, cancel := o.collaboratorCtx(ctx)
		completed, err := o.generator.Complete(cctx, b.String())
		cancel()
		if err != nil {
			o.logger.Error("translation failed, returning input unchanged", zap.Error(err))
			if o.metrics != nil {
				o.metrics.CollaboratorErrors.WithLabelValues("generation").Inc()
			}
		} else if completed != "" {
			translation = completed
		}
	}

	audioURL, err := o.speak(ctx, translation, "_trans.wav")
	if err != nil {
		o.logger.Error("translation synthesis failed", zap.Error(err))
		audioURL = ""
	}
	return Translation{Text: translation, Citation: TranslationCitation, AudioURL: audioURL}, nil
}

// AutoTitle summarizes a session's conversation into a short display
// name and stores it. A failed completion falls back to the id-prefix
// default name.
func (o *Orchestrator) AutoTitle(ctx context.Context, userID, sessionID string) (string, error) {
	exists, err := o.store.SessionExists(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", history.ErrNotFound
	}
	turns, err := o.store.History(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Please provide a very short, descriptive title (5 words or fewer) for the following conversation:\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", titleCase(t.Role), t.Text)
	}
	b.WriteString("\nTitle:")

	title := ""
	if o.generator != nil {
		cctx, cancel := o.collaboratorCtx(ctx)
		title, err = o.generator.Complete(cctx, b.String())
		cancel()
		if err != nil {
			o.logger.Error("auto-title generation failed, using default name", zap.Error(err))
			if o.metrics != nil {
				o.metrics.CollaboratorErrors.WithLabelValues("generation").Inc()
			}
			title = ""
		}
	}
	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
	if title == "" {
		title = history.DefaultName(sessionID)
	}
	if err := o.store.SetName(ctx, userID, sessionID, title); err != nil {
		return "", err
	}
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("autotitled").Inc()
	}
	return title, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, question string) ([]retrieval.Chunk, error) {
	cctx, cancel := o.collaboratorCtx(ctx)
	defer cancel()
	chunks, err := o.retriever.RelevantChunks(cctx, question, o.topK)
	if err != nil {
		if o.metrics != nil {
			o.metrics.CollaboratorErrors.WithLabelValues("retrieval").Inc()
		}
		return nil, o.wrapCollaborator("retrieval", err)
	}
	return chunks, nil
}

func (o *Orchestrator) generate(ctx context.Context, chunks []retrieval.Chunk, question string, chatHistory []history.Turn, language string) (llm.Answer, error) {
	cctx, cancel := o.collaboratorCtx(ctx)
	defer cancel()
	ans, err := o.generator.GenerateAnswer(cctx, chunks, question, chatHistory, language)
	if err != nil {
		if o.metrics != nil {
			o.metrics.CollaboratorErrors.WithLabelValues("generation").Inc()
		}
		return llm.Answer{}, o.wrapCollaborator("generation", err)
	}
	return ans, nil
}

// speak synthesizes text into a fresh file under the audio directory
// and returns its public URL path.
func (o *Orchestrator) speak(ctx context.Context, text, suffix string) (string, error) {
	name := newAudioID() + suffix
	if err := o.synthesizer.Synthesize(ctx, text, filepath.Join(o.audioDir, name)); err != nil {
		if o.metrics != nil {
			o.metrics.CollaboratorErrors.WithLabelValues("synthesis").Inc()
		}
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return "/audio/" + name, nil
}

func (o *Orchestrator) collaboratorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

func (o *Orchestrator) wrapCollaborator(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", name, ErrCollaboratorTimeout)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func newAudioID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
