package turn

// Fixed reply tables for turns that never reach the generation
// collaborator. The greeting sets are what the random pick draws from.
var (
	greetingResponsesEN = []string{
		"Hello! How can I help you today?",
		"Hi there! What would you like to learn?",
		"Hey! Ask me anything from your material.",
		"Welcome! How can I assist you?",
	}
	greetingResponsesAR = []string{
		"مرحباً! كيف يمكنني مساعدتك اليوم؟",
		"أهلاً! ماذا تحب أن تتعلم؟",
		"مرحباً! اسألني أي شيء من موادك.",
		"أهلاً وسهلاً! كيف أستطيع مساعدتك؟",
	}
)

const (
	dontKnowEN = "Sorry, I don't know."
	dontKnowAR = "عذراً، لا أعرف."

	notUnderstoodEN = "Sorry, I couldn't understand the question."
	notUnderstoodAR = "عذراً، لم أتمكن من الفهم."

	// TranslationCitation is attached to every translation result.
	TranslationCitation = "- Translated by AI"
)

// GreetingResponses returns the fixed greeting reply set for a
// language code.
func GreetingResponses(language string) []string {
	if language == "ar" {
		return greetingResponsesAR
	}
	return greetingResponsesEN
}

func dontKnowResponse(language string) string {
	if language == "ar" {
		return dontKnowAR
	}
	return dontKnowEN
}

func notUnderstoodResponse(language string) string {
	if language == "ar" {
		return notUnderstoodAR
	}
	return notUnderstoodEN
}

// TypingSimulation returns every non-empty prefix of the answer, in
// order, one per rune. Callers use it to animate incremental reveal;
// it is derived on demand and never stored.
func TypingSimulation(answer string) []string {
	runes := []rune(answer)
	sim := make([]string, 0, len(runes))
	for i := range runes {
		sim = append(sim, string(runes[:i+1]))
	}
	return sim
}
