package httpapi

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/murshid-dev/murshid/internal/history"
	"github.com/murshid-dev/murshid/internal/turn"
)

const (
	avatarWaiting  = "/static/avatar waiting.mp4"
	avatarSpeaking = "/static/avatar talking.mp4"

	// Uploads above this size are rejected before buffering.
	maxUploadBytes = 32 << 20
)

type chatResponse struct {
	SessionID        string   `json:"session_id"`
	Transcript       string   `json:"transcript"`
	Answer           string   `json:"answer"`
	Citation         string   `json:"citation"`
	AudioURL         string   `json:"audio_url"`
	AvatarWaiting    string   `json:"avatar_waiting"`
	AvatarSpeaking   string   `json:"avatar_speaking"`
	TypingSimulation []string `json:"typing_simulation"`
}

func toChatResponse(res turn.Result) chatResponse {
	return chatResponse{
		SessionID:        res.SessionID,
		Transcript:       res.Transcript,
		Answer:           res.Answer,
		Citation:         res.Citation,
		AudioURL:         res.AudioURL,
		AvatarWaiting:    avatarWaiting,
		AvatarSpeaking:   avatarSpeaking,
		TypingSimulation: res.Typing,
	}
}

// parseHistoryField decodes the optional prior-history form field; a
// malformed value degrades to an empty history rather than a client
// error.
func parseHistoryField(raw string) []history.Turn {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var turns []history.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil
	}
	return turns
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if err := r.ParseForm(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
			return
		}
	}
	question := r.FormValue("question")
	sessionID := r.FormValue("session_id")
	chatHistory := parseHistoryField(r.FormValue("history"))

	res, err := s.orchestrator.HandleTurn(r.Context(), s.auth.UserID(r), sessionID, question, chatHistory)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toChatResponse(res))
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	uploadPath, cleanup, err := s.saveUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	defer cleanup()

	transcript := s.orchestrator.Transcribe(r.Context(), uploadPath)
	respondJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	uploadPath, cleanup, err := s.saveUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	defer cleanup()

	sessionID := r.FormValue("session_id")
	chatHistory := parseHistoryField(r.FormValue("history"))

	res, err := s.orchestrator.HandleAudioTurn(r.Context(), s.auth.UserID(r), sessionID, uploadPath, chatHistory)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toChatResponse(res))
}

type translateRequest struct {
	Text string `json:"text"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	Citation    string `json:"citation"`
	AudioURL    string `json:"audio_url,omitempty"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	tr, err := s.orchestrator.Translate(r.Context(), req.Text)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, translateResponse{
		Translation: tr.Text,
		Citation:    tr.Citation,
		AudioURL:    tr.AudioURL,
	})
}

// saveUpload writes the "audio" multipart part under the audio
// directory and returns its path with a cleanup function for the raw
// upload.
func (s *Server) saveUpload(r *http.Request) (string, func(), error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	path := filepath.Join(s.cfg.AudioDir, newUploadID()+"_in"+uploadExt(header))
	dst, err := os.Create(path)
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(path)
		return "", nil, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", nil, err
	}

	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing uploaded audio failed", zap.String("path", path), zap.Error(err))
		}
		// The transcription path may leave a normalized sibling behind.
		wav := strings.TrimSuffix(path, filepath.Ext(path)) + ".wav"
		if wav != path {
			_ = os.Remove(wav)
		}
	}
	return path, cleanup, nil
}

func uploadExt(header *multipart.FileHeader) string {
	if header != nil {
		if ext := filepath.Ext(header.Filename); ext != "" && len(ext) <= 8 {
			return ext
		}
	}
	return ".webm"
}

func newUploadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
