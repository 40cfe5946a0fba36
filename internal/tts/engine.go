package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNoAudio reports that the synthesis engine completed without
// emitting any audio payload.
var ErrNoAudio = errors.New("synthesis engine produced no audio")

// SpeakRequest asks an engine for one synthesis pass over the full
// text with a single voice.
type SpeakRequest struct {
	Text  string
	Voice string
	Rate  string
}

// Engine produces a compressed (mp3) audio stream from text and writes
// it to dst.
type Engine interface {
	Speak(ctx context.Context, req SpeakRequest, dst string) error
}

type EdgeConfig struct {
	WSBaseURL    string
	TrustedToken string
	OutputFormat string
}

// EdgeEngine speaks the Microsoft Edge read-aloud websocket protocol:
// a speech.config frame, one SSML frame, then binary audio frames
// until turn.end.
type EdgeEngine struct {
	cfg EdgeConfig
}

func NewEdgeEngine(cfg EdgeConfig) *EdgeEngine {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://speech.platform.bing.com"
	}
	if strings.TrimSpace(cfg.TrustedToken) == "" {
		cfg.TrustedToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "audio-24khz-48kbitrate-mono-mp3"
	}
	return &EdgeEngine{cfg: cfg}
}

func (e *EdgeEngine) Speak(ctx context.Context, req SpeakRequest, dst string) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("empty text")
	}
	if strings.TrimSpace(req.Rate) == "" {
		req.Rate = "+0%"
	}

	connID := strings.ReplaceAll(uuid.NewString(), "-", "")
	wsURL := strings.TrimRight(e.cfg.WSBaseURL, "/") +
		"/consumer/speech/synthesize/readaloud/edge/v1" +
		"?TrustedClientToken=" + e.cfg.TrustedToken +
		"&ConnectionId=" + connID

	headers := http.Header{}
	headers.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()

	ts := time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
	configFrame := "X-Timestamp:" + ts + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + e.cfg.OutputFormat + `"}}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configFrame)); err != nil {
		return fmt.Errorf("send speech config: %w", err)
	}

	ssmlFrame := "X-RequestId:" + connID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + ts + "\r\n" +
		"Path:ssml\r\n\r\n" +
		buildSSML(req.Text, req.Voice, req.Rate)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlFrame)); err != nil {
		return fmt.Errorf("send ssml: %w", err)
	}

	deadline := time.Now().Add(60 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var audio bytes.Buffer
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read tts frame: %w", err)
		}
		switch msgType {
		case websocket.BinaryMessage:
			payload, ok := binaryAudioPayload(data)
			if ok {
				audio.Write(payload)
			}
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				if audio.Len() == 0 {
					return ErrNoAudio
				}
				return os.WriteFile(dst, audio.Bytes(), 0o644)
			}
		}
	}
}

// binaryAudioPayload strips the length-prefixed header from a binary
// frame and returns the audio bytes when the frame path is audio.
func binaryAudioPayload(data []byte) ([]byte, bool) {
	if len(data) < 2 {
		return nil, false
	}
	headerLen := int(data[0])<<8 | int(data[1])
	if len(data) < 2+headerLen {
		return nil, false
	}
	header := string(data[2 : 2+headerLen])
	if !strings.Contains(header, "Path:audio") {
		return nil, false
	}
	return data[2+headerLen:], true
}

func buildSSML(text, voice, rate string) string {
	return "<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>" +
		"<voice name='" + voice + "'>" +
		"<prosody pitch='+0Hz' rate='" + rate + "' volume='+0%'>" +
		escapeXML(text) +
		"</prosody></voice></speak>"
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
