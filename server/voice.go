package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAI client for voice transcription (set by main.go)
var voiceClient *openai.Client

// SetVoiceClient sets the OpenAI client for voice analysis
func SetVoiceClient(client *openai.Client) {
	voiceClient = client
}

// VoiceTrigger values returned by analysis
const (
	TriggerVoiceHelp = "VOICE_HELP"
	TriggerNone      = "NONE"
)

// AnalyzeVoiceHandler transcribes an uploaded audio clip, translating
// to English, and checks it for distress phrases. The caller decides
// what to do with the trigger, usually starting a session.
func AnalyzeVoiceHandler(w http.ResponseWriter, r *http.Request) {
	if voiceClient == nil {
		http.Error(w, "Voice analysis not available", 503)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Audio file required", 400)
		return
	}
	defer file.Close()

	resp, err := voiceClient.CreateTranslation(r.Context(), openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   file,
		FilePath: header.Filename,
	})
	if err != nil {
		log.Printf("[voice] transcription failed: %v", err)
		http.Error(w, "Transcription failed", 502)
		return
	}

	text := strings.TrimSpace(resp.Text)
	unsafe := IsUnsafe(text)

	trigger := TriggerNone
	if unsafe {
		trigger = TriggerVoiceHelp
	}

	b, _ := json.Marshal(map[string]interface{}{
		"unsafe":       unsafe,
		"english_text": text,
		"trigger":      trigger,
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
