package voice

import (
	"encoding/json"
	"strings"
)

// Event is one inbound transport event. The set is closed; anything the
// coordinator does not act on decodes to Unknown.
type Event interface {
	isEvent()
}

type (
	// Opened is emitted once the data channel is usable.
	Opened struct{}
	// Closed is emitted when the remote side or the network ends the channel.
	Closed struct{}
	// Failed is a transport-level error; the call cannot continue.
	Failed struct{ Err error }

	ResponseCreated struct{ ResponseID string }
	ResponseDelta   struct {
		ResponseID string
		Delta      string
	}
	// TranscriptDone carries the final transcript of one AI audio answer.
	TranscriptDone struct {
		ResponseID string
		Text       string
	}
	// ResponseDone ends a response; Transcripts holds its audio transcripts.
	ResponseDone struct {
		ResponseID  string
		Transcripts []string
	}
	// UserTranscript is the recognized text of the learner's speech.
	UserTranscript struct{ Text string }
	// Pong echoes the millisecond timestamp of a ping we sent.
	Pong        struct{ PingTimestamp int64 }
	ServerError struct{ Message string }
	Unknown     struct{ Type string }
)

func (Opened) isEvent()          {}
func (Closed) isEvent()          {}
func (Failed) isEvent()          {}
func (ResponseCreated) isEvent() {}
func (ResponseDelta) isEvent()   {}
func (TranscriptDone) isEvent()  {}
func (ResponseDone) isEvent()    {}
func (UserTranscript) isEvent()  {}
func (Pong) isEvent()            {}
func (ServerError) isEvent()     {}
func (Unknown) isEvent()         {}

type wireEvent struct {
	Type          string `json:"type"`
	ResponseID    string `json:"response_id"`
	Delta         string `json:"delta"`
	Transcript    string `json:"transcript"`
	PingTimestamp int64  `json:"pingTimestamp"`
	Response      *struct {
		ID     string `json:"id"`
		Output []struct {
			Content []struct {
				Type       string `json:"type"`
				Transcript string `json:"transcript"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseEvent decodes one JSON message from the data channel.
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	switch w.Type {
	case "response.created":
		id := w.ResponseID
		if w.Response != nil {
			id = w.Response.ID
		}
		return ResponseCreated{ResponseID: id}, nil
	case "response.output_text.delta", "response.text.delta", "response.audio_transcript.delta":
		return ResponseDelta{ResponseID: w.ResponseID, Delta: w.Delta}, nil
	case "response.audio_transcript.done":
		return TranscriptDone{ResponseID: w.ResponseID, Text: strings.TrimSpace(w.Transcript)}, nil
	case "conversation.item.input_audio_transcription.completed":
		return UserTranscript{Text: strings.TrimSpace(w.Transcript)}, nil
	case "response.done":
		ev := ResponseDone{}
		if w.Response != nil {
			ev.ResponseID = w.Response.ID
			for _, item := range w.Response.Output {
				for _, c := range item.Content {
					if c.Type == "audio" && strings.TrimSpace(c.Transcript) != "" {
						ev.Transcripts = append(ev.Transcripts, strings.TrimSpace(c.Transcript))
						break
					}
				}
			}
		}
		return ev, nil
	case "pong":
		return Pong{PingTimestamp: w.PingTimestamp}, nil
	case "error":
		msg := ""
		if w.Error != nil {
			msg = w.Error.Message
		}
		return ServerError{Message: msg}, nil
	}
	return Unknown{Type: w.Type}, nil
}
