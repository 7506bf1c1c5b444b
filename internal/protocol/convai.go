package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ConvAI message types.
const (
	ConvAIPing                           = "ping"
	ConvAIPong                           = "pong"
	ConvAIAudio                          = "audio"
	ConvAIInterruption                   = "interruption"
	ConvAIConversationInitiationMetadata = "conversation_initiation_metadata"
	ConvAIConversationInitiationClient   = "conversation_initiation_client_data"
	ConvAIUserTranscript                 = "user_transcript"
	ConvAIAgentResponse                  = "agent_response"
)

// ConvAIFrame is an inbound frame from the conversational AI socket.
type ConvAIFrame interface {
	Type() string
}

// Ping must be answered with a Pong carrying the same event id. EventID is
// kept undecoded so it can be echoed whatever its JSON type.
type Ping struct {
	EventID json.RawMessage
}

func (*Ping) Type() string { return ConvAIPing }

// HasEventID reports whether the ping carries an id worth answering.
func (p *Ping) HasEventID() bool {
	switch string(bytes.TrimSpace(p.EventID)) {
	case "", "null", "0", `""`, "false":
		return false
	}
	return true
}

// Audio carries agent speech. Two payload shapes exist in the wild.
type Audio struct {
	Chunk       string
	AudioBase64 string
	EventID     int64
}

func (*Audio) Type() string { return ConvAIAudio }

// Payload returns the base64 audio, preferring audio.chunk over
// audio_event.audio_base_64 when both are present.
func (a *Audio) Payload() string {
	if a.Chunk != "" {
		return a.Chunk
	}
	return a.AudioBase64
}

// Interruption means the caller barged in over the agent.
type Interruption struct {
	EventID int64
}

func (*Interruption) Type() string { return ConvAIInterruption }

// InitiationMetadata acknowledges the conversation.
type InitiationMetadata struct {
	ConversationID         string
	AgentOutputAudioFormat string
	UserInputAudioFormat   string
}

func (*InitiationMetadata) Type() string { return ConvAIConversationInitiationMetadata }

// UserTranscript is the provider's transcription of the caller.
type UserTranscript struct {
	Text string
}

func (*UserTranscript) Type() string { return ConvAIUserTranscript }

// AgentResponse is the text of what the agent said.
type AgentResponse struct {
	Text string
}

func (*AgentResponse) Type() string { return ConvAIAgentResponse }

// ConvAIUnknown is any message type the relay does not act on.
type ConvAIUnknown struct {
	Name string
	Raw  json.RawMessage
}

func (u *ConvAIUnknown) Type() string { return u.Name }

type convaiEnvelope struct {
	Type string `json:"type"`

	PingEvent *struct {
		EventID json.RawMessage `json:"event_id"`
	} `json:"ping_event,omitempty"`

	Audio *struct {
		Chunk string `json:"chunk"`
	} `json:"audio,omitempty"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int64  `json:"event_id"`
	} `json:"audio_event,omitempty"`

	InterruptionEvent *struct {
		EventID int64 `json:"event_id"`
	} `json:"interruption_event,omitempty"`

	InitiationMetadataEvent *struct {
		ConversationID         string `json:"conversation_id"`
		AgentOutputAudioFormat string `json:"agent_output_audio_format"`
		UserInputAudioFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`
}

// ParseConvAI decodes an inbound conversational AI frame.
func ParseConvAI(data []byte) (ConvAIFrame, error) {
	var env convaiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Leg: "convai", Err: err}
	}

	switch env.Type {
	case "":
		return nil, &ParseError{Leg: "convai", Err: errors.New("missing type tag")}

	case ConvAIPing:
		p := &Ping{}
		if env.PingEvent != nil {
			p.EventID = env.PingEvent.EventID
		}
		return p, nil

	case ConvAIAudio:
		a := &Audio{}
		if env.Audio != nil {
			a.Chunk = env.Audio.Chunk
		}
		if env.AudioEvent != nil {
			a.AudioBase64 = env.AudioEvent.AudioBase64
			a.EventID = env.AudioEvent.EventID
		}
		return a, nil

	case ConvAIInterruption:
		i := &Interruption{}
		if env.InterruptionEvent != nil {
			i.EventID = env.InterruptionEvent.EventID
		}
		return i, nil

	case ConvAIConversationInitiationMetadata:
		m := &InitiationMetadata{}
		if ev := env.InitiationMetadataEvent; ev != nil {
			m.ConversationID = ev.ConversationID
			m.AgentOutputAudioFormat = ev.AgentOutputAudioFormat
			m.UserInputAudioFormat = ev.UserInputAudioFormat
		}
		return m, nil

	case ConvAIUserTranscript:
		u := &UserTranscript{}
		if env.UserTranscriptionEvent != nil {
			u.Text = env.UserTranscriptionEvent.UserTranscript
		}
		return u, nil

	case ConvAIAgentResponse:
		r := &AgentResponse{}
		if env.AgentResponseEvent != nil {
			r.Text = env.AgentResponseEvent.AgentResponse
		}
		return r, nil

	default:
		return &ConvAIUnknown{Name: env.Type, Raw: data}, nil
	}
}

type agentOverride struct {
	FirstMessage string `json:"first_message,omitempty"`
}

type conversationConfigOverride struct {
	Agent agentOverride `json:"agent"`
}

// InitiationClientData personalizes a conversation before it starts.
type InitiationClientData struct {
	Type                       string                     `json:"type"`
	ConversationConfigOverride conversationConfigOverride `json:"conversation_config_override"`
	DynamicVariables           map[string]string          `json:"dynamic_variables,omitempty"`
}

// NewInitiationClientData builds the session-initialization message.
// Empty variables are dropped.
func NewInitiationClientData(firstMessage string, vars map[string]string) ([]byte, error) {
	dynamic := make(map[string]string, len(vars))
	for k, v := range vars {
		if v != "" {
			dynamic[k] = v
		}
	}

	return marshal(InitiationClientData{
		Type: ConvAIConversationInitiationClient,
		ConversationConfigOverride: conversationConfigOverride{
			Agent: agentOverride{FirstMessage: firstMessage},
		},
		DynamicVariables: dynamic,
	})
}

// NewUserAudioChunk wraps caller audio for the AI socket.
func NewUserAudioChunk(payload string) ([]byte, error) {
	return marshal(struct {
		UserAudioChunk string `json:"user_audio_chunk"`
	}{UserAudioChunk: payload})
}

// NewPong answers a Ping, echoing its event id verbatim.
func NewPong(eventID json.RawMessage) ([]byte, error) {
	return marshal(struct {
		Type    string          `json:"type"`
		EventID json.RawMessage `json:"event_id"`
	}{Type: ConvAIPong, EventID: eventID})
}
