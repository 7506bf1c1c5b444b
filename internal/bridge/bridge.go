// Package bridge relays one phone call between the Twilio media stream and
// an ElevenLabs Conversational AI agent.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shiv6146/callbridge/internal/protocol"
)

const (
	legTelephony = "telephony"
	legUpstream  = "convai"

	directionInbound  = "to_agent"
	directionOutbound = "to_caller"

	linkTimeout = 5 * time.Second
)

// Acquirer hands out a signed URL for the AI leg.
type Acquirer interface {
	SignedURL(ctx context.Context) (string, error)
}

// Linker records the conversation id for a call once both are known.
type Linker interface {
	LinkConversationToCall(ctx context.Context, conversationID, callSID string) error
}

// Notifier fans bridge lifecycle events out to observers.
type Notifier interface {
	Broadcast(event string, payload any)
}

// Recorder receives relay counters.
type Recorder interface {
	BridgeStarted()
	BridgeEnded(d time.Duration)
	SetupFailed(reason string)
	FrameRelayed(direction string)
	ParseFailed(leg string)
}

// Options configures a Bridge.
type Options struct {
	Acquirer Acquirer
	Dialer   Dialer
	Linker   Linker
	Notifier Notifier
	Recorder Recorder
	Logger   zerolog.Logger

	ConnectTimeout       time.Duration
	GracePeriod          time.Duration
	FirstMessageTemplate string
	FallbackName         string

	// Personalization known before the start event, e.g. from the
	// websocket query string.
	ClientName  string
	PhoneNumber string
}

const (
	defaultConnectTimeout       = 10 * time.Second
	defaultGracePeriod          = time.Second
	defaultFirstMessageTemplate = "Hello %s! Thanks for taking our call. Do you have a minute to talk?"
	defaultFallbackName         = "there"
)

// Bridge owns both legs of one call.
type Bridge struct {
	opts    Options
	session *Session
	log     zerolog.Logger

	telephony *leg
	upstream  *leg

	upstreamMu sync.Mutex
	startedAt  time.Time
}

// New wraps an accepted telephony socket. Nothing is dialed until Handle.
func New(telephony Conn, opts Options) *Bridge {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.FirstMessageTemplate == "" {
		opts.FirstMessageTemplate = defaultFirstMessageTemplate
	}
	if opts.FallbackName == "" {
		opts.FallbackName = defaultFallbackName
	}

	id := uuid.New().String()
	return &Bridge{
		opts:      opts,
		session:   NewSession(id, opts.ClientName, opts.PhoneNumber),
		log:       opts.Logger.With().Str("session_id", id).Logger(),
		telephony: newLeg(legTelephony, telephony),
	}
}

// ID returns the session id.
func (b *Bridge) ID() string {
	return b.session.ID()
}

// Session exposes the shared call state.
func (b *Bridge) Session() *Session {
	return b.session
}

// Handle acquires and dials the AI leg, relays until both loops finish and
// tears everything down. It returns an error only when setup fails.
func (b *Bridge) Handle(ctx context.Context) error {
	b.startedAt = time.Now()

	if err := b.connectUpstream(ctx); err != nil {
		b.log.Error().Err(err).Msg("Failed to connect to agent")
		b.opts.Recorder.SetupFailed(setupReason(err))
		b.session.setState(StateClosed)
		_ = b.telephony.close()
		return err
	}

	b.session.setState(StateBothConnected)
	b.opts.Recorder.BridgeStarted()
	b.log.Info().Msg("Bridge connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.relayTelephony()
	}()
	go func() {
		defer wg.Done()
		b.relayUpstream()
	}()
	wg.Wait()

	b.cleanup()
	return nil
}

// Close forces both legs shut. Handle returns once the loops observe it.
func (b *Bridge) Close() {
	b.session.setState(StateDraining)
	b.session.markTelephonyClosed()
	b.closeUpstream()
	_ = b.telephony.close()
}

func (b *Bridge) connectUpstream(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()

	if b.opts.Acquirer == nil {
		return errors.New("bridge: no signed url acquirer")
	}

	signedURL, err := b.opts.Acquirer.SignedURL(ctx)
	if err != nil {
		return wrapSetup(ctx, "acquire signed url", err)
	}

	conn, err := b.opts.Dialer.Dial(ctx, signedURL)
	if err != nil {
		return wrapSetup(ctx, "dial agent", err)
	}

	b.upstreamMu.Lock()
	b.upstream = newLeg(legUpstream, conn)
	b.upstreamMu.Unlock()
	return nil
}

func wrapSetup(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrSetupTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func setupReason(err error) string {
	if errors.Is(err, ErrSetupTimeout) {
		return "timeout"
	}
	return "error"
}

// relayTelephony reads the Twilio media stream and forwards caller audio.
func (b *Bridge) relayTelephony() {
	for {
		_, data, err := b.telephony.conn.ReadMessage()
		if err != nil {
			if !b.telephony.isClosed() {
				b.log.Info().Err(err).Msg("Telephony leg disconnected")
			}
			b.session.markTelephonyClosed()
			b.session.setState(StateDraining)
			b.closeUpstream()
			return
		}

		if b.session.UpstreamClosed() {
			b.log.Debug().Msg("Agent leg closed, telephony relay draining")
			return
		}

		frame, err := protocol.ParseTwilio(data)
		if err != nil {
			b.opts.Recorder.ParseFailed(legTelephony)
			b.log.Warn().Err(err).Msg("Dropping malformed telephony frame")
			continue
		}

		switch f := frame.(type) {
		case *protocol.TwilioStart:
			b.handleStart(f)
		case *protocol.TwilioMedia:
			b.forwardToUpstream(protocol.NewUserAudioChunk(f.Payload))
		case *protocol.TwilioStop:
			b.log.Info().Str("call_sid", f.CallSID).Msg("Telephony stream stopped")
			b.session.markTelephonyClosed()
			b.session.setState(StateDraining)
			b.closeUpstream()
			return
		default:
			b.log.Debug().Str("event", frame.Event()).Msg("Ignoring telephony event")
		}
	}
}

func (b *Bridge) handleStart(f *protocol.TwilioStart) {
	res := b.session.recordStart(f.StreamSID, f.CallSID, f.ClientName(), f.PhoneNumber())

	b.log.Info().
		Str("stream_sid", f.StreamSID).
		Str("call_sid", f.CallSID).
		Msg("Telephony stream started")

	if res.sendInit {
		b.forwardToUpstream(protocol.NewInitiationClientData(
			b.greeting(res.clientName),
			map[string]string{
				protocol.ParamClientName:  res.clientName,
				protocol.ParamPhoneNumber: res.phoneNumber,
			},
		))
	}
	if res.link {
		b.link(res.conversation, f.CallSID)
	}

	if b.opts.Notifier != nil {
		go b.opts.Notifier.Broadcast("call_connected", b.session.Snapshot())
	}
}

func (b *Bridge) greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = b.opts.FallbackName
	}
	if !strings.Contains(b.opts.FirstMessageTemplate, "%s") {
		return b.opts.FirstMessageTemplate
	}
	return fmt.Sprintf(b.opts.FirstMessageTemplate, name)
}

// forwardToUpstream relays a caller frame to the agent.
func (b *Bridge) forwardToUpstream(data []byte, err error) {
	if b.sendUpstream(data, err) {
		b.opts.Recorder.FrameRelayed(directionInbound)
	}
}

// sendUpstream writes a frame to the agent unless that leg is gone. A
// failed write ends the agent leg, which starts the drain.
func (b *Bridge) sendUpstream(data []byte, err error) bool {
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to encode agent frame")
		return false
	}
	if b.session.UpstreamClosed() {
		return false
	}

	up := b.upstreamLeg()
	if err := up.send(data); err != nil {
		b.log.Warn().Err(err).Msg("Agent leg write failed")
		b.closeUpstream()
		return false
	}
	return true
}

// relayUpstream reads agent frames and answers or forwards them.
func (b *Bridge) relayUpstream() {
	up := b.upstreamLeg()
	for {
		_, data, err := up.conn.ReadMessage()
		if err != nil {
			if !up.isClosed() {
				b.log.Info().Err(err).Msg("Agent leg disconnected")
			}
			b.onUpstreamGone()
			return
		}

		frame, err := protocol.ParseConvAI(data)
		if err != nil {
			b.opts.Recorder.ParseFailed(legUpstream)
			b.log.Warn().Err(err).Msg("Dropping malformed agent frame")
			continue
		}

		switch f := frame.(type) {
		case *protocol.Ping:
			if !f.HasEventID() {
				b.log.Debug().Msg("Ignoring ping without event id")
				continue
			}
			b.sendUpstream(protocol.NewPong(f.EventID))
		case *protocol.Audio:
			streamSID, ok := b.session.outboundStream()
			payload := f.Payload()
			if !ok || payload == "" {
				continue
			}
			b.forwardToTelephony(protocol.NewTwilioMedia(streamSID, payload))
		case *protocol.Interruption:
			if streamSID, ok := b.session.outboundStream(); ok {
				b.forwardToTelephony(protocol.NewTwilioClear(streamSID))
			}
		case *protocol.InitiationMetadata:
			b.log.Info().Str("conversation_id", f.ConversationID).Msg("Agent conversation started")
			if callSID, link := b.session.recordConversation(f.ConversationID); link {
				b.link(f.ConversationID, callSID)
			}
		case *protocol.UserTranscript:
			b.log.Info().Str("transcript", f.Text).Msg("Caller said")
		case *protocol.AgentResponse:
			b.log.Info().Str("response", f.Text).Msg("Agent said")
		default:
			b.log.Debug().Str("type", frame.Type()).Msg("Ignoring agent event")
		}
	}
}

// onUpstreamGone waits out the grace period so trailing audio can play,
// then ends the telephony stream if it is still open.
func (b *Bridge) onUpstreamGone() {
	b.closeUpstream()
	b.session.setState(StateDraining)

	if b.session.TelephonyClosed() {
		return
	}

	if b.opts.GracePeriod > 0 {
		timer := time.NewTimer(b.opts.GracePeriod)
		<-timer.C
	}

	if b.session.TelephonyClosed() {
		return
	}
	b.forwardToTelephony(protocol.NewTwilioStop())
	b.session.markTelephonyClosed()
	_ = b.telephony.close()
}

// forwardToTelephony sends a frame to the caller unless that leg is gone.
func (b *Bridge) forwardToTelephony(data []byte, err error) {
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to encode telephony frame")
		return
	}
	if b.session.TelephonyClosed() {
		return
	}
	if err := b.telephony.send(data); err != nil {
		b.log.Warn().Err(err).Msg("Telephony leg write failed")
		b.session.markTelephonyClosed()
		return
	}
	b.opts.Recorder.FrameRelayed(directionOutbound)
}

func (b *Bridge) upstreamLeg() *leg {
	b.upstreamMu.Lock()
	defer b.upstreamMu.Unlock()
	return b.upstream
}

func (b *Bridge) closeUpstream() {
	b.session.markUpstreamClosed()
	if up := b.upstreamLeg(); up != nil {
		_ = up.close()
	}
}

func (b *Bridge) link(conversationID, callSID string) {
	if b.opts.Linker == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), linkTimeout)
		defer cancel()
		if err := b.opts.Linker.LinkConversationToCall(ctx, conversationID, callSID); err != nil {
			b.log.Warn().Err(err).
				Str("conversation_id", conversationID).
				Str("call_sid", callSID).
				Msg("Failed to link conversation to call")
		}
	}()
}

func (b *Bridge) cleanup() {
	b.closeUpstream()
	b.session.markTelephonyClosed()
	_ = b.telephony.close()
	b.session.setState(StateClosed)

	elapsed := time.Since(b.startedAt)
	b.opts.Recorder.BridgeEnded(elapsed)

	snap := b.session.Snapshot()
	b.log.Info().
		Str("call_sid", snap.CallSID).
		Str("conversation_id", snap.ConversationID).
		Dur("duration", elapsed).
		Msg("Bridge closed")

	if b.opts.Notifier != nil {
		b.opts.Notifier.Broadcast("call_ended", snap)
	}
}

type nopRecorder struct{}

func (nopRecorder) BridgeStarted()            {}
func (nopRecorder) BridgeEnded(time.Duration) {}
func (nopRecorder) SetupFailed(string)        {}
func (nopRecorder) FrameRelayed(string)       {}
func (nopRecorder) ParseFailed(string)        {}
