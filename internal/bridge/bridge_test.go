package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	startFrame       = `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"client_name":"Ada","phone_number":"+15550100"}},"streamSid":"MZ1"}`
	startNoNameFrame = `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"},"streamSid":"MZ1"}`
	mediaFrame       = `{"event":"media","media":{"track":"inbound","payload":"AAEC"},"streamSid":"MZ1"}`
	stopFrame        = `{"event":"stop","stop":{"callSid":"CA1"},"streamSid":"MZ1"}`

	pingFrame         = `{"type":"ping","ping_event":{"event_id":7,"ping_ms":50}}`
	agentAudioFrame   = `{"type":"audio","audio":{"chunk":"UUVS"}}`
	interruptionFrame = `{"type":"interruption","interruption_event":{"event_id":3}}`
	metadataFrame     = `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv_1"}}`
)

type harness struct {
	telephony *fakeConn
	upstream  *fakeConn
	bridge    *Bridge

	done chan struct{}
	err  error
}

func startBridge(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		telephony: newFakeConn(),
		upstream:  newFakeConn(),
		done:      make(chan struct{}),
	}
	if opts.Acquirer == nil {
		opts.Acquirer = staticAcquirer("wss://agent.test/convai")
	}
	if opts.Dialer == nil {
		opts.Dialer = connDialer(h.upstream)
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = 20 * time.Millisecond
	}
	opts.Logger = zerolog.Nop()

	h.bridge = New(h.telephony, opts)
	go func() {
		h.err = h.bridge.Handle(context.Background())
		close(h.done)
	}()

	t.Cleanup(func() {
		h.bridge.Close()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("bridge did not shut down")
		}
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return")
		return nil
	}
}

func firstMessage(t *testing.T, frame map[string]any) string {
	t.Helper()
	override, _ := frame["conversation_config_override"].(map[string]any)
	agent, _ := override["agent"].(map[string]any)
	msg, ok := agent["first_message"].(string)
	if !ok {
		t.Fatalf("frame has no first_message: %v", frame)
	}
	return msg
}

func TestBridgeSendsPersonalizedInitOnStart(t *testing.T) {
	h := startBridge(t, Options{})

	h.telephony.deliver(startFrame)
	frames := h.upstream.waitFrames(t, 1)

	init := frames[0]
	if init["type"] != "conversation_initiation_client_data" {
		t.Fatalf("Expected init message first, got %v", init)
	}
	if msg := firstMessage(t, init); !strings.HasPrefix(msg, "Hello Ada!") {
		t.Errorf("first_message = %q", msg)
	}
	vars, _ := init["dynamic_variables"].(map[string]any)
	if vars["client_name"] != "Ada" || vars["phone_number"] != "+15550100" {
		t.Errorf("dynamic_variables = %v", vars)
	}
}

func TestBridgeFallbackGreeting(t *testing.T) {
	h := startBridge(t, Options{})

	h.telephony.deliver(startNoNameFrame)
	frames := h.upstream.waitFrames(t, 1)

	if msg := firstMessage(t, frames[0]); !strings.HasPrefix(msg, "Hello there!") {
		t.Errorf("first_message = %q", msg)
	}
}

func TestBridgeUsesConstructionTimeName(t *testing.T) {
	h := startBridge(t, Options{ClientName: "Grace", FirstMessageTemplate: "Hi %s"})

	h.telephony.deliver(startNoNameFrame)
	frames := h.upstream.waitFrames(t, 1)

	if msg := firstMessage(t, frames[0]); msg != "Hi Grace" {
		t.Errorf("first_message = %q", msg)
	}
}

func TestBridgeSendsInitOnce(t *testing.T) {
	h := startBridge(t, Options{})

	h.telephony.deliver(startFrame)
	h.telephony.deliver(startFrame)
	h.telephony.deliver(mediaFrame)
	frames := h.upstream.waitFrames(t, 2)

	inits := 0
	for _, f := range frames {
		if f["type"] == "conversation_initiation_client_data" {
			inits++
		}
	}
	if inits != 1 {
		t.Errorf("Expected 1 init message, got %d", inits)
	}
}

func TestBridgeForwardsCallerAudio(t *testing.T) {
	h := startBridge(t, Options{})

	h.telephony.deliver(startFrame)
	h.telephony.deliver(mediaFrame)
	frames := h.upstream.waitFrames(t, 2)

	if frames[1]["user_audio_chunk"] != "AAEC" {
		t.Errorf("Expected user_audio_chunk AAEC, got %v", frames[1])
	}
}

func TestBridgeAnswersPing(t *testing.T) {
	h := startBridge(t, Options{})

	h.upstream.deliver(pingFrame)
	frames := h.upstream.waitFrames(t, 1)

	if frames[0]["type"] != "pong" || frames[0]["event_id"] != float64(7) {
		t.Errorf("Expected pong for event 7, got %v", frames[0])
	}
	if got := h.telephony.frames(t); len(got) != 0 {
		t.Errorf("Ping must not reach telephony, got %v", got)
	}
}

func TestBridgeEchoesStringPingID(t *testing.T) {
	h := startBridge(t, Options{})

	h.upstream.deliver(`{"type":"ping","ping_event":{"event_id":"evt-9"}}`)
	frames := h.upstream.waitFrames(t, 1)

	if frames[0]["type"] != "pong" || frames[0]["event_id"] != "evt-9" {
		t.Errorf("Expected pong for event evt-9, got %v", frames[0])
	}
}

func TestBridgeSkipsPongWithoutEventID(t *testing.T) {
	h := startBridge(t, Options{})

	h.upstream.deliver(`{"type":"ping"}`)
	h.upstream.deliver(`{"type":"ping","ping_event":{"ping_ms":40}}`)
	h.upstream.deliver(pingFrame)
	h.upstream.waitFrames(t, 1)

	time.Sleep(20 * time.Millisecond)
	frames := h.upstream.frames(t)
	if len(frames) != 1 || frames[0]["event_id"] != float64(7) {
		t.Errorf("Expected a single pong for event 7, got %v", frames)
	}
}

func TestBridgePongNotCountedAsRelayed(t *testing.T) {
	rec := newFakeRecorder()
	h := startBridge(t, Options{Recorder: rec})

	h.upstream.deliver(pingFrame)
	h.upstream.waitFrames(t, 1)
	if got := rec.count(directionInbound); got != 0 {
		t.Errorf("Expected no relayed frames for a pong, got %d", got)
	}

	h.telephony.deliver(startFrame)
	h.telephony.deliver(mediaFrame)
	h.upstream.waitFrames(t, 3)
	deadline := time.Now().Add(2 * time.Second)
	for rec.count(directionInbound) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rec.count(directionInbound); got != 2 {
		t.Errorf("Expected 2 relayed frames, got %d", got)
	}
}

func TestBridgeSlowNotifierDoesNotStallAudio(t *testing.T) {
	notifier := newStalledNotifier()
	defer close(notifier.release)
	h := startBridge(t, Options{Notifier: notifier})

	h.telephony.deliver(startFrame)
	select {
	case event := <-notifier.entered:
		if event != "call_connected" {
			t.Fatalf("Expected call_connected, got %s", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call_connected never broadcast")
	}

	h.telephony.deliver(mediaFrame)
	frames := h.upstream.waitFrames(t, 2)
	if frames[1]["user_audio_chunk"] != "AAEC" {
		t.Errorf("Expected user_audio_chunk AAEC, got %v", frames[1])
	}
}

func TestBridgeDropsAgentAudioBeforeStart(t *testing.T) {
	h := startBridge(t, Options{})

	h.upstream.deliver(agentAudioFrame)
	h.upstream.deliver(interruptionFrame)
	h.upstream.deliver(pingFrame)
	h.upstream.waitFrames(t, 1)

	if got := h.telephony.frames(t); len(got) != 0 {
		t.Fatalf("Expected nothing sent before start, got %v", got)
	}

	h.telephony.deliver(startFrame)
	h.upstream.waitFrames(t, 2)

	h.upstream.deliver(agentAudioFrame)
	frames := h.telephony.waitFrames(t, 1)

	media := frames[0]
	if media["event"] != "media" || media["streamSid"] != "MZ1" {
		t.Fatalf("Expected media frame for MZ1, got %v", media)
	}
	body, _ := media["media"].(map[string]any)
	if body["payload"] != "UUVS" {
		t.Errorf("payload = %v", body["payload"])
	}
}

func TestBridgeInterruptionClearsPlayback(t *testing.T) {
	h := startBridge(t, Options{})

	h.telephony.deliver(startFrame)
	h.upstream.waitFrames(t, 1)

	h.upstream.deliver(interruptionFrame)
	frames := h.telephony.waitFrames(t, 1)

	if frames[0]["event"] != "clear" || frames[0]["streamSid"] != "MZ1" {
		t.Errorf("Expected clear for MZ1, got %v", frames[0])
	}
}

func TestBridgeLinksConversation(t *testing.T) {
	tests := []struct {
		name          string
		metadataFirst bool
	}{
		{"metadata before start", true},
		{"metadata after start", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			linker := newFakeLinker()
			h := startBridge(t, Options{Linker: linker})

			if tt.metadataFirst {
				h.upstream.deliver(metadataFrame)
				h.upstream.deliver(pingFrame)
				h.upstream.waitFrames(t, 1)
				h.telephony.deliver(startFrame)
			} else {
				h.telephony.deliver(startFrame)
				h.upstream.waitFrames(t, 1)
				h.upstream.deliver(metadataFrame)
			}

			select {
			case got := <-linker.calls:
				if got.conversationID != "conv_1" || got.callSID != "CA1" {
					t.Errorf("linked %+v", got)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("conversation was not linked")
			}

			select {
			case extra := <-linker.calls:
				t.Errorf("unexpected second link %+v", extra)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestBridgeIgnoresMalformedFrames(t *testing.T) {
	h := startBridge(t, Options{})

	h.telephony.deliver(`not json`)
	h.telephony.deliver(`{"streamSid":"MZ1"}`)
	h.upstream.deliver(`{`)
	h.upstream.deliver(`{"audio":{"chunk":"x"}}`)

	h.upstream.deliver(pingFrame)
	h.telephony.deliver(startFrame)
	frames := h.upstream.waitFrames(t, 2)

	if len(frames) != 2 {
		t.Fatalf("Expected pong and init, got %v", frames)
	}
	if h.bridge.Session().State() != StateBothConnected {
		t.Errorf("state = %s", h.bridge.Session().State())
	}
}

func TestBridgeUpstreamCloseDrainsWithGrace(t *testing.T) {
	grace := 80 * time.Millisecond
	notifier := &fakeNotifier{}
	h := startBridge(t, Options{GracePeriod: grace, Notifier: notifier})

	h.telephony.deliver(startFrame)
	h.upstream.waitFrames(t, 1)
	notifier.waitEvents(t, 1)

	began := time.Now()
	h.upstream.hangup()
	if err := h.wait(t); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	if elapsed := time.Since(began); elapsed < grace {
		t.Errorf("telephony closed after %v, before grace %v", elapsed, grace)
	}
	frames := h.telephony.frames(t)
	if len(frames) == 0 || frames[len(frames)-1]["event"] != "stop" {
		t.Errorf("Expected final stop frame, got %v", frames)
	}
	if !h.telephony.isClosed() {
		t.Error("telephony socket left open")
	}
	if h.bridge.Session().State() != StateClosed {
		t.Errorf("state = %s", h.bridge.Session().State())
	}
	events := notifier.seen()
	if len(events) != 2 || events[0] != "call_connected" || events[1] != "call_ended" {
		t.Errorf("events = %v", events)
	}
}

func TestBridgeTelephonyStopClosesUpstream(t *testing.T) {
	h := startBridge(t, Options{GracePeriod: time.Second})

	h.telephony.deliver(startFrame)
	h.upstream.waitFrames(t, 1)

	began := time.Now()
	h.telephony.deliver(stopFrame)
	if err := h.wait(t); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	if !h.upstream.isClosed() {
		t.Error("agent socket left open")
	}
	if elapsed := time.Since(began); elapsed >= 500*time.Millisecond {
		t.Errorf("teardown waited %v, grace should be skipped", elapsed)
	}
	for _, f := range h.telephony.frames(t) {
		if f["event"] == "stop" {
			t.Error("stop echoed back to a finished telephony stream")
		}
	}
	if !h.bridge.Session().UpstreamClosed() {
		t.Error("upstream_closed not set")
	}
}

func TestBridgeTelephonyDisconnectClosesUpstream(t *testing.T) {
	h := startBridge(t, Options{})

	h.telephony.deliver(startFrame)
	h.upstream.waitFrames(t, 1)

	h.telephony.hangup()
	if err := h.wait(t); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !h.upstream.isClosed() {
		t.Error("agent socket left open")
	}
}

func TestBridgeUpstreamWriteFailureDrains(t *testing.T) {
	h := startBridge(t, Options{})
	h.upstream.failWrites(errors.New("broken pipe"))

	h.telephony.deliver(startFrame)
	if err := h.wait(t); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	if !h.bridge.Session().UpstreamClosed() {
		t.Error("upstream_closed not set after write failure")
	}
	frames := h.telephony.frames(t)
	if len(frames) == 0 || frames[len(frames)-1]["event"] != "stop" {
		t.Errorf("Expected stop to telephony, got %v", frames)
	}
}

func TestBridgeSetupTimeout(t *testing.T) {
	notifier := &fakeNotifier{}
	h := startBridge(t, Options{
		ConnectTimeout: 30 * time.Millisecond,
		Notifier:       notifier,
		Dialer: dialerFunc(func(ctx context.Context, _ string) (Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})

	err := h.wait(t)
	if !errors.Is(err, ErrSetupTimeout) {
		t.Fatalf("Expected ErrSetupTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded in chain, got %v", err)
	}
	if !h.telephony.isClosed() {
		t.Error("telephony socket left open after failed setup")
	}
	if len(h.telephony.frames(t)) != 0 {
		t.Error("media stream started despite failed setup")
	}
	if len(notifier.seen()) != 0 {
		t.Errorf("unexpected events %v", notifier.seen())
	}
}

func TestBridgeAcquireFailure(t *testing.T) {
	errNoKey := errors.New("missing api key")
	h := startBridge(t, Options{
		Acquirer: acquirerFunc(func(context.Context) (string, error) { return "", errNoKey }),
	})

	err := h.wait(t)
	if !errors.Is(err, errNoKey) {
		t.Fatalf("Expected acquirer error, got %v", err)
	}
	if errors.Is(err, ErrSetupTimeout) {
		t.Error("acquire failure reported as timeout")
	}
	if h.bridge.Session().State() != StateClosed {
		t.Errorf("state = %s", h.bridge.Session().State())
	}
}

func TestBridgeCloseIsIdempotent(t *testing.T) {
	h := startBridge(t, Options{})

	h.bridge.Close()
	h.bridge.Close()
	if err := h.wait(t); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !h.telephony.isClosed() || !h.upstream.isClosed() {
		t.Error("Close left a leg open")
	}
}

func TestBridgeFullCallSequence(t *testing.T) {
	h := startBridge(t, Options{})

	h.telephony.deliver(startFrame)
	for _, payload := range []string{"AAAA", "BBBB", "CCCC"} {
		h.telephony.deliver(`{"event":"media","media":{"payload":"` + payload + `"}}`)
	}
	h.telephony.deliver(stopFrame)
	if err := h.wait(t); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	frames := h.upstream.frames(t)
	if len(frames) != 4 {
		t.Fatalf("Expected init + 3 chunks, got %v", frames)
	}
	if frames[0]["type"] != "conversation_initiation_client_data" {
		t.Errorf("first frame %v", frames[0])
	}
	for i, want := range []string{"AAAA", "BBBB", "CCCC"} {
		if frames[i+1]["user_audio_chunk"] != want {
			t.Errorf("chunk %d = %v, want %s", i, frames[i+1]["user_audio_chunk"], want)
		}
	}
	if !h.upstream.isClosed() {
		t.Error("agent socket left open")
	}

	if err := h.bridge.upstreamLeg().close(); err != nil {
		t.Errorf("second close error: %v", err)
	}
}

func TestBridgeStopsForwardingAfterUpstreamDisconnect(t *testing.T) {
	h := startBridge(t, Options{GracePeriod: 300 * time.Millisecond})

	h.telephony.deliver(startFrame)
	h.upstream.waitFrames(t, 1)

	h.upstream.hangup()
	deadline := time.Now().Add(2 * time.Second)
	for !h.bridge.Session().UpstreamClosed() {
		if time.Now().After(deadline) {
			t.Fatal("upstream_closed never set")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.telephony.deliver(mediaFrame)
	h.telephony.deliver(mediaFrame)
	time.Sleep(50 * time.Millisecond)

	if frames := h.upstream.frames(t); len(frames) != 1 {
		t.Errorf("Expected no sends after disconnect, got %v", frames)
	}
	if err := h.wait(t); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
}
