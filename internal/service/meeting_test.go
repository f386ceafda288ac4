package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/loksaikotini/EduCast/internal/models"
	"github.com/loksaikotini/EduCast/internal/protocol"
	"github.com/loksaikotini/EduCast/internal/registry"
)

// fakeOutbox queues frames in a bounded channel, dropping what does not fit.
type fakeOutbox struct {
	ch chan protocol.Envelope
}

func newOutbox(capacity int) *fakeOutbox {
	return &fakeOutbox{ch: make(chan protocol.Envelope, capacity)}
}

func (f *fakeOutbox) Send(env protocol.Envelope, _ bool) bool {
	select {
	case f.ch <- env:
		return true
	default:
		return false
	}
}

// drain returns every queued frame.
func (f *fakeOutbox) drain() []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case env := <-f.ch:
			out = append(out, env)
		default:
			return out
		}
	}
}

// ofType filters a drained frame list.
func ofType(envs []protocol.Envelope, typ string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, e := range envs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type meetingFixture struct {
	svc *MeetingService
	reg *registry.Registry
}

func newMeetingFixture() *meetingFixture {
	reg := registry.New()
	svc := NewMeetingService(reg, NewConns(), discardLogger())
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	return &meetingFixture{svc: svc, reg: reg}
}

// connect opens a session with a large outbox and discards the connected frame.
func (f *meetingFixture) connect(t *testing.T, id string) (*Session, *fakeOutbox) {
	t.Helper()
	s := NewSession(id, models.Identity{UserID: "user-" + id, Name: "Name " + id}, discardLogger())
	out := newOutbox(1024)
	f.svc.Connect(s, out)
	frames := out.drain()
	if len(frames) != 1 || frames[0].Type != protocol.TypeConnected {
		t.Fatalf("expected one connected frame, got %+v", frames)
	}
	return s, out
}

func decodePeers(t *testing.T, env protocol.Envelope) []string {
	t.Helper()
	var peers []protocol.Peer
	if err := json.Unmarshal(env.Payload, &peers); err != nil {
		t.Fatalf("decode all-users: %v", err)
	}
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
	}
	return ids
}

func decodeString(t *testing.T, env protocol.Envelope) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return s
}

func TestMeetingScenarioABC123(t *testing.T) {
	f := newMeetingFixture()
	s1, out1 := f.connect(t, "conn1")
	s2, out2 := f.connect(t, "conn2")

	if f.svc.RoomExists("ABC123") {
		t.Fatal("room should not exist yet")
	}

	if _, err := f.svc.Join(s1, "ABC123"); err != nil {
		t.Fatalf("join conn1: %v", err)
	}
	frames := out1.drain()
	if len(frames) != 1 || frames[0].Type != protocol.TypeAllUsers || len(decodePeers(t, frames[0])) != 0 {
		t.Fatalf("conn1 frames = %+v, want empty all-users", frames)
	}

	if _, err := f.svc.Join(s2, "abc123"); err != nil {
		t.Fatalf("join conn2: %v", err)
	}
	frames = out2.drain()
	if len(frames) != 1 || fmt.Sprint(decodePeers(t, frames[0])) != "[conn1]" {
		t.Fatalf("conn2 frames = %+v, want all-users [conn1]", frames)
	}
	frames = out1.drain()
	if len(frames) != 1 || frames[0].Type != protocol.TypeUserConnected {
		t.Fatalf("conn1 frames = %+v, want user-connected", frames)
	}
	var joined protocol.Peer
	if err := json.Unmarshal(frames[0].Payload, &joined); err != nil || joined.ID != "conn2" || joined.Name != "Name conn2" {
		t.Fatalf("user-connected payload = %s", frames[0].Payload)
	}

	if !f.svc.Leave(s1) {
		t.Fatal("conn1 leave should remove")
	}
	frames = out2.drain()
	if len(frames) != 1 || frames[0].Type != protocol.TypeUserLeft || decodeString(t, frames[0]) != "conn1" {
		t.Fatalf("conn2 frames = %+v, want user-left conn1", frames)
	}
	if !f.svc.RoomExists("ABC123") || f.svc.RoomSize("ABC123") != 1 {
		t.Fatal("room should still exist with conn2")
	}

	f.svc.Leave(s2)
	if f.svc.RoomExists("ABC123") {
		t.Fatal("room should be gone after last leave")
	}
	if len(out1.drain()) != 0 {
		t.Fatal("conn1 left and should not receive anything")
	}
}

func TestJoinRosterAndAnnouncements(t *testing.T) {
	f := newMeetingFixture()
	a, outA := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	c, outC := f.connect(t, "C")

	f.svc.Join(b, "ROOM")
	f.svc.Join(c, "ROOM")
	outB.drain()
	outC.drain()

	roster, err := f.svc.Join(a, "ROOM")
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster = %+v", roster)
	}
	frames := outA.drain()
	if len(frames) != 1 || fmt.Sprint(decodePeers(t, frames[0])) != "[B C]" {
		t.Fatalf("A frames = %+v, want all-users [B C]", frames)
	}
	for name, out := range map[string]*fakeOutbox{"B": outB, "C": outC} {
		got := ofType(out.drain(), protocol.TypeUserConnected)
		if len(got) != 1 {
			t.Fatalf("%s got %d user-connected, want 1", name, len(got))
		}
	}
}

func TestRejoinResendsRosterOnly(t *testing.T) {
	f := newMeetingFixture()
	a, outA := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	f.svc.Join(a, "ROOM")
	f.svc.Join(b, "ROOM")
	outA.drain()
	outB.drain()

	if _, err := f.svc.Join(b, "room"); err != nil {
		t.Fatal(err)
	}
	if f.svc.RoomSize("ROOM") != 2 {
		t.Fatalf("size = %d, want 2", f.svc.RoomSize("ROOM"))
	}
	frames := outB.drain()
	if len(frames) != 1 || fmt.Sprint(decodePeers(t, frames[0])) != "[A]" {
		t.Fatalf("B frames = %+v", frames)
	}
	if got := outA.drain(); len(got) != 0 {
		t.Fatalf("A should get nothing on re-join, got %+v", got)
	}
}

func TestJoinOtherRoomLeavesFirst(t *testing.T) {
	f := newMeetingFixture()
	a, _ := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	f.svc.Join(a, "ONE")
	f.svc.Join(b, "ONE")
	outB.drain()

	f.svc.Join(a, "TWO")
	if a.Room() != "TWO" {
		t.Fatalf("room = %q", a.Room())
	}
	if got := ofType(outB.drain(), protocol.TypeUserLeft); len(got) != 1 {
		t.Fatalf("B should see A leave ONE, got %+v", got)
	}
	if f.svc.RoomSize("ONE") != 1 || f.svc.RoomSize("TWO") != 1 {
		t.Fatal("A should be in exactly one room")
	}
}

func TestJoinRejectsBlankCode(t *testing.T) {
	f := newMeetingFixture()
	a, _ := f.connect(t, "A")
	if _, err := f.svc.Join(a, "   "); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}

func TestLeaveThenDisconnectBroadcastsOnce(t *testing.T) {
	f := newMeetingFixture()
	a, _ := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	f.svc.Join(a, "ROOM")
	f.svc.Join(b, "ROOM")
	outB.drain()

	f.svc.Leave(a)
	f.svc.Disconnect(a)
	f.svc.Disconnect(a)

	if got := ofType(outB.drain(), protocol.TypeUserLeft); len(got) != 1 {
		t.Fatalf("B got %d user-left, want 1", len(got))
	}
	if _, ok := f.svc.conns.Get("A"); ok {
		t.Fatal("A should be unregistered after disconnect")
	}
}

func TestLeaveWithoutJoinIsSilent(t *testing.T) {
	f := newMeetingFixture()
	a, _ := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	f.svc.Join(b, "ROOM")
	outB.drain()

	if f.svc.Leave(a) {
		t.Fatal("leave without join should report false")
	}
	f.svc.Disconnect(a)
	if got := outB.drain(); len(got) != 0 {
		t.Fatalf("B should receive nothing, got %+v", got)
	}
}

func TestRelayOfferAndAnswer(t *testing.T) {
	f := newMeetingFixture()
	a, outA := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	f.svc.Join(b, "ROOM")
	f.svc.Join(a, "ROOM")
	outA.drain()
	outB.drain()

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)
	if !f.svc.RelayOffer(a, "B", offer) {
		t.Fatal("offer to present target should be relayed")
	}
	frames := outB.drain()
	if len(frames) != 1 || frames[0].Type != protocol.TypeOfferReceived {
		t.Fatalf("B frames = %+v", frames)
	}
	var got protocol.OfferReceivedPayload
	if err := json.Unmarshal(frames[0].Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Caller != "A" || string(got.Signal) != string(offer) {
		t.Fatalf("offer-received = %+v", got)
	}

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0..."}`)
	if !f.svc.RelayAnswer(b, "A", answer) {
		t.Fatal("answer should be relayed")
	}
	frames = outA.drain()
	var ans protocol.AnswerReceivedPayload
	if len(frames) != 1 || json.Unmarshal(frames[0].Payload, &ans) != nil || ans.ID != "B" || string(ans.Signal) != string(answer) {
		t.Fatalf("A frames = %+v", frames)
	}
}

func TestRelayToAbsentTargetIsDropped(t *testing.T) {
	f := newMeetingFixture()
	a, outA := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	c, outC := f.connect(t, "C")
	f.svc.Join(a, "ROOM")
	f.svc.Join(b, "ROOM")
	f.svc.Join(c, "OTHER")
	f.svc.Leave(b)
	outA.drain()
	outB.drain()
	outC.drain()

	signal := json.RawMessage(`{}`)
	for _, target := range []string{"B", "C", "ghost", "", "A"} {
		if f.svc.RelayOffer(a, target, signal) {
			t.Fatalf("offer to %q should not be relayed", target)
		}
		if f.svc.RelayAnswer(a, target, signal) {
			t.Fatalf("answer to %q should not be relayed", target)
		}
	}
	// a sender outside any room cannot signal either
	if f.svc.RelayOffer(b, "A", signal) {
		t.Fatal("offer from unjoined sender should not be relayed")
	}
	if f.svc.RelayAnswer(b, "A", signal) {
		t.Fatal("answer from unjoined sender should not be relayed")
	}
	for name, out := range map[string]*fakeOutbox{"A": outA, "B": outB, "C": outC} {
		if got := out.drain(); len(got) != 0 {
			t.Fatalf("%s should receive nothing, got %+v", name, got)
		}
	}
}

func TestSendChat(t *testing.T) {
	f := newMeetingFixture()
	a, outA := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	c, outC := f.connect(t, "C")
	f.svc.Join(a, "ROOM")
	f.svc.Join(b, "ROOM")
	outA.drain()
	outB.drain()

	var msg protocol.ChatMessage
	if err := json.Unmarshal([]byte(`{"text":"  hi all ","id":"x1","sender":"spoof"}`), &msg); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SendChat(a, "room", msg); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	for name, out := range map[string]*fakeOutbox{"A": outA, "B": outB} {
		frames := out.drain()
		if len(frames) != 1 || frames[0].Type != protocol.TypeReceiveMessage {
			t.Fatalf("%s frames = %+v", name, frames)
		}
		var fields map[string]any
		if err := json.Unmarshal(frames[0].Payload, &fields); err != nil {
			t.Fatal(err)
		}
		if fields["text"] != "hi all" || fields["sender"] != "A" || fields["senderName"] != "Name A" || fields["id"] != "x1" {
			t.Fatalf("%s receive-message = %v", name, fields)
		}
	}

	// browser clients send Date.now() and their own id; both are replaced
	msg = protocol.ChatMessage{}
	if err := json.Unmarshal([]byte(`{"text":"later","timestamp":1700000000000,"sender":123}`), &msg); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SendChat(b, "ROOM", msg); err != nil {
		t.Fatalf("SendChat with numeric stamps: %v", err)
	}
	for name, out := range map[string]*fakeOutbox{"A": outA, "B": outB} {
		frames := out.drain()
		if len(frames) != 1 {
			t.Fatalf("%s frames = %+v", name, frames)
		}
		var fields map[string]any
		if err := json.Unmarshal(frames[0].Payload, &fields); err != nil {
			t.Fatal(err)
		}
		if fields["text"] != "later" || fields["sender"] != "B" || fields["timestamp"] != "2026-05-01T10:00:00Z" {
			t.Fatalf("%s receive-message = %v", name, fields)
		}
	}

	if err := f.svc.SendChat(a, "ROOM", protocol.ChatMessage{Text: "  "}); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("blank text err = %v", err)
	}
	if err := f.svc.SendChat(c, "ROOM", protocol.ChatMessage{Text: "intruder"}); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("non-member err = %v", err)
	}
	if err := f.svc.SendChat(a, "GONE", protocol.ChatMessage{Text: "hello?"}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("missing room err = %v", err)
	}
	if got := append(append(outA.drain(), outB.drain()...), outC.drain()...); len(got) != 0 {
		t.Fatalf("failed sends must not broadcast, got %+v", got)
	}
}

func TestRaiseHand(t *testing.T) {
	f := newMeetingFixture()
	a, outA := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	f.svc.Join(a, "ROOM")
	f.svc.Join(b, "ROOM")
	outA.drain()
	outB.drain()

	if err := f.svc.RaiseHand(b, "ROOM", true); err != nil {
		t.Fatalf("RaiseHand: %v", err)
	}
	for name, out := range map[string]*fakeOutbox{"A": outA, "B": outB} {
		frames := out.drain()
		var p protocol.HandRaisedPayload
		if len(frames) != 1 || json.Unmarshal(frames[0].Payload, &p) != nil {
			t.Fatalf("%s frames = %+v", name, frames)
		}
		if p.UserID != "B" || !p.Raised || p.Name != "Name B" {
			t.Fatalf("%s hand payload = %+v", name, p)
		}
	}
	if ps := f.svc.Participants("ROOM"); !ps[1].HandRaised {
		t.Fatalf("registry not updated: %+v", ps)
	}

	// a late joiner sees the raised hand in its roster
	c, outC := f.connect(t, "C")
	f.svc.Join(c, "ROOM")
	var peers []protocol.Peer
	frames := outC.drain()
	if err := json.Unmarshal(frames[0].Payload, &peers); err != nil || !peers[1].HandRaised {
		t.Fatalf("C roster = %s", frames[0].Payload)
	}

	if err := f.svc.RaiseHand(a, "NOPE", true); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("missing room err = %v", err)
	}
	d, _ := f.connect(t, "D")
	if err := f.svc.RaiseHand(d, "ROOM", true); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("non-member err = %v", err)
	}
}

func TestDrawIsBestEffort(t *testing.T) {
	f := newMeetingFixture()
	a, outA := f.connect(t, "A")
	b, outB := f.connect(t, "B")
	c := NewSession("C", models.Identity{UserID: "uc", Name: "C"}, discardLogger())
	full := newOutbox(0)
	f.svc.conns.Register("C", full)

	f.svc.Join(a, "ROOM")
	f.svc.Join(b, "ROOM")
	f.svc.Join(c, "ROOM")
	outA.drain()
	outB.drain()

	change := json.RawMessage(`{"stroke":[1,2,3]}`)
	if n := f.svc.Draw(a, "room", change); n != 1 {
		t.Fatalf("delivered = %d, want 1 (B; C is full)", n)
	}
	if got := outA.drain(); len(got) != 0 {
		t.Fatalf("sender should not get its own delta, got %+v", got)
	}
	frames := outB.drain()
	if len(frames) != 1 || frames[0].Type != protocol.TypeDrawingUpdate || string(frames[0].Payload) != string(change) {
		t.Fatalf("B frames = %+v", frames)
	}
	if n := f.svc.Draw(a, "OTHER", change); n != 0 {
		t.Fatalf("delta for a room the sender is not in should be ignored, delivered %d", n)
	}
}

func TestNewMeetingCodeSkipsLiveRooms(t *testing.T) {
	f := newMeetingFixture()
	a, _ := f.connect(t, "A")
	f.svc.Join(a, "TAKEN1")

	codes := []string{"TAKEN1", "TAKEN1", "FREE22"}
	f.svc.code = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	code, err := f.svc.NewMeetingCode()
	if err != nil || code != "FREE22" {
		t.Fatalf("code = %q, err = %v", code, err)
	}

	f.svc.code = func() (string, error) { return "TAKEN1", nil }
	if _, err := f.svc.NewMeetingCode(); !errors.Is(err, ErrCodeGenerationFailed) {
		t.Fatalf("err = %v, want ErrCodeGenerationFailed", err)
	}
}

// TestConcurrentViewsConverge runs joins and leaves concurrently and checks
// that every remaining member's view, rebuilt only from the frames it
// received, matches the registry.
func TestConcurrentViewsConverge(t *testing.T) {
	f := newMeetingFixture()
	const n = 30

	sessions := make([]*Session, n)
	outs := make([]*fakeOutbox, n)
	for i := range n {
		sessions[i], outs[i] = f.connect(t, fmt.Sprintf("c%02d", i))
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.svc.Join(sessions[i], "BUSY")
			if i%3 == 0 {
				f.svc.Disconnect(sessions[i])
			}
		}(i)
	}
	wg.Wait()

	want := map[string]bool{}
	for _, p := range f.svc.Participants("BUSY") {
		want[p.ConnID] = true
	}
	if len(want) != n-n/3 {
		t.Fatalf("registry has %d members, want %d", len(want), n-n/3)
	}

	for i, s := range sessions {
		if !want[s.ID] {
			continue
		}
		view := map[string]bool{}
		for _, env := range outs[i].drain() {
			switch env.Type {
			case protocol.TypeAllUsers:
				for _, id := range decodePeers(t, env) {
					view[id] = true
				}
			case protocol.TypeUserConnected:
				var p protocol.Peer
				json.Unmarshal(env.Payload, &p)
				view[p.ID] = true
			case protocol.TypeUserLeft:
				delete(view, decodeString(t, env))
			}
		}
		view[s.ID] = true
		if got, exp := keys(view), keys(want); got != exp {
			t.Fatalf("%s view %s, registry %s", s.ID, got, exp)
		}
	}
}

func keys(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return fmt.Sprint(out)
}
