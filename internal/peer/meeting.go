package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loksaikotini/EduCast/internal/protocol"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 64
)

// ErrClosed is returned by sends on a meeting whose socket is gone.
var ErrClosed = errors.New("meeting connection closed")

// Meeting is one signaling connection and the peer connections it drives.
type Meeting struct {
	conn    *websocket.Conn
	factory PeerFactory
	log     *slog.Logger
	events  chan Event

	id   string
	name string

	writeMu sync.Mutex

	mu     sync.Mutex
	room   string
	roster map[string]Member
	order  []string
	peers  map[string]PeerConn

	closeOnce sync.Once
}

// Dial connects to the meeting endpoint at url with token and waits for the
// server to assign this connection its id.
func Dial(ctx context.Context, url, token string, factory PeerFactory, log *slog.Logger) (*Meeting, error) {
	if log == nil {
		log = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read connected frame: %w", err)
	}
	var hello protocol.ConnectedPayload
	if env.Type != protocol.TypeConnected || env.Decode(&hello) != nil {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", env.Type)
	}
	conn.SetReadDeadline(time.Time{})

	return &Meeting{
		conn:    conn,
		factory: factory,
		log:     log.With("conn", hello.ID),
		events:  make(chan Event, eventBuffer),
		id:      hello.ID,
		name:    hello.Name,
		roster:  make(map[string]Member),
		peers:   make(map[string]PeerConn),
	}, nil
}

// ID is the connection id the server assigned.
func (m *Meeting) ID() string { return m.id }

// Events delivers what happens in the meeting. It is closed when Run returns.
func (m *Meeting) Events() <-chan Event { return m.events }

// Room returns the joined room code, empty before Join.
func (m *Meeting) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// Roster returns the other members in join order.
func (m *Meeting) Roster() []Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Member, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.roster[id])
	}
	return out
}

// Join asks to enter room code. The roster arrives as an EventRoster.
func (m *Meeting) Join(code string) error {
	m.mu.Lock()
	m.room = code
	m.mu.Unlock()
	return m.write(protocol.MustNew(protocol.TypeJoinRoom, code, nil))
}

// SendChat posts text to the meeting chat.
func (m *Meeting) SendChat(text string) error {
	return m.write(protocol.MustNew(protocol.TypeSendMessage, m.Room(), map[string]string{"text": text}))
}

// RaiseHand toggles this participant's hand.
func (m *Meeting) RaiseHand(raised bool) error {
	return m.write(protocol.MustNew(protocol.TypeHandRaise, m.Room(), protocol.HandRaisePayload{Raised: raised}))
}

// Leave leaves the room and closes every peer connection. The socket stays
// open for another Join.
func (m *Meeting) Leave() error {
	err := m.write(protocol.MustNew(protocol.TypeLeaveRoom, "", nil))
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]PeerConn)
	m.roster = make(map[string]Member)
	m.order = nil
	m.room = ""
	m.mu.Unlock()
	closePeers(peers)
	return err
}

// Close tears down the socket and all peers. Run returns afterwards.
func (m *Meeting) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.writeMu.Lock()
		m.conn.SetWriteDeadline(time.Now().Add(writeWait))
		m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		err = m.conn.Close()

		m.mu.Lock()
		peers := m.peers
		m.peers = make(map[string]PeerConn)
		m.mu.Unlock()
		closePeers(peers)
	})
	return err
}

func closePeers(peers map[string]PeerConn) {
	for _, pc := range peers {
		pc.Close()
	}
}

func (m *Meeting) write(env protocol.Envelope) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.conn.WriteJSON(env); err != nil {
		return errors.Join(ErrClosed, err)
	}
	return nil
}

// Run handles inbound frames until the socket closes or ctx is done.
func (m *Meeting) Run(ctx context.Context) error {
	defer close(m.events)
	stop := context.AfterFunc(ctx, func() { m.Close() })
	defer stop()

	for {
		var env protocol.Envelope
		if err := m.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := m.handle(ctx, env); err != nil {
			m.log.Warn("frame handling failed", "type", env.Type, "err", err)
			m.emit(Event{Kind: EventError, Err: err})
		}
	}
}

func (m *Meeting) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Debug("event dropped, consumer is slow", "kind", ev.Kind)
	}
}

func toMember(p protocol.Peer) Member {
	return Member{ID: p.ID, Name: p.Name, HandRaised: p.HandRaised}
}

func (m *Meeting) handle(ctx context.Context, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeAllUsers:
		var peers []protocol.Peer
		if err := env.Decode(&peers); err != nil {
			return err
		}
		return m.onRoster(ctx, peers)

	case protocol.TypeUserConnected:
		var p protocol.Peer
		if err := env.Decode(&p); err != nil {
			return err
		}
		m.addMember(toMember(p))
		m.emit(Event{Kind: EventPeerJoined, PeerID: p.ID, Name: p.Name})

	case protocol.TypeOfferReceived:
		var p protocol.OfferReceivedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		return m.onOffer(ctx, p)

	case protocol.TypeAnswerReceived:
		var p protocol.AnswerReceivedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		m.mu.Lock()
		pc, ok := m.peers[p.ID]
		m.mu.Unlock()
		if !ok {
			return fmt.Errorf("answer from %s without a pending offer", p.ID)
		}
		if err := pc.ApplyAnswer(p.Signal); err != nil {
			return fmt.Errorf("apply answer from %s: %w", p.ID, err)
		}
		m.emit(Event{Kind: EventNegotiated, PeerID: p.ID})

	case protocol.TypeUserLeft:
		var id string
		if err := env.Decode(&id); err != nil {
			return err
		}
		m.removeMember(id)
		m.emit(Event{Kind: EventPeerLeft, PeerID: id})

	case protocol.TypeReceiveMessage:
		var msg protocol.ChatMessage
		if err := env.Decode(&msg); err != nil {
			return err
		}
		m.emit(Event{Kind: EventChat, PeerID: msg.Sender, Name: msg.SenderName, Text: msg.Text})

	case protocol.TypeUserHandRaised:
		var p protocol.HandRaisedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		m.mu.Lock()
		if mem, ok := m.roster[p.UserID]; ok {
			mem.HandRaised = p.Raised
			m.roster[p.UserID] = mem
		}
		m.mu.Unlock()
		m.emit(Event{Kind: EventHandRaised, PeerID: p.UserID, Name: p.Name, Raised: p.Raised})

	case protocol.TypeDrawingUpdate:
		m.emit(Event{Kind: EventDrawing, Data: env.Payload})

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		m.emit(Event{Kind: EventError, Text: p.Message, Err: fmt.Errorf("server: %s: %s", p.Code, p.Message)})

	case protocol.TypePong:
	default:
		m.log.Debug("ignoring frame", "type", env.Type)
	}
	return nil
}

// onRoster offers to every member already in the room. Members who join
// later offer to us instead.
func (m *Meeting) onRoster(ctx context.Context, peers []protocol.Peer) error {
	m.mu.Lock()
	m.roster = make(map[string]Member, len(peers))
	m.order = m.order[:0]
	for _, p := range peers {
		m.roster[p.ID] = toMember(p)
		m.order = append(m.order, p.ID)
	}
	m.mu.Unlock()
	m.emit(Event{Kind: EventRoster, Roster: m.Roster()})

	var errs []error
	for _, p := range peers {
		if p.ID == m.id {
			continue
		}
		pc, offer, err := m.factory.Offer(ctx, p.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("offer to %s: %w", p.ID, err))
			continue
		}
		m.replacePeer(p.ID, pc)
		err = m.write(protocol.MustNew(protocol.TypeSendingOffer, "", protocol.OfferPayload{
			Target: p.ID,
			Caller: m.id,
			Signal: offer,
		}))
		if err != nil {
			return err
		}
		m.emit(Event{Kind: EventOffered, PeerID: p.ID, Name: p.Name})
	}
	return errors.Join(errs...)
}

func (m *Meeting) onOffer(ctx context.Context, p protocol.OfferReceivedPayload) error {
	pc, answer, err := m.factory.Answer(ctx, p.Caller, p.Signal)
	if err != nil {
		return fmt.Errorf("answer %s: %w", p.Caller, err)
	}
	m.replacePeer(p.Caller, pc)
	err = m.write(protocol.MustNew(protocol.TypeSendingAnswer, "", protocol.AnswerPayload{
		Target: p.Caller,
		Signal: answer,
	}))
	if err != nil {
		return err
	}
	m.emit(Event{Kind: EventAnswered, PeerID: p.Caller})
	return nil
}

func (m *Meeting) replacePeer(id string, pc PeerConn) {
	m.mu.Lock()
	old := m.peers[id]
	m.peers[id] = pc
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (m *Meeting) addMember(mem Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roster[mem.ID]; !ok {
		m.order = append(m.order, mem.ID)
	}
	m.roster[mem.ID] = mem
}

func (m *Meeting) removeMember(id string) {
	m.mu.Lock()
	pc := m.peers[id]
	delete(m.peers, id)
	delete(m.roster, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
}

// PeerIDs lists the remote ids with a live peer connection, sorted.
func (m *Meeting) PeerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
