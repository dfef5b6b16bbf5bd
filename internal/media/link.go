package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mlaurenti/eleonora/internal/avatar"
)

// TrackKind distinguishes inbound media track types.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track identifies one remote media track on the live transport.
type Track struct {
	ID   string    `json:"id"`
	Kind TrackKind `json:"kind"`
}

// Playback carries the playback settings applied when an audio track is
// attached. Browsers default to muted autoplay, so the link always
// forces unmuted playback at full volume after the user gesture that
// started the call.
type Playback struct {
	Muted  bool
	Volume float64
}

// Sink receives inbound tracks from the live transport.
type Sink interface {
	AttachVideo(t Track)
	AttachAudio(t Track, playback Playback)
	Detach(t Track)
	// Release drops the sink's output entirely. Called on disconnect.
	Release()
}

// ConnectError reports a transport-level connect failure. The link
// never retries on its own; the caller decides whether to reconnect.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("media connect failed: %v", e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

type transportEvent struct {
	Type  string `json:"type"`
	Track Track  `json:"track"`
}

// Link owns at most one live media transport bound to a provisioned
// avatar session. Inbound video attaches to the sink's visual output
// and inbound audio attaches unmuted at maximum volume.
type Link struct {
	sink   Sink
	dialer *websocket.Dialer

	// onDown is invoked when an established transport drops.
	onDown func(reason string)

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	attached  map[string]Track
}

func NewLink(sink Sink, onDown func(reason string)) *Link {
	return &Link{
		sink:     sink,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		onDown:   onDown,
		attached: make(map[string]Track),
	}
}

// Connect opens the transport to the session's media endpoint,
// authenticated with the session access token, and waits for the
// transport-level connected event. Calling Connect while already
// connected is a no-op.
func (l *Link) Connect(ctx context.Context, sess *avatar.Session) error {
	if sess == nil {
		return &ConnectError{Err: fmt.Errorf("no session: create a stream first")}
	}

	l.mu.Lock()
	if l.connected {
		l.mu.Unlock()
		return nil
	}
	if l.conn != nil {
		// A connect is already in flight; keep a single transport.
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	endpoint, err := mediaURL(sess)
	if err != nil {
		return &ConnectError{Err: err}
	}

	conn, res, err := l.dialer.DialContext(ctx, endpoint, http.Header{})
	if err != nil {
		if res != nil {
			return &ConnectError{Err: fmt.Errorf("dial %s: status %d: %w", sess.MediaEndpoint, res.StatusCode, err)}
		}
		return &ConnectError{Err: fmt.Errorf("dial %s: %w", sess.MediaEndpoint, err)}
	}

	l.mu.Lock()
	if l.connected || l.conn != nil {
		l.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	l.conn = conn
	l.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(20 * time.Second))
	}

	// The transport reports readiness before any media flows.
	for {
		var ev transportEvent
		if err := conn.ReadJSON(&ev); err != nil {
			l.reset()
			return &ConnectError{Err: fmt.Errorf("await connected: %w", err)}
		}
		if ev.Type == "connected" {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()

	go l.readLoop(conn)
	return nil
}

// Connected reports whether a live transport is established.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// AttachedTracks returns the currently attached remote tracks.
func (l *Link) AttachedTracks() []Track {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Track, 0, len(l.attached))
	for _, t := range l.attached {
		out = append(out, t)
	}
	return out
}

// Disconnect tears down the transport, detaches all tracks and
// releases the sink. Safe to call any number of times, including when
// no connection was ever established.
func (l *Link) Disconnect() {
	l.mu.Lock()
	conn := l.conn
	tracks := l.attached
	l.conn = nil
	l.connected = false
	l.attached = make(map[string]Track)
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, t := range tracks {
		l.sink.Detach(t)
	}
	l.sink.Release()
}

func (l *Link) readLoop(conn *websocket.Conn) {
	for {
		var ev transportEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if l.markDown(conn) && l.onDown != nil {
				l.onDown(err.Error())
			}
			return
		}

		switch ev.Type {
		case "track_subscribed":
			l.attach(ev.Track)
		case "track_unsubscribed":
			l.detach(ev.Track)
		case "disconnected":
			if l.markDown(conn) && l.onDown != nil {
				l.onDown("remote disconnect")
			}
			return
		}
	}
}

func (l *Link) attach(t Track) {
	if t.ID == "" {
		return
	}
	l.mu.Lock()
	if _, ok := l.attached[t.ID]; ok {
		l.mu.Unlock()
		return
	}
	l.attached[t.ID] = t
	l.mu.Unlock()

	switch t.Kind {
	case TrackVideo:
		l.sink.AttachVideo(t)
	case TrackAudio:
		l.sink.AttachAudio(t, Playback{Muted: false, Volume: 1.0})
	}
}

func (l *Link) detach(t Track) {
	l.mu.Lock()
	_, ok := l.attached[t.ID]
	delete(l.attached, t.ID)
	l.mu.Unlock()
	if ok {
		l.sink.Detach(t)
	}
}

// markDown clears state for a dropped transport. It reports false when
// the drop was already handled (for example by an explicit Disconnect),
// so onDown fires at most once per established transport.
func (l *Link) markDown(conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != conn {
		return false
	}
	l.conn = nil
	l.connected = false
	return true
}

func (l *Link) reset() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.connected = false
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func mediaURL(sess *avatar.Session) (string, error) {
	u, err := url.Parse(strings.TrimSpace(sess.MediaEndpoint))
	if err != nil {
		return "", fmt.Errorf("media endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("access_token", sess.AccessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
