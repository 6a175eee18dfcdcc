package ws

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelnet.ai/internal/protocol"
	"voxelnet.ai/internal/sim/world"
)

const (
	outQueueLen   = 512
	maxMessageLen = 64 * 1024
	readTimeout   = 60 * time.Second
	writeTimeout  = 5 * time.Second
	// Idle per-IP limiters are forgotten after this long.
	limiterTTL = 10 * time.Minute
)

type Options struct {
	// Handshakes per second per remote IP. Zero disables the limit.
	PerIPRate  float64
	PerIPBurst int
	Logger     *log.Logger
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	limiters map[string]*ipLimiter
	lastGC   time.Time
}

func NewServer(w *world.World, opts Options) *Server {
	s := &Server{
		world: w,
		log:   opts.Logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		limiters: map[string]*ipLimiter{},
	}
	return s
}

func (s *Server) logf(format string, args ...any) {
	if s.log == nil {
		return
	}
	s.log.Printf(format, args...)
}

// allow reports whether ip may start another handshake now.
func (s *Server) allow(ip string) bool {
	if s.opts.PerIPRate <= 0 {
		return true
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastGC) > limiterTTL {
		for k, l := range s.limiters {
			if now.Sub(l.lastSeen) > limiterTTL {
				delete(s.limiters, k)
			}
		}
		s.lastGC = now
	}
	l := s.limiters[ip]
	if l == nil {
		burst := s.opts.PerIPBurst
		if burst <= 0 {
			burst = 1
		}
		l = &ipLimiter{lim: rate.NewLimiter(rate.Limit(s.opts.PerIPRate), burst)}
		s.limiters[ip] = l
	}
	l.lastSeen = now
	return l.lim.AllowN(now, 1)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxMessageLen)

		if !s.allow(remoteIP(r)) {
			s.logf("ws %s: handshake rate limited", r.RemoteAddr)
			_ = writeJSON(conn, protocol.AccessDeniedMsg{
				Type:   protocol.TypeAccessDenied,
				Code:   protocol.ErrRateLimit,
				Reason: "too many connections, slow down",
			})
			closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrRateLimit)
			return
		}

		peerID := s.nextID.Add(1)
		out := make(chan []byte, outQueueLen)
		kick := make(chan string, 1)
		select {
		case s.world.Connect() <- world.Conn{PeerID: peerID, Addr: r.RemoteAddr, Out: out, Kick: kick}:
		case <-s.world.Done():
			return
		case <-r.Context().Done():
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			s.writeLoop(ctx, conn, out, kick)
		}()

		reason := s.readLoop(conn, peerID)
		cancel()
		<-writerDone

		select {
		case s.world.Leave() <- world.LeaveRequest{PeerID: peerID, Reason: reason}:
		case <-s.world.Done():
		}
	}
}

// readLoop forwards client messages to the world until the connection fails
// and returns why it ended.
func (s *Server) readLoop(conn *websocket.Conn, peerID uint64) string {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "closed"
			}
			return "read error"
		}
		if typ != websocket.TextMessage {
			continue
		}
		select {
		case s.world.Inbox() <- world.Envelope{PeerID: peerID, Raw: msg}:
		case <-s.world.Done():
			return "shutdown"
		}
	}
}

// writeLoop sends queued messages. A kick flushes what is already queued,
// which includes the ACCESS_DENIED that caused it, then closes the socket.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte, kick <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-out:
			if err := writeRaw(conn, b); err != nil {
				_ = conn.Close()
				return
			}
		case reason := <-kick:
			if flush(conn, out) == nil {
				closeWith(conn, websocket.CloseNormalClosure, reason)
			}
			_ = conn.Close()
			return
		}
	}
}

// flush writes whatever is queued without waiting for more.
func flush(conn *websocket.Conn, out <-chan []byte) error {
	for {
		select {
		case b := <-out:
			if err := writeRaw(conn, b); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}
