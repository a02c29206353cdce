package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// Session is one framed TCP connection. Network I/O runs in dedicated
// goroutines; inbound frames are consumed by the tick loop from InQueue.
type Session struct {
	ID   uint64
	conn net.Conn

	state  atomic.Int32 // packet.SessionState stored as int32
	peerID atomic.Value // peer.ID, set once the peer has been welcomed

	InQueue  chan []byte // tick loop reads frames from here
	OutQueue chan []byte // writer goroutine reads from here

	IP          string
	Name        string
	ConnectedAt time.Time

	outMu  sync.Mutex
	outBuf [][]byte // flushed by the output system

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	writeTimeout time.Duration

	// Per-second frame rate limiter (readLoop goroutine only, no lock needed)
	pktPerSec  int
	pktCount   int
	pktResetAt int64

	log *zap.Logger
}

// SessionOptions sizes a session's queues and limits.
type SessionOptions struct {
	InQueueSize  int
	OutQueueSize int
	MaxPerSecond int // 0 = unlimited
	WriteTimeout time.Duration
}

func NewSession(conn net.Conn, id uint64, opts SessionOptions, log *zap.Logger) *Session {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Session{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan []byte, opts.InQueueSize),
		OutQueue:     make(chan []byte, opts.OutQueueSize),
		IP:           conn.RemoteAddr().String(),
		ConnectedAt:  time.Now(),
		closeCh:      make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		pktPerSec:    opts.MaxPerSecond,
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateHandshake))
	s.peerID.Store(peer.None)
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// PeerID is None until the handshake completes.
func (s *Session) PeerID() peer.ID {
	return s.peerID.Load().(peer.ID)
}

func (s *Session) SetPeerID(id peer.ID) {
	s.peerID.Store(id)
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Send encodes m and buffers it until the next FlushOutput.
func (s *Session) Send(m packet.Message) {
	s.SendRaw(packet.Encode(m))
}

// SendRaw buffers an already encoded message.
func (s *Session) SendRaw(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outMu.Lock()
	s.outBuf = append(s.outBuf, data)
	s.outMu.Unlock()
}

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	s.outMu.Lock()
	pending := s.outBuf
	s.outBuf = nil
	s.outMu.Unlock()

	for _, data := range pending {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("output queue full, closing slow connection")
			s.Close()
			return
		}
	}
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("frame rate exceeded, closing connection", zap.Int("pps", s.pktCount))
				return
			}
		}

		// Block rather than drop: a lost ack would stall a barrier until timeout.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOne(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOne(data []byte) bool {
	if ce := s.log.Check(zap.DebugLevel, "TX"); ce != nil {
		ce.Write(zap.Uint8("op", data[0]), zap.Int("len", len(data)))
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
