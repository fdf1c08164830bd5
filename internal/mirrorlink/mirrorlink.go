package mirrorlink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mirrorglass/mirrorcam/internal/config"
	"github.com/mirrorglass/mirrorcam/internal/motion"
)

// StatusMessage is the JSON payload pushed to the mirror appliance
type StatusMessage struct {
	Type           string    `json:"type"` // "transition" or "heartbeat"
	MotionDetected bool      `json:"motion_detected"`
	Confidence     float64   `json:"confidence"`
	ObjectCount    int       `json:"object_count"`
	FPS            float64   `json:"fps"`
	Timestamp      time.Time `json:"timestamp"`
}

// StatusSource is the engine-side read the publisher polls
type StatusSource interface {
	Status() motion.Status
}

// Publisher maintains a websocket connection to the mirror appliance and
// pushes a status message on every committed motion transition plus a
// periodic heartbeat. Connection trouble is its own problem: sends are
// dropped while disconnected and the dial is retried with backoff, so the
// detection pipeline never feels the network.
type Publisher struct {
	cfg    config.MirrorLinkConfig
	source StatusSource
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sendCh chan StatusMessage
}

// NewPublisher creates a mirror link publisher
func NewPublisher(ctx context.Context, cfg config.MirrorLinkConfig, source StatusSource, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	pCtx, cancel := context.WithCancel(ctx)
	return &Publisher{
		cfg:    cfg,
		source: source,
		logger: logger.Named("mirrorlink"),
		ctx:    pCtx,
		cancel: cancel,
		sendCh: make(chan StatusMessage, 16),
	}
}

// Start launches the connection loop
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.run()
}

// MotionStateChanged implements motion.StateListener; transitions are
// queued without blocking the dispatcher.
func (p *Publisher) MotionStateChanged(previous, current bool) {
	msg := p.statusMessage("transition")
	msg.MotionDetected = current

	select {
	case p.sendCh <- msg:
	default:
		p.logger.Warn("Mirror link queue full, dropping transition message")
	}
}

func (p *Publisher) statusMessage(kind string) StatusMessage {
	st := p.source.Status()
	return StatusMessage{
		Type:           kind,
		MotionDetected: st.MotionDetected,
		Confidence:     st.Confidence,
		ObjectCount:    st.MotionBoxCount,
		FPS:            st.FPS,
		Timestamp:      time.Now(),
	}
}

// run dials, pumps messages until the connection drops, and redials
func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		conn, err := p.dial()
		if err != nil {
			// context canceled; shutting down
			return
		}

		p.pump(conn)
		conn.Close()

		select {
		case <-p.ctx.Done():
			return
		default:
			p.logger.Info("Mirror link disconnected, reconnecting")
		}
	}
}

func (p *Publisher) dial() (*websocket.Conn, error) {
	var conn *websocket.Conn

	op := func() error {
		dialCtx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
		defer cancel()

		c, _, err := websocket.DefaultDialer.DialContext(dialCtx, p.cfg.URL, nil)
		if err != nil {
			p.logger.Warn("Mirror link dial failed", zap.Error(err))
			return err
		}
		conn = c
		return nil
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = time.Second
	ebo.MaxInterval = 30 * time.Second
	ebo.MaxElapsedTime = 0 // retry until canceled

	if err := backoff.Retry(op, backoff.WithContext(ebo, p.ctx)); err != nil {
		return nil, err
	}

	p.logger.Info("Mirror link connected", zap.String("url", p.cfg.URL))
	return conn, nil
}

// pump writes queued transitions and heartbeats until the connection or
// the context dies.
func (p *Publisher) pump(conn *websocket.Conn) {
	heartbeat := time.NewTicker(p.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		var msg StatusMessage
		select {
		case <-p.ctx.Done():
			deadline := time.Now().Add(p.cfg.WriteTimeout)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case msg = <-p.sendCh:
		case <-heartbeat.C:
			msg = p.statusMessage("heartbeat")
		}

		if err := p.write(conn, msg); err != nil {
			p.logger.Warn("Mirror link write failed", zap.Error(err))
			return
		}
	}
}

func (p *Publisher) write(conn *websocket.Conn, msg StatusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Stop closes the link and waits for the loop to exit
func (p *Publisher) Stop() {
	p.cancel()
	p.wg.Wait()
}
