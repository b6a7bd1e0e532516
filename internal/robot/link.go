package robot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("link not connected")
	ErrFaulted          = errors.New("link is faulted")
	ErrNack             = errors.New("robot rejected block")
	ErrAckTimeout       = errors.New("timed out waiting for acknowledgement")
)

// LinkState is the lifecycle of a serial connection. Faulted is
// terminal: a faulted link never sends again, a new Open is required.
type LinkState string

const (
	StateDisconnected LinkState = "disconnected"
	StateConnected    LinkState = "connected"
	StateFaulted      LinkState = "faulted"
)

const (
	defaultBaudRate    = 115200
	defaultAckTimeout  = 3 * time.Second
	defaultMaxAttempts = 3
	lineQueueSize      = 32
)

// Firmware status lines, e.g. "CL STATUS=READY" when idle and
// "CL STATUS=ACK&NUM=17" after each received block.
var ackRe = regexp.MustCompile(`^CL STATUS=ACK&NUM=(\d+)$`)

const (
	statusPrefix = "CL "
	statusReady  = "CL STATUS=READY"
	statusError  = "CL STATUS=ERROR"
)

type LinkConfig struct {
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	MaxAttempts    int
}

func (c *LinkConfig) fill() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// Link owns one serial connection to the robot. Blocks are written
// strictly in submission order: SendBlock does not return until the
// block is acknowledged, rejected or the retry budget is exhausted, so
// no block N+1 ever reaches the wire before block N is acked.
type Link struct {
	port  io.ReadWriteCloser
	cfg   LinkConfig
	log   *logrus.Entry
	lines chan string

	mu           sync.Mutex
	state        LinkState
	currentBlock uint32
}

// Open connects to the robot over a serial device and performs the
// initial handshake: the firmware must report a status line within the
// connect timeout, otherwise the device is considered unresponsive.
func Open(device string, baudRate int, cfg LinkConfig, log *logrus.Logger) (*Link, error) {
	if baudRate <= 0 {
		baudRate = defaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnectionFailed, device, err)
	}

	link := NewLink(port, cfg, log)
	if err := link.Handshake(); err != nil {
		link.Close()
		return nil, err
	}
	return link, nil
}

// NewLink wraps an already open port. The link starts reading status
// lines immediately but stays Disconnected until Handshake succeeds.
func NewLink(port io.ReadWriteCloser, cfg LinkConfig, log *logrus.Logger) *Link {
	cfg.fill()
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Link{
		port:  port,
		cfg:   cfg,
		log:   log.WithField("component", "link"),
		lines: make(chan string, lineQueueSize),
		state: StateDisconnected,
	}
	go l.readLoop()
	return l
}

// readLoop pumps status lines from the robot into the line queue. It
// exits when the port closes, closing the queue behind it.
func (l *Link) readLoop() {
	defer close(l.lines)
	scanner := bufio.NewScanner(l.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l.log.WithField("line", line).Debug("robot status")
		select {
		case l.lines <- line:
		default:
			// Queue full: drop the oldest line so fresh status wins.
			select {
			case <-l.lines:
			default:
			}
			l.lines <- line
		}
	}
}

// Handshake waits for the firmware to report any status line. The
// firmware emits READY periodically while idle.
func (l *Link) Handshake() error {
	timer := time.NewTimer(l.cfg.ConnectTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-l.lines:
			if !ok {
				l.setState(StateFaulted)
				return fmt.Errorf("%w: port closed during handshake", ErrConnectionFailed)
			}
			if strings.HasPrefix(line, statusPrefix) {
				l.setState(StateConnected)
				l.log.Info("robot handshake complete")
				return nil
			}
		case <-timer.C:
			l.setState(StateFaulted)
			return fmt.Errorf("%w: no status from robot within %s", ErrConnectionFailed, l.cfg.ConnectTimeout)
		}
	}
}

// SendBlock transmits one framed block and waits for its
// acknowledgement. On ack timeout the same payload is retried up to
// the configured attempt budget; when the budget is exhausted the link
// faults and the current job is lost.
func (l *Link) SendBlock(ctx context.Context, block Block) error {
	switch l.State() {
	case StateFaulted:
		return ErrFaulted
	case StateDisconnected:
		return ErrNotConnected
	}

	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := l.port.Write(block.Data); err != nil {
			l.setState(StateFaulted)
			return fmt.Errorf("%w: write block %d: %v", ErrConnectionFailed, block.Num, err)
		}

		err := l.awaitAck(ctx, block.Num)
		switch {
		case err == nil:
			l.mu.Lock()
			l.currentBlock = uint32(block.Num)
			l.mu.Unlock()
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, ErrAckTimeout):
			lastErr = err
			l.log.WithFields(logrus.Fields{
				"block":   block.Num,
				"attempt": attempt,
			}).Warn("ack timeout, retrying block")
		default:
			l.setState(StateFaulted)
			return err
		}
	}

	l.setState(StateFaulted)
	return fmt.Errorf("%w: block %d after %d attempts: %v",
		ErrFaulted, block.Num, l.cfg.MaxAttempts, lastErr)
}

// awaitAck consumes status lines until the block is acked, rejected or
// the per-block timeout fires.
func (l *Link) awaitAck(ctx context.Context, num uint16) error {
	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrAckTimeout
		case line, ok := <-l.lines:
			if !ok {
				return fmt.Errorf("%w: port closed", ErrConnectionFailed)
			}
			if line == statusError {
				return fmt.Errorf("%w: block %d", ErrNack, num)
			}
			m := ackRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			acked, err := strconv.ParseUint(m[1], 10, 32)
			if err != nil {
				l.log.WithField("line", line).Warn("unparseable ack number")
				continue
			}
			switch {
			case acked == uint64(num):
				return nil
			case acked == 1:
				// The firmware resets its counter after a reboot.
				// Keep going rather than failing the draw.
				l.log.Debug("ack counter reset by robot")
				return nil
			case acked > uint64(num):
				// We probably attached while blocks from an earlier
				// run were still being drained. Accept and resync.
				l.log.WithField("acked", acked).Info("resyncing block counter")
				return nil
			default:
				l.log.WithFields(logrus.Fields{
					"acked":    acked,
					"expected": num,
				}).Warn("ack for non-current block")
			}
		}
	}
}

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// CurrentBlock returns the number of the last acknowledged block.
func (l *Link) CurrentBlock() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentBlock
}

func (l *Link) setState(s LinkState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

func (l *Link) Close() error {
	l.setState(StateDisconnected)
	return l.port.Close()
}
