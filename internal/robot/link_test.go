package robot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory serial device. Writes are recorded and can
// trigger a scripted response; reads come from an internal pipe fed by
// emit.
type fakePort struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	writes  [][]byte
	respond func(p *fakePort, data []byte)
}

func newFakePort() *fakePort {
	pr, pw := io.Pipe()
	return &fakePort{pr: pr, pw: pw}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.pr.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	data := append([]byte(nil), b...)
	p.mu.Lock()
	p.writes = append(p.writes, data)
	respond := p.respond
	p.mu.Unlock()
	if respond != nil {
		respond(p, data)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.pw.Close()
	return p.pr.Close()
}

func (p *fakePort) emit(line string) {
	fmt.Fprintf(p.pw, "%s\n", line)
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

// blockNumOf extracts the block number from a framed block.
func blockNumOf(data []byte) int {
	return int(data[4]&0x0f)<<8 | int(data[5])
}

// ackEverything acks each written block with its own number.
func ackEverything(p *fakePort, data []byte) {
	p.emit(fmt.Sprintf("CL STATUS=ACK&NUM=%d", blockNumOf(data)))
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func quickCfg() LinkConfig {
	return LinkConfig{
		ConnectTimeout: 200 * time.Millisecond,
		AckTimeout:     50 * time.Millisecond,
		MaxAttempts:    3,
	}
}

func connectedLink(t *testing.T, port *fakePort, cfg LinkConfig) *Link {
	t.Helper()
	link := NewLink(port, cfg, testLogger())
	t.Cleanup(func() { link.Close() })
	go port.emit("CL STATUS=READY")
	require.NoError(t, link.Handshake())
	return link
}

func TestHandshake(t *testing.T) {
	port := newFakePort()
	link := connectedLink(t, port, quickCfg())
	assert.Equal(t, StateConnected, link.State())
}

func TestHandshakeTimeout(t *testing.T) {
	port := newFakePort()
	link := NewLink(port, quickCfg(), testLogger())
	defer link.Close()

	err := link.Handshake()
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, StateFaulted, link.State())
}

func TestSendBlockAcked(t *testing.T) {
	port := newFakePort()
	port.respond = ackEverything
	link := connectedLink(t, port, quickCfg())

	block := Block{Num: 1, Data: []byte{0xfa, 0x9f, 0xa1, 0xfa, 0x90, 0x01}}
	require.NoError(t, link.SendBlock(context.Background(), block))
	assert.Equal(t, uint32(1), link.CurrentBlock())
	assert.Equal(t, 1, port.writeCount())
}

func TestSendBlockBeforeHandshake(t *testing.T) {
	port := newFakePort()
	link := NewLink(port, quickCfg(), testLogger())
	defer link.Close()

	err := link.SendBlock(context.Background(), Block{Num: 1, Data: []byte{0x00}})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSendBlockRetriesThenFaults(t *testing.T) {
	port := newFakePort()
	link := connectedLink(t, port, quickCfg())

	block := Block{Num: 1, Data: []byte{0xfa, 0x9f, 0xa1, 0xfa, 0x90, 0x01}}
	err := link.SendBlock(context.Background(), block)
	require.ErrorIs(t, err, ErrFaulted)
	assert.Equal(t, StateFaulted, link.State())
	// Same payload written once per attempt.
	assert.Equal(t, 3, port.writeCount())

	// A faulted link refuses further work without touching the wire.
	err = link.SendBlock(context.Background(), block)
	require.ErrorIs(t, err, ErrFaulted)
	assert.Equal(t, 3, port.writeCount())
}

func TestSendBlockAcceptsResetAck(t *testing.T) {
	port := newFakePort()
	port.respond = func(p *fakePort, data []byte) {
		// Firmware rebooted mid-job: its counter restarted at 1.
		p.emit("CL STATUS=ACK&NUM=1")
	}
	link := connectedLink(t, port, quickCfg())

	block := Block{Num: 5, Data: []byte{0xfa, 0x9f, 0xa1, 0xfa, 0x90, 0x05}}
	require.NoError(t, link.SendBlock(context.Background(), block))
}

func TestSendBlockResyncsOnHigherAck(t *testing.T) {
	port := newFakePort()
	port.respond = func(p *fakePort, data []byte) {
		p.emit("CL STATUS=ACK&NUM=9")
	}
	link := connectedLink(t, port, quickCfg())

	block := Block{Num: 2, Data: []byte{0xfa, 0x9f, 0xa1, 0xfa, 0x90, 0x02}}
	require.NoError(t, link.SendBlock(context.Background(), block))
}

func TestSendBlockNack(t *testing.T) {
	port := newFakePort()
	port.respond = func(p *fakePort, data []byte) {
		p.emit("CL STATUS=ERROR")
	}
	link := connectedLink(t, port, quickCfg())

	err := link.SendBlock(context.Background(), Block{Num: 1, Data: []byte{0x00}})
	require.ErrorIs(t, err, ErrNack)
	assert.Equal(t, StateFaulted, link.State())
}

func TestSendBlockIgnoresNoise(t *testing.T) {
	port := newFakePort()
	port.respond = func(p *fakePort, data []byte) {
		p.emit("CL STATUS=READY")
		p.emit("garbage line")
		p.emit(fmt.Sprintf("CL STATUS=ACK&NUM=%d", blockNumOf(data)))
	}
	link := connectedLink(t, port, quickCfg())

	block := Block{Num: 1, Data: []byte{0xfa, 0x9f, 0xa1, 0xfa, 0x90, 0x01}}
	require.NoError(t, link.SendBlock(context.Background(), block))
}

func TestSendBlockCancelled(t *testing.T) {
	port := newFakePort()
	link := connectedLink(t, port, quickCfg())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := link.SendBlock(ctx, Block{Num: 1, Data: []byte{0x00}})
	require.ErrorIs(t, err, context.Canceled)
}
