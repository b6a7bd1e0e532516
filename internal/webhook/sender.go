// Package webhook pushes draw lifecycle events to an optional
// operator-configured endpoint.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id"`
	Source    string    `json:"source"`
	Error     string    `json:"error,omitempty"`
}

type Config struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
	QueueSize  int
}

// Sender delivers payloads asynchronously from a bounded queue. A full
// queue drops the event rather than slowing the draw path down.
type Sender struct {
	url        string
	secret     string
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	queue      chan *Payload
	stopCh     chan struct{}
	wg         sync.WaitGroup
	log        *logrus.Entry
}

func NewSender(cfg Config, log *logrus.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Sender{
		url:        cfg.URL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		queue:      make(chan *Payload, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		log:        log.WithField("component", "webhook"),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// NotifyDraw implements the scheduler's notifier interface.
func (s *Sender) NotifyDraw(event, jobID, source string, drawErr error) {
	payload := &Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		JobID:     jobID,
		Source:    source,
	}
	if drawErr != nil {
		payload.Error = drawErr.Error()
	}

	select {
	case s.queue <- payload:
	default:
		s.log.WithField("event", event).Warn("webhook queue full, dropping event")
	}
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case payload := <-s.queue:
			s.deliver(payload)
		}
	}
}

func (s *Sender) deliver(payload *Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal webhook payload")
		return
	}

	for attempt := 1; attempt <= s.retryCount; attempt++ {
		err := s.post(body)
		if err == nil {
			return
		}
		s.log.WithError(err).WithFields(logrus.Fields{
			"event":   payload.Event,
			"attempt": attempt,
		}).Warn("webhook delivery failed")

		select {
		case <-s.stopCh:
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *Sender) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set("X-Signature", Sign(body, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the payload body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
