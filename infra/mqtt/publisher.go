package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/connopt/core/optimize"
	"github.com/kilianp07/connopt/infra/logger"
)

// ErrPublishTimeout is returned when the broker does not confirm a publish
// in time.
var ErrPublishTimeout = errors.New("timeout waiting for publish confirmation")

// ResultMessage is the payload published for every run.
type ResultMessage struct {
	RunID        string              `json:"run_id"`
	ScheduleID   string              `json:"schedule_id"`
	Success      bool                `json:"success"`
	Termination  string              `json:"termination"`
	InitialScore float64             `json:"initial_score"`
	Score        float64             `json:"score"`
	Connections  []ConnectionMessage `json:"connections"`
	Message      string              `json:"message,omitempty"`
	Timestamp    int64               `json:"timestamp"`
}

// ConnectionMessage is the per-connection part of a ResultMessage.
type ConnectionMessage struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	After  string  `json:"after"`
	Trip   int     `json:"trip,omitempty"`
	Shift  float64 `json:"shift,omitempty"`
}

// NewResultMessage builds the payload of res.
func NewResultMessage(scheduleID string, res *optimize.Result, at time.Time) ResultMessage {
	msg := ResultMessage{
		RunID:        res.RunID,
		ScheduleID:   scheduleID,
		Success:      res.Success,
		Termination:  string(res.Statistics.Termination),
		InitialScore: res.InitialScore,
		Score:        res.Score,
		Message:      res.Message,
		Timestamp:    at.UnixMilli(),
	}
	for _, c := range res.Connections {
		msg.Connections = append(msg.Connections, ConnectionMessage{
			ID: c.ConnectionID, Status: string(c.Status), After: string(c.After), Trip: c.TripNumber, Shift: c.Shift,
		})
	}
	return msg
}

// ResultPublisher publishes run results as JSON.
type ResultPublisher struct {
	cfg     Config
	cli     pahoClient
	log     logger.Logger
	backoff time.Duration
	timeout time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

// NewResultPublisher connects to the broker and announces the publisher on
// the status topic.
func NewResultPublisher(cfg Config) (*ResultPublisher, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_publisher")
	p := &ResultPublisher{
		cfg:     cfg,
		log:     log,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		now:     time.Now,
	}
	if p.backoff <= 0 {
		p.backoff = 100 * time.Millisecond
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		c.Publish(cfg.StatusTopic(), cfg.QoS, true, "online")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); !token.WaitTimeout(p.timeout) {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, ErrPublishTimeout)
	} else if token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}
	p.cli = c
	return p, nil
}

// Publish sends the result of the schedule, retrying with exponential
// backoff until MaxRetries is exhausted or ctx ends.
func (p *ResultPublisher) Publish(ctx context.Context, scheduleID string, res *optimize.Result) error {
	payload, err := json.Marshal(NewResultMessage(scheduleID, res, p.now()))
	if err != nil {
		return err
	}
	topic := p.cfg.ResultTopic(scheduleID)

	p.mu.Lock()
	defer p.mu.Unlock()
	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
		if !token.WaitTimeout(p.timeout) {
			publishErr = ErrPublishTimeout
		} else {
			publishErr = token.Error()
		}
		if publishErr == nil {
			p.log.Infof("published result %s to %s", res.RunID, topic)
			return nil
		}
		p.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == p.cfg.MaxRetries {
			break
		}
		t := time.NewTimer(p.backoff * time.Duration(1<<attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("publish %s: %w", topic, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Close marks the publisher offline and disconnects.
func (p *ResultPublisher) Close() error {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Publish(p.cfg.StatusTopic(), p.cfg.QoS, true, "offline").WaitTimeout(p.timeout)
		p.cli.Disconnect(250)
	}
	return nil
}

// MockPublisher records published results in memory.
type MockPublisher struct {
	mu       sync.Mutex
	Messages map[string][]ResultMessage
	Err      error
}

// NewMockPublisher creates an empty MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{Messages: make(map[string][]ResultMessage)}
}

// Publish stores the message or returns the configured error.
func (m *MockPublisher) Publish(_ context.Context, scheduleID string, res *optimize.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages[scheduleID] = append(m.Messages[scheduleID], NewResultMessage(scheduleID, res, time.Now()))
	return nil
}

// Close implements the publisher interface.
func (m *MockPublisher) Close() error { return nil }
