package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/optimize"
)

func sampleResult() *optimize.Result {
	return &optimize.Result{
		RunID:        "run-1",
		Success:      true,
		InitialScore: 0.7,
		Score:        1,
		Connections: []optimize.ConnectionResult{
			{ConnectionID: "bell-1", Type: model.ConnectionSchoolBell, Status: optimize.StatusImproved, After: model.WindowIdeal, TripNumber: 3, Shift: -8},
		},
		Statistics: optimize.Statistics{Termination: optimize.TerminationCompleted},
	}
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 || tlsCfg.RootCAs == nil {
		t.Fatalf("incomplete tls config")
	}
}

func TestLoadTLSConfigRequiresFiles(t *testing.T) {
	_, err := Config{UseTLS: true}.LoadTLSConfig()
	assert.Error(t, err)
	_, err = NewClientOptions(Config{Broker: "ssl://localhost:8883", UseTLS: true})
	assert.Error(t, err)
}

func TestNewClientOptionsAuthAndWill(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p", TopicPrefix: "transit", QoS: 1})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "transit/status", opts.WillTopic)
	assert.Equal(t, "offline", string(opts.WillPayload))
	assert.True(t, opts.WillRetained)
}

func TestPublishSendsResultOnScheduleTopic(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewResultPublisher(Config{Broker: "tcp://localhost:1883", ClientID: "id", TopicPrefix: "transit", QoS: 2})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "route-26", sampleResult()))
	require.NoError(t, p.Close())

	assert.Equal(t, []string{"transit/status", "transit/route-26/result", "transit/status"}, mc.topics())
	res := mc.published[1]
	assert.Equal(t, byte(2), res.qos)
	var msg ResultMessage
	require.NoError(t, json.Unmarshal(res.payload, &msg))
	assert.Equal(t, "run-1", msg.RunID)
	assert.Equal(t, "route-26", msg.ScheduleID)
	assert.Equal(t, "completed", msg.Termination)
	require.Len(t, msg.Connections, 1)
	assert.Equal(t, "ideal", msg.Connections[0].After)
	assert.Equal(t, 3, msg.Connections[0].Trip)
	assert.Equal(t, "offline", string(mc.published[2].payload))
}

func TestPublishRetries(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewResultPublisher(Config{Broker: "tcp://localhost:1883", TopicPrefix: "t", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	mc.publishErrs = []error{errors.New("net fail"), nil}

	require.NoError(t, p.Publish(context.Background(), "s", sampleResult()))
	// status announcement plus two attempts.
	assert.Len(t, mc.published, 3)
}

func TestPublishGivesUpAfterRetries(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewResultPublisher(Config{Broker: "tcp://localhost:1883", TopicPrefix: "t", MaxRetries: 2, BackoffMS: 1})
	require.NoError(t, err)
	boom := errors.New("net fail")
	mc.publishErrs = []error{boom, boom, boom}

	err = p.Publish(context.Background(), "s", sampleResult())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, mc.published, 4)
}

func TestPublishTimeout(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewResultPublisher(Config{Broker: "tcp://localhost:1883", TopicPrefix: "t", TimeoutMS: 1})
	require.NoError(t, err)
	mc.hang = true

	err = p.Publish(context.Background(), "s", sampleResult())
	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestPublishStopsOnCancelledContext(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewResultPublisher(Config{Broker: "tcp://localhost:1883", TopicPrefix: "t", MaxRetries: 5, BackoffMS: 50})
	require.NoError(t, err)
	mc.publishErrs = []error{errors.New("down"), errors.New("down")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.Publish(ctx, "s", sampleResult())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, mc.published, 2)
}

func TestConnectFailure(t *testing.T) {
	useMock(t, &mockClient{connectErr: errors.New("refused")})
	_, err := NewResultPublisher(Config{Broker: "tcp://localhost:1883"})
	assert.ErrorContains(t, err, "refused")
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	require.NoError(t, m.Publish(context.Background(), "s", sampleResult()))
	assert.Len(t, m.Messages["s"], 1)
	m.Err = errors.New("down")
	assert.Error(t, m.Publish(context.Background(), "s", sampleResult()))
}
