package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainflow/internal/store"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeMQTT implements only Publish; the embedded interface panics on
// anything else.
type fakeMQTT struct {
	mqtt.Client
	fail map[string]error
	// hang returns tokens that never complete, like a broker that is down.
	hang bool

	mu   sync.Mutex
	sent []published
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if f.hang {
		return &fakeToken{done: make(chan struct{})}
	}
	return newToken(f.fail[topic])
}

func (f *fakeMQTT) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func sampleRecords() []store.Record {
	day := time.Date(2025, 3, 29, 0, 0, 0, 0, time.UTC)
	return []store.Record{
		store.Record{Date: day, Route: "Jakarta-Bandung", TrainType: "Bisnis", Bookings: 900, IsHoliday: true}.Normalize(),
		store.Record{Date: day, Route: "Jakarta-Solo", TrainType: "Ekonomi", Bookings: 450}.Normalize(),
	}
}

func TestMQTTPublisherPublishesPerRoute(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, "trainflow/bookings", nil)

	require.NoError(t, p.PublishBookings(context.Background(), sampleRecords()))
	require.Len(t, client.sent, 2)
	assert.Equal(t, "trainflow/bookings/Jakarta-Bandung", client.sent[0].topic)
	assert.Equal(t, byte(1), client.sent[0].qos)

	var ev BookingEvent
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &ev))
	assert.Equal(t, BookingEvent{
		Date:              "2025-03-29",
		Route:             "Jakarta-Bandung",
		TrainType:         "Bisnis",
		Bookings:          900,
		HolidayMultiplier: ev.HolidayMultiplier,
		WeeklyMultiplier:  1,
		IsHoliday:         true,
		IsWeekend:         true,
	}, ev)
	assert.NoError(t, p.PublishStatus(context.Background(), Status{}))
}

func TestMQTTPublisherKeepsGoingAfterFailure(t *testing.T) {
	client := &fakeMQTT{fail: map[string]error{"b/Jakarta-Bandung": errors.New("broker gone")}}
	p := NewMQTTPublisher(client, "b", nil)

	err := p.PublishBookings(context.Background(), sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
	assert.Len(t, client.sent, 2)
}

func TestMQTTPublisherGivesUpOnUnackedMessages(t *testing.T) {
	client := &fakeMQTT{hang: true}
	p := NewMQTTPublisher(client, "b", nil)
	p.timeout = 10 * time.Millisecond
	before := testutil.ToFloat64(bookingsPublishFailed)

	start := time.Now()
	err := p.PublishBookings(context.Background(), sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ack")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, client.sentCount())
	assert.Equal(t, before+2, testutil.ToFloat64(bookingsPublishFailed))
}

func TestMQTTPublisherStopsAtDeadline(t *testing.T) {
	client := &fakeMQTT{hang: true}
	p := NewMQTTPublisher(client, "b", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.PublishBookings(ctx, sampleRecords())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, client.sentCount())
}

func TestPublishersJoinErrors(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("down")}
	ps := Publishers{ok, bad}

	assert.ErrorContains(t, ps.PublishStatus(context.Background(), Status{}), "down")
	assert.ErrorContains(t, ps.PublishBookings(context.Background(), sampleRecords()), "down")
	assert.Len(t, ok.statuses, 1)
	assert.Equal(t, 2, ok.bookings)
	assert.Len(t, bad.statuses, 1)

	assert.NoError(t, Publishers(nil).PublishStatus(context.Background(), Status{}))
}
