package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"

	"trainflow/internal/logger"
	"trainflow/internal/store"
)

// StatusChannel is the Redis channel status snapshots are published on.
const StatusChannel = "trainflow:simulation"

// Publisher fans simulation events out to external feeds. Failures are
// reported but never stop the simulation.
type Publisher interface {
	PublishStatus(ctx context.Context, st Status) error
	PublishBookings(ctx context.Context, records []store.Record) error
}

// Publishers sends to every member and joins their errors.
type Publishers []Publisher

func (ps Publishers) PublishStatus(ctx context.Context, st Status) error {
	var errs []error
	for _, p := range ps {
		errs = append(errs, p.PublishStatus(ctx, st))
	}
	return errors.Join(errs...)
}

func (ps Publishers) PublishBookings(ctx context.Context, records []store.Record) error {
	var errs []error
	for _, p := range ps {
		errs = append(errs, p.PublishBookings(ctx, records))
	}
	return errors.Join(errs...)
}

// BookingEvent is the wire form of one generated record.
type BookingEvent struct {
	Date              string  `json:"date"`
	Route             string  `json:"route"`
	TrainType         string  `json:"train_type"`
	Bookings          int     `json:"bookings"`
	HolidayMultiplier float64 `json:"holiday_multiplier"`
	WeeklyMultiplier  float64 `json:"weekly_multiplier"`
	IsHoliday         bool    `json:"is_holiday"`
	IsWeekend         bool    `json:"is_weekend"`
}

func newBookingEvent(r store.Record) BookingEvent {
	return BookingEvent{
		Date:              r.Date.Format(time.DateOnly),
		Route:             r.Route,
		TrainType:         r.TrainType,
		Bookings:          r.Bookings,
		HolidayMultiplier: r.HolidayMultiplier,
		WeeklyMultiplier:  r.WeeklyMultiplier,
		IsHoliday:         r.IsHoliday,
		IsWeekend:         r.IsWeekend,
	}
}

// RedisPublisher publishes status snapshots to StatusChannel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishStatus(ctx context.Context, st Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("json marshal status: %w", err)
	}
	if err := p.client.Publish(ctx, StatusChannel, data).Err(); err != nil {
		statusPublishFailed.Inc()
		return fmt.Errorf("redis publish: %w", err)
	}
	statusPublished.Inc()
	return nil
}

func (p *RedisPublisher) PublishBookings(context.Context, []store.Record) error {
	return nil
}

// MQTTPublisher publishes every generated record to <prefix>/<route>.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	log     *slog.Logger
}

// ConnectMQTT dials the broker with auto-reconnect and waits at most ten
// seconds for the first connection.
func ConnectMQTT(brokerURL, clientID string, log *slog.Logger) (mqtt.Client, error) {
	log = logger.OrNop(log)
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Info("mqtt connected", "broker", brokerURL)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt connection lost", "error", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout: %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

func NewMQTTPublisher(client mqtt.Client, prefix string, log *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, timeout: 2 * time.Second, log: logger.OrNop(log)}
}

func (p *MQTTPublisher) PublishStatus(context.Context, Status) error {
	return nil
}

func (p *MQTTPublisher) PublishBookings(ctx context.Context, records []store.Record) error {
	var errs []error
	for _, r := range records {
		data, err := json.Marshal(newBookingEvent(r))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		token := p.client.Publish(p.prefix+"/"+r.Route, 1, false, data)
		if err := p.wait(ctx, token); err != nil {
			bookingsPublishFailed.Inc()
			errs = append(errs, fmt.Errorf("mqtt publish %s: %w", r.Route, err))
			if ctx.Err() != nil {
				return errors.Join(errs...)
			}
			continue
		}
		if err := token.Error(); err != nil {
			bookingsPublishFailed.Inc()
			errs = append(errs, fmt.Errorf("mqtt publish %s: %w", r.Route, err))
			continue
		}
		bookingsPublished.Inc()
	}
	return errors.Join(errs...)
}

// wait blocks until the broker acknowledges the token, the per-message
// timeout passes or ctx ends.
func (p *MQTTPublisher) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("no ack after %s", p.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
