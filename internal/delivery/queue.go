package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atolldev/atoll/internal/actors"
	"github.com/atolldev/atoll/internal/client"
	"github.com/atolldev/atoll/internal/config"
	"github.com/atolldev/atoll/internal/db"
	"github.com/atolldev/atoll/internal/domain"
	"github.com/atolldev/atoll/internal/metrics"
	"github.com/google/uuid"
	"github.com/mikestefanello/backlite"
	"github.com/rs/zerolog/log"
)

const deliverQueueName = "ap.deliver"

// Queue tuning. Overridden from configuration before the queue registers.
var (
	deliverMaxAttempts = 5
	deliverTimeout     = 30 * time.Second
)

// deliverTask is one outbound activity POST. backlite retries it per the
// queue config; every attempt lands in the delivery log.
type deliverTask struct {
	ActorID      int64
	Inbox        string
	ActivityType string
	Body         json.RawMessage
}

func (t deliverTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        deliverQueueName,
		MaxAttempts: deliverMaxAttempts,
		Backoff:     30 * time.Second,
		Timeout:     deliverTimeout,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data: &backlite.RetainData{
				OnlyFailed: true,
			},
		},
	}
}

// Queue pushes signed activities to remote inboxes through the task queue.
type Queue struct {
	db     db.DB
	tasks  *backlite.Client
	client *client.Client
	keys   *actors.KeyManager
	log    *Log
	cfg    config.Configuration
}

func NewQueue(ctx context.Context, d db.DB, tasks *backlite.Client, c *client.Client, keys *actors.KeyManager, dlog *Log, cfg config.Configuration) *Queue {
	q := &Queue{
		db:     d,
		tasks:  tasks,
		client: c,
		keys:   keys,
		log:    dlog,
		cfg:    cfg,
	}
	if cfg.DeliveryMaxAttempts > 0 {
		deliverMaxAttempts = cfg.DeliveryMaxAttempts
	}
	if cfg.DeliveryTimeoutSeconds > 0 {
		deliverTimeout = time.Duration(cfg.DeliveryTimeoutSeconds) * time.Second
	}
	tasks.Register(backlite.NewQueue[deliverTask](q.deliver()))
	tasks.Start(ctx)
	log.Info().Msg("started delivery queue")
	return q
}

// SendAccept queues a signed Accept for a follow we just recorded.
func (q *Queue) SendAccept(ctx context.Context, local domain.Actor, followRaw json.RawMessage, inbox string) error {
	accept := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       q.cfg.Url.JoinPath("activitypub", "accepts", uuid.NewString()).String(),
		"type":     "Accept",
		"actor":    local.ActorURI,
		"object":   followRaw,
	}
	body, err := json.Marshal(accept)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, local, "Accept", body, inbox)
}

// Enqueue schedules delivery of an already-serialized activity.
func (q *Queue) Enqueue(ctx context.Context, local domain.Actor, activityType string, body []byte, inbox string) error {
	task := deliverTask{
		ActorID:      local.ID,
		Inbox:        inbox,
		ActivityType: activityType,
		Body:         body,
	}
	err := q.tasks.Add(task).Ctx(ctx).Save()
	if err != nil {
		log.Error().Err(err).Str("inbox", inbox).Msg("delivery enqueue failed")
	}
	return err
}

func (q *Queue) deliver() func(context.Context, deliverTask) error {
	return func(ctx context.Context, t deliverTask) error {
		actor, err := q.db.GetActorByID(ctx, t.ActorID)
		if err != nil {
			return err
		}

		key, err := q.keys.EnsureForActor(ctx, actor)
		if err != nil {
			return err
		}
		priv, err := actors.ParsePrivateKeyPem(key.PrivateKey)
		if err != nil {
			return err
		}

		status, err := q.client.Deliver(ctx, t.Body, t.Inbox, priv, key.KeyID)
		metrics.ObserveDelivery(err == nil)
		if err != nil {
			log.Debug().Err(err).Str("inbox", t.Inbox).Msg("delivery attempt failed")
			if logErr := q.log.LogFailure(ctx, t.ActorID, t.Inbox, t.ActivityType, status, err.Error(), 1); logErr != nil {
				log.Error().Err(logErr).Msg("delivery log append failed")
			}
			return err
		}

		if logErr := q.log.LogSuccess(ctx, t.ActorID, t.Inbox, t.ActivityType); logErr != nil {
			log.Error().Err(logErr).Msg("delivery log append failed")
		}
		return nil
	}
}
