package kpi

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fieldops/control-plane/internal/models"
)

// NotificationSender delivers one alert to one recipient over a channel
// (email, sms, slack, …). Implementations live outside this package; the
// dispatcher only knows how to queue and retry.
type NotificationSender func(ctx context.Context, channel, recipient string, alert models.KPIAlert) error

// NotificationDispatcher fans out alert notifications across a worker
// pool: a bounded job queue drained by a fixed set of workers, each
// emitting structured notification jobs to registered senders rather
// than POSTing a payload to a subscriber URL.
type NotificationDispatcher struct {
	alerts  *AlertStore
	senders map[string]NotificationSender
	queue   chan notificationJob
	logger  *log.Logger
	wg      sync.WaitGroup
}

type notificationJob struct {
	alert     models.KPIAlert
	channel   string
	recipient string
	attempt   int
}

func NewNotificationDispatcher(alerts *AlertStore, workers int) *NotificationDispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &NotificationDispatcher{
		alerts:  alerts,
		senders: make(map[string]NotificationSender),
		queue:   make(chan notificationJob, 1000),
		logger:  log.New(log.Writer(), "[KPI-NOTIFY] ", log.LstdFlags),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

// RegisterSender wires the implementation for a channel name ("email",
// "sms", "slack", …).
func (d *NotificationDispatcher) RegisterSender(channel string, fn NotificationSender) {
	d.senders[channel] = fn
}

// Dispatch queues a notification for every (channel, recipient) pair
// declared on the alert's threshold.
func (d *NotificationDispatcher) Dispatch(alert models.KPIAlert, channels, recipients []string) {
	for _, ch := range channels {
		for _, rcpt := range recipients {
			select {
			case d.queue <- notificationJob{alert: alert, channel: ch, recipient: rcpt, attempt: 1}:
			default:
				d.logger.Printf("notification queue full, dropping alert=%s channel=%s", alert.ID, ch)
			}
		}
	}
}

func (d *NotificationDispatcher) worker(id int) {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *NotificationDispatcher) deliver(job notificationJob) {
	sender, ok := d.senders[job.channel]
	if !ok {
		d.logger.Printf("no sender registered for channel %s", job.channel)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := sender(ctx, job.channel, job.recipient, job.alert)
	var errMsg *string
	if err != nil {
		msg := err.Error()
		errMsg = &msg
		d.logger.Printf("notification failed: alert=%s channel=%s recipient=%s: %v", job.alert.ID, job.channel, job.recipient, err)
		if job.attempt < 3 {
			job.attempt++
			select {
			case d.queue <- job:
			default:
			}
		}
	}

	if recErr := d.alerts.RecordNotification(context.Background(), job.alert.ID, job.channel, job.recipient, err == nil, errMsg); recErr != nil {
		d.logger.Printf("failed to record notification outcome: %v", recErr)
	}
}

// Shutdown drains the queue and waits for in-flight deliveries.
func (d *NotificationDispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
