package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/propel-crm/email-events/internal/pkg/logger"
)

// sqsAPI is the slice of the SQS client the queue uses.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS is a queue backed by an SQS standard queue. Envelopes are JSON
// message bodies; retries and dead-lettering stay with the worker, so
// messages are deleted as soon as they decode.
type SQS struct {
	client      sqsAPI
	queueURL    string
	waitSeconds int32
	log         *logger.Logger

	mu     sync.Mutex
	buf    []Envelope
	closed bool
}

// NewSQS creates an SQS-backed queue. waitSeconds controls the long
// poll (SQS caps it at 20).
func NewSQS(client *sqs.Client, queueURL string, waitSeconds int) *SQS {
	return newSQS(client, queueURL, waitSeconds)
}

func newSQS(client sqsAPI, queueURL string, waitSeconds int) *SQS {
	if waitSeconds <= 0 || waitSeconds > 20 {
		waitSeconds = 20
	}
	return &SQS{
		client:      client,
		queueURL:    queueURL,
		waitSeconds: int32(waitSeconds),
		log:         logger.Component("queue.sqs"),
	}
}

func (q *SQS) Enqueue(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}

// Dequeue serves from the local receive buffer, long-polling SQS when
// it runs dry. Unparseable message bodies are deleted and skipped.
func (q *SQS) Dequeue(ctx context.Context) (Envelope, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Envelope{}, ErrClosed
		}
		if len(q.buf) > 0 {
			env := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return env, nil
		}
		q.mu.Unlock()

		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     q.waitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			q.log.Error("receive failed", "error", err.Error())
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return Envelope{}, ctx.Err()
			}
			continue
		}

		var received []Envelope
		for _, msg := range out.Messages {
			var env Envelope
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &env); err != nil {
				q.log.Warn("dropping undecodable message", "error", err.Error())
				q.delete(ctx, msg.ReceiptHandle)
				continue
			}
			q.delete(ctx, msg.ReceiptHandle)
			received = append(received, env)
		}
		if len(received) == 0 {
			continue
		}

		q.mu.Lock()
		q.buf = append(q.buf, received...)
		q.mu.Unlock()
	}
}

func (q *SQS) delete(ctx context.Context, handle *string) {
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		q.log.Warn("delete failed", "error", err.Error())
	}
}

// Depth reports locally buffered envelopes only; SQS-side depth comes
// from queue attributes, not this method.
func (q *SQS) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *SQS) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
