package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/nats-io/nats.go"

	"github.com/ignite/compliance-gate/internal/pkg/httpretry"
)

// WebhookNotifier POSTs the alert as JSON, retrying 429 and 5xx responses.
type WebhookNotifier struct {
	url    string
	client httpretry.HTTPDoer
}

// NewWebhookNotifier creates a webhook sink. A nil client gets a retrying
// default client.
func NewWebhookNotifier(url string, client httpretry.HTTPDoer) *WebhookNotifier {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &WebhookNotifier{url: url, client: client}
}

// Notify posts the alert.
func (w *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NATSPublisher is the subset of *nats.Conn used by NATSNotifier.
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes alerts on <prefix>.<kind>.
type NATSNotifier struct {
	conn   NATSPublisher
	prefix string
}

// NewNATSNotifier creates a NATS sink on an existing connection.
func NewNATSNotifier(conn NATSPublisher, prefix string) *NATSNotifier {
	return &NATSNotifier{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// ConnectNATS dials NATS with unlimited reconnects.
func ConnectNATS(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name("compliance-gate"),
		nats.MaxReconnects(-1),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject an alert is published on.
func (n *NATSNotifier) Subject(a Alert) string {
	return n.prefix + "." + a.Kind
}

// Notify publishes the alert.
func (n *NATSNotifier) Notify(_ context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	if err := n.conn.Publish(n.Subject(a), data); err != nil {
		return fmt.Errorf("publishing to NATS: %w", err)
	}
	return nil
}

// SQSAPI is the subset of the SQS client used by SQSNotifier.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier enqueues alerts for downstream consumers.
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
}

// NewSQSNotifier creates an SQS sink.
func NewSQSNotifier(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL}
}

// Notify sends the alert as the message body with kind and severity
// attributes.
func (s *SQSNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind":     {DataType: aws.String("String"), StringValue: aws.String(a.Kind)},
			"severity": {DataType: aws.String("String"), StringValue: aws.String(string(a.Severity))},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing to SQS: %w", err)
	}
	return nil
}

// SESAPI is the subset of the SES v2 client used by EmailNotifier.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailNotifier mails alerts to an operator list through SES.
type EmailNotifier struct {
	client SESAPI
	from   string
	to     []string
}

// NewEmailNotifier creates an e-mail sink.
func NewEmailNotifier(client SESAPI, from string, to []string) *EmailNotifier {
	return &EmailNotifier{client: client, from: from, to: to}
}

// Notify sends a plain-text message.
func (e *EmailNotifier) Notify(ctx context.Context, a Alert) error {
	if len(e.to) == 0 {
		return nil
	}
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Subject)
	_, err := e.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.from),
		Destination:      &sestypes.Destination{ToAddresses: e.to},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body:    &sestypes.Body{Text: &sestypes.Content{Data: aws.String(textBody(a))}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sending alert e-mail: %w", err)
	}
	return nil
}

func textBody(a Alert) string {
	var b strings.Builder
	b.WriteString(a.Body)
	if len(a.Fields) > 0 {
		b.WriteString("\n\n")
		keys := make([]string, 0, len(a.Fields))
		for k := range a.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, a.Fields[k])
		}
	}
	return b.String()
}
