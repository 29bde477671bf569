package notify

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rotisserie/eris"

	"github.com/sells-group/serp-monitor/internal/config"
	"github.com/sells-group/serp-monitor/internal/model"
)

// SQSAPI is the part of the SQS client the sink uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS publishes JSON envelopes to a queue.
type SQS struct {
	client   SQSAPI
	queueURL string
}

// NewSQS creates an SQS sink around an existing client.
func NewSQS(client SQSAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

// NewSQSFromConfig loads the default AWS credential chain and builds the sink.
func NewSQSFromConfig(ctx context.Context, cfg config.SQSConfig) (*SQS, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "notify: load aws config")
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewSQS(client, cfg.QueueURL), nil
}

func (s *SQS) NotifyChange(ctx context.Context, ev model.ChangeEvent) error {
	return s.send(ctx, changeEnvelope(ev), ev.TenantID)
}

func (s *SQS) NotifyDigest(ctx context.Context, d model.Digest) error {
	return s.send(ctx, digestEnvelope(d), d.TenantID)
}

func (s *SQS) send(ctx context.Context, env Envelope, tenantID string) error {
	body, err := json.Marshal(env)
	if err != nil {
		return eris.Wrap(err, "notify: marshal sqs payload")
	}
	attrs := map[string]types.MessageAttributeValue{
		"type": {DataType: aws.String("String"), StringValue: aws.String(env.Type)},
	}
	// SQS rejects empty attribute values.
	if tenantID != "" {
		attrs["tenant_id"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(tenantID)}
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return eris.Wrapf(err, "notify: send message to %s", s.queueURL)
	}
	return nil
}
