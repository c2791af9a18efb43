package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SESMailer delivers through Amazon SES v2.
type SESMailer struct {
	client sesAPI
}

func NewSESMailer(ctx context.Context, cfg SESConfig) (*SESMailer, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("ses credentials are required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return &SESMailer{client: sesv2.NewFromConfig(awsCfg)}, nil
}

func (m *SESMailer) Name() string { return "ses" }

func (m *SESMailer) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if m == nil || m.client == nil {
		return nil, errNotInitialized
	}

	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	for k, v := range msg.Headers {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(sesTagName(k)),
			Value: aws.String(v),
		})
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}

	return &SendResult{MessageID: aws.ToString(out.MessageId)}, nil
}

// classifySESError treats a rejected message as permanent. Throttling,
// paused sending and unknown faults keep the contact eligible.
func classifySESError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient("ses request timed out", err)
	}

	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return Permanent("ses rejected message", err)
	}

	var badRequest *types.BadRequestException
	if errors.As(err, &badRequest) {
		return Permanent("ses rejected request", err)
	}

	return Transient("ses send failed", err)
}

// sesTagName keeps header names within the tag charset SES accepts.
func sesTagName(header string) string {
	name := strings.TrimPrefix(strings.ToLower(header), "x-")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
