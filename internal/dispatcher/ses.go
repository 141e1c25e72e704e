package dispatcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/jmehdipour/label-dispatch/internal/config"
)

// sesAPI is the slice of the sesv2 client the provider uses.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESProvider struct {
	breakerGuard
	name   string
	client sesAPI
}

// NewSESProvider uses static credentials when configured and the default AWS
// chain otherwise.
func NewSESProvider(ctx context.Context, cfg config.ProviderConfig) (*SESProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		o.HTTPClient = awsHTTPClient(cfg.TimeoutMs)
	})
	return newSESProvider(cfg, client), nil
}

func newSESProvider(cfg config.ProviderConfig, client sesAPI) *SESProvider {
	name := cfg.Name
	if name == "" {
		name = "ses"
	}
	return &SESProvider{breakerGuard: newGuard(cfg.Breaker), name: name, client: client}
}

func (p *SESProvider) Name() string { return p.name }

func (p *SESProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(msg.FromName, msg.From)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    &types.Body{},
			},
		},
	}
	if msg.HTMLBody != "" {
		input.Content.Simple.Body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	for k, v := range msg.Metadata {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String(k), Value: aws.String(v)})
	}

	result, err := p.client.SendEmail(ctx, input)
	p.br.Observe(err)
	if err != nil {
		return Receipt{}, fmt.Errorf("ses send: %w", err)
	}

	return Receipt{Provider: p.name, MessageID: aws.ToString(result.MessageId)}, nil
}

func awsHTTPClient(timeoutMs int) *http.Client {
	return &http.Client{Timeout: timeoutOf(timeoutMs)}
}
