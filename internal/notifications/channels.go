package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

var ErrNoRecipient = errors.New("no recipient address")

// EmailChannel delivers a rendered notification by email
type EmailChannel interface {
	Send(ctx context.Context, to string, content Content) (string, error)
}

// SMSChannel delivers a rendered notification by text message
type SMSChannel interface {
	Send(ctx context.Context, phone string, content Content) (string, error)
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type sesChannel struct {
	client sesAPI
	from   string
}

// NewEmailChannel sends through Amazon SES v2
func NewEmailChannel(cfg aws.Config, from string) EmailChannel {
	return &sesChannel{client: sesv2.NewFromConfig(cfg), from: from}
}

func (c *sesChannel) Send(ctx context.Context, to string, content Content) (string, error) {
	if to == "" {
		return "", ErrNoRecipient
	}

	body := &sestypes.Body{
		Text: &sestypes.Content{Data: aws.String(content.Text), Charset: aws.String("UTF-8")},
	}
	if content.HTML != "" {
		body.Html = &sestypes.Content{Data: aws.String(content.HTML), Charset: aws.String("UTF-8")}
	}

	out, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{to}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(content.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

type snsChannel struct {
	client snsAPI
}

// NewSMSChannel sends transactional SMS through Amazon SNS
func NewSMSChannel(cfg aws.Config) SMSChannel {
	return &snsChannel{client: sns.NewFromConfig(cfg)}
}

func (c *snsChannel) Send(ctx context.Context, phone string, content Content) (string, error) {
	if phone == "" {
		return "", ErrNoRecipient
	}

	out, err := c.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(content.SMS),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish sms: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
