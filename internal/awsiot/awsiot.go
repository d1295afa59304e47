// Package awsiot publishes button events to AWS IoT Core through the
// data-plane HTTP API.
package awsiot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/iotdataplane"
	"github.com/aws/aws-sdk-go/service/iotdataplane/iotdataplaneiface"

	"github.com/sweeney/button-sensor/internal/logic"
	"github.com/sweeney/button-sensor/internal/mqtt"
)

const publishTimeout = 5 * time.Second

// Publisher sends each event to a single IoT topic at QoS 1.
type Publisher struct {
	api   iotdataplaneiface.IoTDataPlaneAPI
	topic string
}

// New creates a Publisher for the given account endpoint, e.g.
// https://xxxxxxxx-ats.iot.eu-west-2.amazonaws.com. Credentials come from
// the default AWS chain.
func New(endpoint, region, topic string) (*Publisher, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	conf := aws.NewConfig().WithEndpoint(endpoint)
	if region != "" {
		conf = conf.WithRegion(region)
	}
	return newPublisher(iotdataplane.New(sess, conf), topic), nil
}

func newPublisher(api iotdataplaneiface.IoTDataPlaneAPI, topic string) *Publisher {
	return &Publisher{api: api, topic: topic}
}

// Publish sends the event using the same JSON payload as the MQTT transport.
func (p *Publisher) Publish(event logic.Event) error {
	payload, err := mqtt.FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	_, err = p.api.PublishWithContext(ctx, &iotdataplane.PublishInput{
		Topic:   aws.String(p.topic),
		Qos:     aws.Int64(1),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("iot publish %s: %w", p.topic, err)
	}
	return nil
}

// Close is a no-op; the data-plane client holds no connection.
func (p *Publisher) Close() error {
	return nil
}
