// bridge/mqtt.go
package bridge

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wfunc/escapehub/logger"
)

// MQTTPublisher publishes with QoS 0 and a bounded wait. The client keeps
// reconnecting in the background; a publish while disconnected fails fast
// and the caller logs and continues.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func NewMQTTPublisher(host string, port int, clientID string, timeout time.Duration) *MQTTPublisher {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(timeout)

	opts.OnConnect = func(mqtt.Client) {
		logger.Log.Infof("MQTT connected to %s:%d", host, port)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Log.Warnf("MQTT connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	// Connect retries in the background; the process must come up even
	// with the broker down.
	if token := client.Connect(); token.WaitTimeout(timeout) && token.Error() != nil {
		logger.Log.Warnf("MQTT initial connect failed: %v", token.Error())
	}

	return &MQTTPublisher{client: client, timeout: timeout}
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out after %v", topic, p.timeout)
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
