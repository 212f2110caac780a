// Package mqtt connects SweIoT Link to an MQTT broker.
//
// The broker is an optional integration surface: device answers, status
// texts and session expiry are published for other services, and requests
// (send, init, channel switch, relay selection) can be posted back. The
// topic layout lives in Topics.
//
// # Features
//
//   - Auto-reconnect with subscriptions restored after reconnect
//   - Retained online/offline status with a Last Will for crashes
//   - Panic recovery around message handlers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
