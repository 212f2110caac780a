// Package mqttbridge exposes the channel coordinator over MQTT.
//
// Outbound, the bridge is a channel.Listener: classified answers, sent
// commands, status texts and session expiry are published as JSON under
// the configured topic prefix. Inbound, it subscribes to
// {prefix}/command/+ and maps each request name to a coordinator call:
//
//	send        {"text": "version?"} or the bare command text
//	init        re-run the init sequence
//	channel     {"channel": "relay"}
//	select      {"device_id": "..."} on the relay channel
//	connect     {"device_id": "..."} on the local channel
//	disconnect  drop the current device
//	scan        start a BLE scan
//	fetch       list relay devices
//
// Every request is answered on {prefix}/command/{name}/result.
package mqttbridge
