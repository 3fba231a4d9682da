// Package mqtt publishes PLC monitor data to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Last Will and Testament (LWT) on plcmonitor/system/status
//   - Per-cycle signal values on plcmonitor/state/s7/<device>/<signal>
//   - Retained device health on plcmonitor/health/s7/<device>
//
// The monitor never subscribes. Publisher sits between the polling loops
// and the broker: it implements poller.Sink and queues messages for a
// single background goroutine, so a slow or absent broker only costs
// dropped messages.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub := mqtt.NewPublisher(client, client.QoS(), 0, log)
//	client.SetOnConnect(pub.RepublishHealth)
package mqtt
