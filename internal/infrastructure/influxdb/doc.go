// Package influxdb exports polled signal values to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library: Connect pings the
// server and opens the non-blocking batched write API, and Exporter
// plugs into the polling loops as a poller.Sink.
//
// Every value becomes one point:
//
//	plc_signal,device=plc_1500,signal=thermo_1 value=21.5 <cycle start>
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sinks = append(sinks, influxdb.NewExporter(client))
//
// # Error Handling
//
// Writes never block the caller. Batch failures are delivered
// asynchronously to the SetOnError callback and counted in Stats.
// Connection and health check errors are returned directly.
package influxdb
