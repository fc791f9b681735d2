// Package influxdb writes SprayCell tag history to InfluxDB.
//
// It wraps the official influxdb-client-go v2 client: Connect pings the
// server once, then points are written through the non-blocking batched
// write API (batch_size and flush_interval from config.yaml).
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTagValue("gas.pressure", 21.4, time.Now())
//
// Every point carries the site id as a default tag. Two measurements
// are written:
//   - tag_values: tag=<name>, one field per value kind (bool, float, int, string)
//   - state_transitions: from, to; fields accepted, forced, reason
package influxdb
