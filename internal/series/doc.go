// Package series holds the in-memory time-series store shared by the
// pollers and the query boundary.
//
// Every signal is addressed by a key of the form "<device>.<signal>" and
// owns a bounded history (default 500 samples). Appending to a full
// history evicts the oldest sample. Snapshots are copies and never observe
// later appends.
//
// Values are a closed variant over float, integer and boolean payloads:
//
//	store := series.NewStore(500)
//	store.Append(series.Key("plc_1500", "thermo_1"), time.Now(), series.Float(21.5))
//	hist := store.Snapshot([]string{"plc_1500.thermo_1"})
//
// History is not persisted across restarts.
package series
