// Package simulated provides an in-memory tag.Adapter for development and
// tests.
//
// Values are set up front or changed at run time with SetValue. Reads can
// be slowed with a fixed delay and made to fail at a configurable rate;
// the failure sequence is reproducible for a given seed.
//
//	a := simulated.New(simulated.Options{
//	    Delay:     5 * time.Millisecond,
//	    ErrorRate: 0.01,
//	    Seed:      42,
//	    Values:    map[string]any{"DB1.pressure": 2.4},
//	})
//	reg.RegisterAdapter("plc", a)
package simulated
