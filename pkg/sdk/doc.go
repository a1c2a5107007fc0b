// Package sdk is the target side of remote profiling.
//
// A Server embedded in the profiled process accepts host connections,
// answers device info requests and, when the host starts profiling, streams
// story events describing the process: a recording, its sample group tree,
// periodic resource samples, network requests, log lines and tags.
//
// Basic integration:
//
//	srv, err := sdk.New(sdk.Config{Listen: "127.0.0.1:7330", AppName: "checkout"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Stop()
//
//	// Mark a span while a host is recording.
//	if p := srv.Profiler(); p != nil {
//	    id, _ := p.BeginGroup(0, "load catalog")
//	    defer p.EndGroup(0, id)
//	}
package sdk
