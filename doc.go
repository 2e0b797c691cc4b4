// Package ipcd exposes the Go APIs behind the single-binary exerciser for a
// local inter-process-communication transport: short-lived clients talk to a
// long-running daemon over a UNIX-domain socket carrying length-framed
// messages.
//
// # Running a server
//
// The server binds the endpoint named by Config.Path and dispatches each
// accepted connection to an application Handler on a fixed pool of worker
// threads:
//
//	cfg := ipcd.Config{Path: "ipc-test", NrThreads: 5}
//	srv, err := ipcd.NewServer(cfg, handler, appData)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// Start is synchronous: it returns after a handler signals ResultQuit (or
// Shutdown is called), every already-accepted connection has drained its
// reply stream, and the endpoint has been removed. A caller may run multiple
// independent servers on distinct paths in one process; there is no global
// state beyond the process working directory used for over-long socket
// paths.
//
// # Probing
//
// GetActiveState classifies an endpoint path as listening, not listening,
// path-not-found, invalid, or other-error without establishing a session.
// The lifecycle controller uses it as the readiness signal after spawning a
// daemon and as the teardown signal after quit.
//
// The client side of the transport lives in pkt.systems/ipcd/client; the
// exerciser command vocabulary and the concurrent driver live in
// pkt.systems/ipcd/exercise.
package ipcd
