package ipcd

// Result is the application handler's verdict on one request.
type Result int

const (
	// ResultOK means the reply is complete and the server keeps serving.
	ResultOK Result = iota
	// ResultError means the reply failed. The connection is dropped; the
	// server keeps serving.
	ResultError
	// ResultQuit means the reply is complete and the server should begin
	// its cooperative shutdown: stop accepting, drain, exit.
	ResultQuit
)

// ReplySink is the capability handed to a handler for emitting reply chunks
// back to the requesting client. Chunks arrive at the client in call order;
// the sink is exclusively owned by one connection's worker and must not be
// retained after the handler returns.
type ReplySink interface {
	Emit(p []byte) error
}

// Handler is the application callback dispatched once per accepted
// connection. appData is the exact value the server was constructed with,
// command is the complete request message, and sink emits the reply stream.
type Handler func(appData any, command []byte, sink ReplySink) Result
