// Package xsig implements the Crestron XSIG symbol's TCP protocol.
//
// The control processor runs an "Intersystem Communication" (XSIG)
// symbol pointed at this bridge's listen port. Over that socket both
// sides exchange compact binary frames carrying three kinds of join:
//
//   - digital: booleans (button presses, LED feedback)
//   - analog:  unsigned 16-bit values (dimmer levels, setpoints)
//   - serial:  UTF-8 text (display labels)
//
// The three namespaces are independent and 1-based on both sides.
//
// # Components
//
//   - Decoder / Encode* functions: the wire codec (codec.go)
//   - Store: last-known value of every join (store.go)
//   - Dispatcher: fan-out of inbound join transitions (dispatcher.go)
//   - Server: TCP listener, session lifecycle and serialised writes
//     (server.go)
//
// The processor is the TCP client and reconnects on its own schedule;
// the bridge only ever listens. Exactly one session is active at a
// time and a new connection preempts the old one, which matches how a
// rebooted processor re-dials before its old socket times out.
//
// # Usage
//
//	store := xsig.NewStore()
//	dispatcher := xsig.NewDispatcher()
//	server := xsig.NewServer(xsig.Config{Host: "0.0.0.0", Port: 16384}, store, dispatcher)
//
//	sub := dispatcher.Subscribe(func(u xsig.Update) {
//	    // Inbound join transition, in wire order.
//	})
//	defer sub.Cancel()
//
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Close()
//
//	server.SetAnalog(12, 32768) // push a value to the processor
package xsig
