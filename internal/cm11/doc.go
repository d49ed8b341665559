// Package cm11 drives a CM11-style X10 serial gateway.
//
// The gateway speaks a half-duplex byte handshake at 4800 baud: the host
// writes a two-byte transmission, the gateway echoes its checksum, the host
// acknowledges and the gateway answers "ready" once the powerline relay is
// done. At any time the gateway may instead poll the host with a request of
// its own (clock set after power loss, inbound data ready, filter fail).
//
// # Architecture
//
//	 callers ──SendFunction──┐
//	                         ├──► portMu (one conversation at a time) ──► serial port
//	 CommandQueue ──worker───┘                    ▲
//	                                              │
//	 receiveLoop (polls port, RI line) ───────────┘
//	     │ decoded events
//	     ▼
//	 event channel ──dispatcher──► ListenerRegistry
//
// A single mutex serialises every conversation with the hardware. The
// receive loop only reads while it holds that mutex, so an acknowledgement
// byte can never be mistaken for inbound traffic. Listeners run on a
// separate dispatcher goroutine and may call SendFunction themselves.
//
// # Lifecycle
//
//	gw, err := cm11.New(cm11.Config{PortName: "/dev/ttyUSB0", MonitoredHouse: 'A'})
//	if err != nil {
//	    return err
//	}
//	gw.SetLogger(log)
//	gw.SetStatusSink(health)
//	gw.Start(ctx)      // worker, connection supervisor
//	defer gw.Disconnect()
//
//	gw.ScheduleHardwareUpdate(device)
//
// # Errors
//
// Invalid addresses fail fast and are never retried. Checksum retries are
// bounded; once exhausted the worker treats the connection as broken,
// reconnects after a fixed interval and retries the same device update.
package cm11
