// Package mqtt is an MQTT client engine for protocol versions 3.1, 3.1.1
// and 5.0 over plain TCP and WebSocket, optionally through an HTTP or
// SOCKS5 proxy.
//
// # Packets
//
// Every control packet type has a struct implementing Packet. ReadPacket
// and WritePacket move packets over an io.Reader or io.Writer for a given
// ProtocolVersion; MQTT 5 properties live in Properties.
//
// # Registry
//
// A Registry owns sessions and the dispatch loop that reads frames, runs
// the QoS flows, sends keepalive pings and resends unacknowledged
// messages. Many clients can share one registry:
//
//	reg := mqtt.NewRegistry(mqtt.WithRegistryLogger(logger))
//	reg.Start()
//	defer reg.Shutdown()
//
//	client, err := mqtt.NewClient("tcp://localhost:1883", "sensor-1",
//	    mqtt.WithRegistry(reg),
//	    mqtt.WithKeepAlive(30),
//	)
//
// Without Start, blocking calls drive the loop themselves, which gives a
// single-threaded client. A client created without WithRegistry gets a
// private registry that is started for it.
//
// # Synchronous client
//
//	if err := client.Connect(10 * time.Second); err != nil {
//	    return err
//	}
//	id, err := client.Publish(&mqtt.Message{Topic: "a/b", Payload: data, QoS: mqtt.QoS1}, time.Second)
//	err = client.WaitForCompletion(id, 10*time.Second)
//
// Received messages go to the OnMessage handler. A handler returning false
// leaves the message queued and it is offered again later. Without a
// handler, Receive pulls messages one at a time.
//
// # Asynchronous client
//
// AsyncClient queues calls for a worker goroutine and returns a Token:
//
//	ac, err := mqtt.NewAsyncClient("ws://localhost:8080/mqtt", "sensor-1")
//	tok := ac.Publish(msg, mqtt.OnFailure(func(fd *mqtt.FailureData) {
//	    log.Printf("publish %d failed: %v", fd.PacketID, fd.Err)
//	}))
//	err = tok.Wait(ctx)
//
// # Persistence
//
// With CleanStart false, QoS 1 and 2 flows survive reconnects. A Store
// (MemoryStore, FileStore or the mongostore package) keeps them across
// process restarts.
//
// # TLS
//
// TLS endpoints (ssl://, mqtts://, wss://) are refused with
// ErrTLSNotSupported.
package mqtt
