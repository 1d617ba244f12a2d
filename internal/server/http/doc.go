// Package httpserver is the REST and streaming gateway for the order event
// core: JSON endpoints for publishing and health, and text/event-stream
// endpoints that hold a session open per connected viewer.
//
// Example:
//
//	pub := publisher.New(publisher.Options{Bus: b}, logger)
//	s := httpserver.New(httpserver.Options{
//		Publisher: pub,
//		Channel:   &session.BusChannel{Bus: b},
//		Auth:      resolver,
//		Logger:    logger,
//	})
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
