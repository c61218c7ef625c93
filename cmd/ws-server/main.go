package main

import (
	"context"
	"log"
	"time"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/router"
	"support-desk-backend/internal/broadcast"
	"support-desk-backend/internal/database"
	"support-desk-backend/internal/env"
	internaljwt "support-desk-backend/internal/jwt"
	"support-desk-backend/internal/notify"
	"support-desk-backend/internal/queue"
	"support-desk-backend/internal/reaper"
	conversationservice "support-desk-backend/internal/service/conversation"
	"support-desk-backend/internal/websocket"
)

func main() {
	env.Require(env.AgentSecretKey, env.ParticipantKey, env.EventRedisURL)
	internaljwt.Configure()
	conversationservice.SetParticipantTokenSecret([]byte(env.Get(env.ParticipantKey)))

	queueManager := queue.NewRequestQueueManager(10, 10)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	broadcaster := broadcast.NewRedisBroadcaster(env.Get(env.EventRedisURL), env.Get(env.EventRedisPass))

	var sink notify.Sink
	if amqpURL := env.Get(env.NotifyAMQPURL); amqpURL != "" {
		rabbit, err := notify.NewRabbitSink(amqpURL, env.GetOrDefault(env.NotifyExchange, "support-desk.alerts"))
		if err != nil {
			log.Fatalf("amqp init failed: %v", err)
		}
		defer rabbit.Close()
		sink = rabbit
	}

	dispatcher := notify.NewDispatcher(broadcaster, sink)
	conversations := conversationservice.New(db, dispatcher)

	hub := websocket.NewHub()
	handler := websocket.NewHandler(hub, conversations, env.GetDuration(env.HandshakeTimeout, 5*time.Second))

	ctx := context.Background()
	go func() {
		if err := handler.RunFanout(ctx, broadcaster); err != nil {
			log.Printf("fanout stopped: %v", err)
		}
	}()

	idleReaper := reaper.New(
		conversations,
		env.GetDuration(env.ReaperInterval, 5*time.Minute),
		env.GetDuration(env.IdleThreshold, 20*time.Minute),
	)
	go idleReaper.Run(ctx)

	server := api.NewAPIServer(
		":83",
		queueManager,
		db,
		handler,
		router.UtilsRoutes("/api/ws/v1"),
		router.WebsocketRoutes("/api/ws/v1/ws"),
	)

	server.Run()
}
