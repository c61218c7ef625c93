package main

import (
	"log"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/router"
	"support-desk-backend/internal/broadcast"
	"support-desk-backend/internal/database"
	"support-desk-backend/internal/env"
	internaljwt "support-desk-backend/internal/jwt"
	"support-desk-backend/internal/notify"
	"support-desk-backend/internal/queue"
	authsvc "support-desk-backend/internal/service/auth"
	conversationservice "support-desk-backend/internal/service/conversation"
)

func main() {
	env.Require(env.AgentSecretKey, env.ParticipantKey, env.AuthRedisURL, env.EventRedisURL)
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
	auth := authsvc.New(db)

	server := api.NewAPIServer(
		":81",
		queueManager,
		db,
		nil,
		router.UtilsRoutes("/api/v1"),
		router.AuthRoutes("/api/v1", auth),
		router.ConversationAgentRoutes("/api/v1", conversations),
	)

	server.Run()
}
