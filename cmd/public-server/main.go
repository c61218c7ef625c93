package main

import (
	"log"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/router"
	"support-desk-backend/internal/broadcast"
	"support-desk-backend/internal/database"
	"support-desk-backend/internal/env"
	"support-desk-backend/internal/notify"
	"support-desk-backend/internal/queue"
	conversationservice "support-desk-backend/internal/service/conversation"
)

func main() {
	env.Require(env.ParticipantKey, env.EventRedisURL)
	conversationservice.SetParticipantTokenSecret([]byte(env.Get(env.ParticipantKey)))

	queueManager := queue.NewRequestQueueManager(10, 10)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	broadcaster := broadcast.NewRedisBroadcaster(env.Get(env.EventRedisURL), env.Get(env.EventRedisPass))
	dispatcher := notify.NewDispatcher(broadcaster, nil)
	conversations := conversationservice.New(db, dispatcher)

	server := api.NewAPIServer(
		":82",
		queueManager,
		db,
		nil,
		router.UtilsRoutes("/api/public/v1"),
		router.ConversationPublicRoutes("/api/public/v1", conversations),
	)

	server.Run()
}
