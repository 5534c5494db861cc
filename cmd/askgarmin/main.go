package main

import (
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/askmygarmin/backend/adapters/events"
	"github.com/askmygarmin/backend/adapters/registry"
	"github.com/askmygarmin/backend/adapters/sealer"
	"github.com/askmygarmin/backend/adapters/store"
	"github.com/askmygarmin/backend/garmin"
	"github.com/askmygarmin/backend/ports"
	"github.com/askmygarmin/backend/service"
	transport "github.com/askmygarmin/backend/transport/http"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	tokenSealer, err := sealer.FromEnv(os.Getenv("SESSION_KEY"), log)
	if err != nil {
		log.WithError(err).Fatal("could not initialize session crypto")
	}

	// Redis is optional: without it, memories live in process memory and
	// events go over the in-process pubsub.
	var (
		memoryStore ports.MemoryStore = store.NewMemoryStore()
		publisher   message.Publisher
	)
	wmLogger := watermill.NewStdLogger(false, false)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.WithError(err).Fatal("could not parse REDIS_URL")
		}
		redisClient := redis.NewClient(opts)
		memoryStore = store.NewRedisStore(redisClient)

		publisher, err = redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			log.WithError(err).Fatal("could not create redis publisher")
		}
		log.Info("using redis for memories and events")
	} else {
		publisher = gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		log.Warn("REDIS_URL not set; memories and events are process-local")
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Warn("ANTHROPIC_API_KEY not set; ask and memory detection are disabled")
	}

	provider := garmin.NewClient(os.Getenv("GARMIN_DOMAIN"), log)
	if key, secret := os.Getenv("GARMIN_CONSUMER_KEY"), os.Getenv("GARMIN_CONSUMER_SECRET"); key != "" && secret != "" {
		provider.WithConsumer(key, secret)
	}

	attempts := registry.New(10 * time.Minute)
	eventPub := events.NewWatermillPublisher(publisher)
	limiter := service.NewLoginLimiter()

	authService := service.NewAuthService(provider, attempts, tokenSealer, limiter, eventPub, log)
	memoryService := service.NewMemoryService(memoryStore, apiKey, log)
	askService := service.NewAskService(provider, memoryService, apiKey, log)

	router := transport.SetupRouter(authService, askService, memoryService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}
	log.WithField("port", port).Info("starting server")
	if err := router.Run(":" + port); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}
