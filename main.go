package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/MicahParks/keyfunc"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/DigitalEpidemic/retro-tool-sub000/api"
	"github.com/DigitalEpidemic/retro-tool-sub000/board"
	"github.com/DigitalEpidemic/retro-tool-sub000/cards"
	"github.com/DigitalEpidemic/retro-tool-sub000/store"
	"github.com/DigitalEpidemic/retro-tool-sub000/timer"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(parseRedisOptions(redisConn))

	logger := log.New()

	var gateway store.Gateway
	switch backend := strings.ToLower(os.Getenv("STORE_BACKEND")); backend {
	case "", "redis":
		gateway = store.NewRedisStore(rc, logger)
	case "aztables":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		tableName := os.Getenv("BOARDS_TABLE")
		if connStr == "" || tableName == "" {
			log.Fatal("missing table storage config")
		}
		svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
		if err != nil {
			log.Fatalf("table storage: %v", err)
		}
		// Tables push nothing on their own; change notifications still ride
		// on redis pub/sub.
		notifier := store.NewRedisNotifier(rc, logger)
		gateway = store.NewTableStore(svc.NewClient(tableName), notifier, logger)
	default:
		log.Fatalf("unsupported STORE_BACKEND %q", backend)
	}

	var auth *api.Auth
	if os.Getenv("LOCAL_AUTH_MODE") != "" {
		auth = api.NewAuth(nil, "", "")
	} else {
		audience := os.Getenv("JWT_AUDIENCE")
		domainName := os.Getenv("JWT_DOMAIN")
		if audience == "" || domainName == "" {
			log.Fatal("missing auth config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domainName)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, audience, "https://"+domainName+"/")
	}

	clock := clockwork.NewRealClock()
	boards := board.NewService(gateway, clock, logger)
	cardSvc := cards.NewSynchronizer(gateway, boards, clock, logger)
	timerSvc := timer.NewController(boards, clock, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, boards, cardSvc, timerSvc, auth, nil, nil, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// parseRedisOptions accepts either a redis URL or the comma-separated
// host,key=value form managed Redis offerings hand out.
func parseRedisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
