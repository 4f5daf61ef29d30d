/******************************************************************************
 *
 *  Description :
 *
 *    Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	gh "github.com/gorilla/handlers"
	jcr "github.com/tinode/jsonco"

	"github.com/podgrid/notifier/server/concurrency"
	"github.com/podgrid/notifier/server/logs"
	"github.com/podgrid/notifier/server/store"

	// In-memory storage adapter.
	_ "github.com/podgrid/notifier/server/store/mem"
)

const (
	// currentVersion is the version of the server software.
	currentVersion = "0.4"

	// Default interval between sweeps of live connections against the store.
	defaultSweepInterval = time.Hour

	// Default number of concurrent delivery workers.
	defaultDeliveryWorkers = 16

	// Default maximum size of an inbound websocket frame.
	defaultMaxMessageSize = 1 << 18 // 262144
)

var globals struct {
	// Base URL this server is reachable at, no trailing slash. Channel ids
	// are minted under it.
	servingURL string

	// Live connection registries: websockets by channel id, streams by topic.
	sockReg   *connRegistry
	streamReg *connRegistry

	// The activity bus and the dispatcher subscribed to it.
	activityBus *activityBus
	dispatcher  *Dispatcher

	// Pool of delivery workers shared by the dispatcher.
	deliveryPool *concurrency.GoRoutinePool

	// Authorization hook consulted before a subscription is accepted.
	accessChecker AccessChecker

	// Shared secret guarding the activity ingest endpoint.
	activityKey string

	// Closed to stop the connection sweep.
	sweepDone chan bool

	// Maximum allowed size of an inbound websocket frame.
	maxMessageSize int64

	// Strict-Transport-Security max age, empty if disabled.
	tlsStrictMaxAge string

	// Channel for async stats updates.
	statsUpdate chan *varUpdate

	// Callback reporting storage stats through expvar.
	dbStats func() any
}

type configType struct {
	// HTTP(S) address:port to listen on.
	Listen string `json:"listen"`
	// Base URL the server is reachable at. Channel ids and the endpoints in
	// the discovery document are minted under it.
	ServingURL string `json:"serving_url"`
	// Shared secret guarding the activity ingest endpoint. Ingest is
	// disabled when empty.
	ActivityKey string `json:"activity_key"`
	// URL path where exposed runtime stats, "-" to disable.
	ExpvarPath string `json:"expvar"`
	// Maximum size of an inbound websocket frame.
	MaxMessageSize int64 `json:"max_message_size"`
	// Interval between sweeps of live connections, seconds.
	SweepInterval int `json:"sweep_interval"`
	// Number of concurrent delivery workers.
	DeliveryWorkers int `json:"delivery_workers"`

	Webhook struct {
		// Validity window of issued access tokens, seconds.
		TokenExpiry int `json:"token_expiry"`
		// Optional PEM file with the ES256 signing key. Generated at startup
		// when empty.
		KeyFile string `json:"key_file"`
	} `json:"webhook"`

	StoreConfig json.RawMessage `json:"store_config"`
	TLS         json.RawMessage `json:"tls"`
}

func main() {
	logs.Init()
	logs.Info.Printf("Notification server v%s pid=%d started", currentVersion, os.Getpid())

	configfile := flag.String("config", "./notifier.conf", "Path to config file.")
	listenOn := flag.String("listen", "", "Override address and port to listen on.")
	flag.Parse()

	logs.Info.Printf("Using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Err.Fatal("Failed to read config file: ", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Err.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}

	if err := store.Store.Open(1, config.StoreConfig); err != nil {
		logs.Err.Fatal("Failed to open channel store: ", err)
	}
	defer func() {
		store.Store.Close()
		logs.Info.Println("Closed channel store")
	}()
	logs.Info.Println("Channel store opened, adapter:", store.Store.GetAdapterName())

	globals.servingURL = strings.TrimSuffix(config.ServingURL, "/")
	if globals.servingURL == "" {
		globals.servingURL = "http://localhost" + config.Listen
	}
	globals.activityKey = config.ActivityKey
	globals.maxMessageSize = config.MaxMessageSize
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}

	workers := config.DeliveryWorkers
	if workers <= 0 {
		workers = defaultDeliveryWorkers
	}
	globals.deliveryPool = concurrency.NewGoRoutinePool(workers)

	globals.sockReg = newConnRegistry()
	globals.streamReg = newConnRegistry()
	globals.accessChecker = allowAllChecker{}
	globals.activityBus = newActivityBus()
	globals.dbStats = store.Store.DbStats()

	gen := &generator{resources: newHTTPResourceStore()}
	globals.dispatcher = newDispatcher(gen, globals.deliveryPool)

	keys := &keyStore{keyFile: config.Webhook.KeyFile}
	tokenExpiry := time.Duration(config.Webhook.TokenExpiry) * time.Second
	webhook := newWebhookEmitter(keys, globals.servingURL, tokenExpiry)

	globals.dispatcher.addEmitter(chanWebSocket, &websockEmitter{reg: globals.sockReg})
	globals.dispatcher.addEmitter(chanWebSocket2021, &websockEmitter{reg: globals.sockReg})
	globals.dispatcher.addEmitter(chanStreaming, &streamEmitter{reg: globals.streamReg})
	globals.dispatcher.addEmitter(chanWebhook, webhook)
	globals.dispatcher.addEmitter(chanWebhook2021, webhook)
	globals.dispatcher.start(globals.activityBus)

	mux := http.NewServeMux()
	statsInit(mux, config.ExpvarPath)
	statsRegisterInt("LiveWebsockets")
	statsRegisterInt("LiveStreams")
	statsRegisterInt("SubscriptionsTotal")
	statsRegisterInt("IncomingActivitiesTotal")
	statsRegisterInt("DeliveredNotificationsTotal")
	statsRegisterInt("FailedDeliveriesTotal")
	statsRegisterInt("OutgoingNotificationsWebsockTotal")
	statsRegisterInt("OutgoingNotificationsStreamTotal")
	statsRegisterInt("OutgoingNotificationsWebhookTotal")
	statsRegisterInt("WebhookRejectedTotal")
	statsRegisterInt("SweepClosedConnections")
	statsRegisterDbStats()

	mux.Handle(notificationsPrefix, hstsHandler(http.HandlerFunc(serveNotifications)))
	mux.Handle("/.activity", gh.CompressHandler(http.HandlerFunc(serveActivity)))

	sweepInterval := defaultSweepInterval
	if config.SweepInterval > 0 {
		sweepInterval = time.Duration(config.SweepInterval) * time.Second
	}
	globals.sweepDone = make(chan bool)
	go sweepLoop(sweepInterval, globals.sweepDone)

	if err := listenAndServe(config.Listen, mux, config.TLS, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
}
