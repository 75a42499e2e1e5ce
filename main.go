package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/sashabaranov/go-openai"

	"safetrail.app/server"
)

func main() {
	godotenv.Load()

	// durable session store, memory only if sqlite won't open
	dbPath := os.Getenv("SAFETRAIL_DB")
	if dbPath == "" {
		dbPath = "sessions.db"
	}
	if err := server.Default.Open(dbPath); err != nil {
		log.Printf("[store] Open(%s) failed: %v, using memory only", dbPath, err)
	}

	// expiry sweeper
	go server.Run()

	// contact alerts
	server.GetPushManager()

	// voice distress analysis
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		server.SetVoiceClient(openai.NewClient(key))
	} else {
		log.Printf("[voice] OPENAI_API_KEY not set, voice analysis disabled")
	}

	http.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			server.GetSessionHandler(w, r)
		case "POST":
			server.NewSessionHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 400)
		}
	})

	http.HandleFunc("/locations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "POST":
			server.PostLocationHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 400)
		}
	})

	http.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "POST":
			server.EndSessionHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 400)
		}
	})

	http.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			server.GetEventsHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 400)
		}
	})

	http.HandleFunc("/push/key", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			server.GetPushKeyHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 400)
		}
	})

	http.HandleFunc("/push/subscribe", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "POST":
			server.SubscribePushHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 400)
		}
	})

	http.HandleFunc("/voice", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "POST":
			server.AnalyzeVoiceHandler(w, r)
		default:
			http.Error(w, "unsupported method "+r.Method, 400)
		}
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	log.Printf("[server] Listening on :%s", port)
	if err := http.ListenAndServe(":"+port, server.WithCors(http.DefaultServeMux)); err != nil {
		log.Fatal(err)
	}
}
