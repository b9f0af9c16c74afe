package main

import (
	"log"
	"net/http"
	"os"

	ca "calendar-assistant"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := ca.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	storage, err := ca.NewStorage("file:" + cfg.DBPath + "?cache=shared&_fk=1")
	if err != nil {
		log.Fatalf("storage init: %v", err)
	}
	ca.SetAuditRepository(storage)

	wsManager := ca.NewWSManager()
	go wsManager.Run()

	// Build services
	proposer := ca.NewHTTPProposer(cfg.ProposerEndpoint, cfg.ProposerAPIKey, cfg.ProposerModel)
	assistant := ca.NewAssistantService(storage, storage, storage, storage, proposer)

	bot := ca.NewTelegramClient(cfg.TelegramBotToken)
	webhook := ca.NewWebhookHandler(storage, assistant, bot, cfg.Debug)

	dispatcher := ca.NewReminderDispatcher(storage, storage, bot, wsManager)
	if err := dispatcher.Start(cfg.ReminderCron); err != nil {
		log.Fatalf("reminder dispatcher: %v", err)
	}
	defer dispatcher.Stop()

	r := ca.NewRouter(storage, assistant, webhook, wsManager)

	ca.Logger().Info("listening", "addr", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, r); err != nil {
		log.Fatal(err)
	}
}
