package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sealmsg/config"
	"sealmsg/conversation"
	"sealmsg/crypto"
	"sealmsg/discovery"
	"sealmsg/logging"
	"sealmsg/messenger"
	"sealmsg/session"
	"sealmsg/storage"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logging.Fatal().Err(err).Msg("startup failed while loading config")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console"})
	log := logging.Component("main")

	keys, err := crypto.EnsureIdentityKeys(cfg.SigningKeyPath, cfg.AgreementKeyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed while preparing identity keys")
	}

	fmt.Printf("Identity:        %s\n", cfg.Identity)
	fmt.Printf("Session ID:      %s\n", cfg.SessionID)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(keys.Fingerprint()))
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed while opening database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	core, err := messenger.Open(cfg.Identity, store, keys)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed while binding identity to store")
	}

	sess := session.New(core, &consoleSurface{}, session.Options{
		PollInterval:      time.Duration(cfg.PollSeconds) * time.Second,
		ReconcileInterval: time.Duration(cfg.ReconcileSeconds) * time.Second,
	})
	sess.Start()
	defer sess.Stop()
	go logInboundEvents(sess.Events())

	if cfg.AnnouncePresence {
		presence, err := discovery.Start(discovery.Config{
			SessionID:    cfg.SessionID,
			Identity:     cfg.Identity,
			Port:         cfg.DiscoveryListenPort,
			Fingerprint:  keys.Fingerprint(),
			SigningKey:   crypto.EncodePublicKey(keys.SigningPublic()),
			AgreementKey: crypto.EncodePublicKey(keys.AgreementPublic().Bytes()),
		})
		if err != nil {
			log.Error().Err(err).Msg("discovery startup failed")
		} else {
			defer presence.Stop()
			fmt.Println("Discovery:       running")
			go registerDiscoveredPeers(core, presence.Scanner.Events())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

// consoleSurface renders assembled timelines to stdout.
type consoleSurface struct{}

func (consoleSurface) ShowTimeline(timeline *conversation.Timeline) {
	fmt.Printf("--- %s ---\n", timeline.Header)
	if len(timeline.Entries) == 0 {
		fmt.Println("(no messages yet)")
		return
	}
	for _, entry := range timeline.Entries {
		line := fmt.Sprintf("[%s] %s: %s", entry.TimeLabel, entry.Sender, entry.Text)
		if entry.HasBadge {
			line += " (" + entry.Badge.String() + ")"
		}
		fmt.Println(line)
	}
}

func (consoleSurface) ShowError(message string) {
	fmt.Printf("error: %s\n", message)
}

func logInboundEvents(events <-chan session.Event) {
	log := logging.Component("inbox")
	for event := range events {
		log.Info().
			Int64("message_id", event.MessageID).
			Str("sender", event.Sender).
			Str("timestamp", event.Timestamp).
			Msg("new message")
	}
}

// registerDiscoveredPeers turns presence announcements into contacts so
// conversations can be started without a manual key exchange.
func registerDiscoveredPeers(core *messenger.Messenger, events <-chan discovery.Event) {
	log := logging.Component("discovery")
	for event := range events {
		switch event.Type {
		case discovery.EventPeerSeen:
			if event.Peer.Identity == core.Identity() {
				continue
			}
			if event.Peer.SigningKey == "" || event.Peer.AgreementKey == "" {
				log.Debug().Str("identity", event.Peer.Identity).Msg("peer announced no keys, skipping")
				continue
			}
			if err := core.AddContact(event.Peer.Identity, event.Peer.SigningKey, event.Peer.AgreementKey); err != nil {
				log.Warn().Err(err).Str("identity", event.Peer.Identity).Msg("could not register discovered peer")
				continue
			}
			log.Info().
				Str("identity", event.Peer.Identity).
				Str("fingerprint", crypto.FormatFingerprint(event.Peer.Fingerprint)).
				Msg("peer registered as contact")
		case discovery.EventPeerLost:
			log.Info().Str("identity", event.Peer.Identity).Msg("peer gone")
		}
	}
}
