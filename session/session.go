// Package session drives conversation synchronization for one local
// identity: a poll loop that fetches and acknowledges new inbound
// messages, and a reconcile loop that refreshes delivery badges on the
// open conversation.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sealmsg/conversation"
	"sealmsg/logging"
	"sealmsg/messenger"
)

const (
	// DefaultPollInterval is how often the inbox is polled for new
	// messages.
	DefaultPollInterval = 5 * time.Second
	// DefaultReconcileInterval is how often delivery status of the open
	// conversation is re-checked.
	DefaultReconcileInterval = 10 * time.Second

	eventBuffer = 32
)

// Surface receives render output. Implementations must not call back
// into the session from these methods.
type Surface interface {
	ShowTimeline(timeline *conversation.Timeline)
	ShowError(message string)
}

// Event announces one newly fetched inbound message.
type Event struct {
	MessageID int64
	Sender    string
	Timestamp string
}

// Options tune the session's timers. Zero values select the defaults.
type Options struct {
	PollInterval      time.Duration
	ReconcileInterval time.Duration
}

// Session owns the sync state of one identity: the poll cursor, the
// selected conversation target and any extra recipients staged for the
// next send. All exported methods are safe for concurrent use.
type Session struct {
	messenger *messenger.Messenger
	assembler *conversation.Assembler
	surface   Surface
	log       zerolog.Logger

	pollInterval      time.Duration
	reconcileInterval time.Duration

	mu              sync.Mutex
	cursor          int64
	target          conversation.Target
	extraRecipients []string

	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New builds a session over a messenger and a render surface.
func New(m *messenger.Messenger, surface Surface, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}

	return &Session{
		messenger:         m,
		assembler:         conversation.NewAssembler(m, m.Identity()),
		surface:           surface,
		log:               logging.Component("session").With().Str("identity", m.Identity()).Logger(),
		pollInterval:      opts.PollInterval,
		reconcileInterval: opts.ReconcileInterval,
		events:            make(chan Event, eventBuffer),
		stop:              make(chan struct{}),
	}
}

// Events returns the stream of inbound message announcements. When the
// buffer is full new events are dropped, never blocking the poll loop.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Start launches the poll and reconcile timers.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info().
		Dur("poll_interval", s.pollInterval).
		Dur("reconcile_interval", s.reconcileInterval).
		Msg("session started")
}

// Stop halts the timers and waits for the loop to exit.
func (s *Session) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("session stopped")
}

func (s *Session) run() {
	defer s.wg.Done()

	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	reconcile := time.NewTicker(s.reconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-poll.C:
			s.Poll()
		case <-reconcile.C:
			s.Reconcile()
		}
	}
}

// Poll fetches every inbound message past the cursor, acknowledges
// delivery, advances the cursor and announces each message. The open
// conversation is re-rendered when one of the new messages belongs to
// it. A failed inbox query leaves the cursor untouched so the next tick
// retries the same window.
func (s *Session) Poll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, err := s.messenger.Inbox(s.cursor)
	if err != nil {
		s.log.Error().Err(err).Int64("cursor", s.cursor).Msg("inbox poll failed")
		return
	}
	if len(inbox) == 0 {
		return
	}

	rerender := false
	for _, message := range inbox {
		if err := s.messenger.MarkDelivered(message.ID); err != nil {
			s.log.Error().Err(err).Int64("message_id", message.ID).Msg("delivery ack failed")
		}
		if message.ID > s.cursor {
			s.cursor = message.ID
		}
		if s.target.Kind() == conversation.TargetContact && s.target.Contact() == message.Sender {
			rerender = true
		}

		s.emit(Event{
			MessageID: message.ID,
			Sender:    message.Sender,
			Timestamp: message.CreatedAt,
		})
	}

	s.log.Debug().Int("count", len(inbox)).Int64("cursor", s.cursor).Msg("fetched inbound messages")

	if rerender {
		s.renderLocked()
	}
}

// Reconcile re-renders the open direct conversation when the far side
// has fetched or read at least one of our messages. Group targets carry
// no per-recipient status and are skipped.
func (s *Session) Reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target.Kind() != conversation.TargetContact {
		return
	}

	count, err := s.messenger.DeliveredOrReadCount(s.target.Contact())
	if err != nil {
		s.log.Error().Err(err).Str("contact", s.target.Contact()).Msg("status reconcile failed")
		return
	}
	if count == 0 {
		return
	}

	s.renderLocked()
}

// Select switches the open conversation. Staged extra recipients are
// always cleared; selecting a contact also marks their messages read.
func (s *Session) Select(target conversation.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.target = target
	s.extraRecipients = nil

	if target.Kind() == conversation.TargetContact {
		if err := s.messenger.MarkConversationRead(target.Contact()); err != nil {
			s.log.Error().Err(err).Str("contact", target.Contact()).Msg("read ack failed")
		}
	}

	s.renderLocked()
}

// Target returns the currently selected conversation target.
func (s *Session) Target() conversation.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// AddRecipients stages additional recipients for the next direct send.
func (s *Session) AddRecipients(identities ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraRecipients = append(s.extraRecipients, identities...)
}

// Recipients returns the recipient set the next direct send would use,
// or nil when no contact is selected.
func (s *Session) Recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipientsLocked()
}

func (s *Session) recipientsLocked() []string {
	if s.target.Kind() != conversation.TargetContact {
		return nil
	}
	return conversation.BuildRecipientSet(s.target.Contact(), s.extraRecipients, s.messenger.Identity())
}

// Send posts text to the selected conversation and re-renders it. For a
// contact target the staged extra recipients are folded into the
// recipient set.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.target.Kind() {
	case conversation.TargetContact:
		if _, err := s.messenger.SendToRecipients(s.recipientsLocked(), text); err != nil {
			return err
		}
	case conversation.TargetGroup:
		if _, err := s.messenger.SendToGroup(s.target.GroupID(), text); err != nil {
			return err
		}
	default:
		return conversation.ErrNoTarget
	}

	s.renderLocked()
	return nil
}

// Refresh re-renders the selected conversation.
func (s *Session) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderLocked()
}

// Cursor reports the highest inbound message ID processed so far.
func (s *Session) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Session) renderLocked() {
	if s.target.IsZero() {
		return
	}

	timeline, err := s.assembler.Assemble(s.target)
	if err != nil {
		s.log.Error().Err(err).Msg("timeline assembly failed")
		s.surface.ShowError(err.Error())
		return
	}
	s.surface.ShowTimeline(timeline)
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		s.log.Warn().Int64("message_id", event.MessageID).Msg("event buffer full, dropping event")
	}
}
